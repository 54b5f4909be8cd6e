// Package dispatch routes inbound server notifications to registered
// subscribers and generates delivery acknowledgements. It never raises
// channel-level errors: a bad notification is logged and skipped, the rest of
// the batch continues.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/donkynetwork/donky-core-go/internal/dedup"
	"github.com/donkynetwork/donky-core-go/internal/notification"
	"github.com/donkynetwork/donky-core-go/internal/store"
	"github.com/donkynetwork/donky-core-go/pkg/observability"
)

// DeliveryMode overrides where subscriber callbacks run.
type DeliveryMode int

const (
	// DeliverAuto applies the default policy: Donky-category callbacks run
	// inline on the sync goroutine, Custom-category callbacks run on the
	// application executor.
	DeliverAuto DeliveryMode = iota
	// DeliverInline forces all callbacks onto the calling goroutine.
	DeliverInline
	// DeliverExecutor forces all callbacks onto the application executor.
	DeliverExecutor
)

// Dispatcher fans one exchange's inbound batch out to subscribers.
type Dispatcher struct {
	dedup    dedup.Store
	registry *notification.Registry
	queue    store.Queue
	exec     Executor
	logger   *slog.Logger
}

func NewDispatcher(dd dedup.Store, registry *notification.Registry, queue store.Queue, exec Executor, logger *slog.Logger) *Dispatcher {
	if exec == nil {
		exec = InlineExecutor{}
	}
	return &Dispatcher{
		dedup:    dd,
		registry: registry,
		queue:    queue,
		exec:     exec,
		logger:   logger,
	}
}

// resolved caches the category and base type computed once at intake; all
// routing and dedup decisions downstream use these values.
type resolved struct {
	n        notification.Inbound
	category notification.Category
	baseType string
}

type groupKey struct {
	category notification.Category
	baseType string
}

// Process routes a batch of inbound notifications. Duplicates are skipped
// entirely: their acknowledgement went out on first sighting.
func (d *Dispatcher) Process(ctx context.Context, batch []notification.Inbound, mode DeliveryMode) {
	if len(batch) == 0 {
		return
	}

	items := d.resolve(ctx, batch)
	if len(items) == 0 {
		return
	}

	// Partition by (category, baseType), preserving arrival order within a
	// group and the order in which groups first appear.
	var order []groupKey
	groups := make(map[groupKey][]resolved)
	for _, it := range items {
		key := groupKey{it.category, it.baseType}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], it)
	}

	// Acknowledgements are queued for the next exchange before any
	// subscriber runs, so a crashing callback cannot lose the receipt.
	var acks []notification.Outbound
	subsByGroup := make(map[groupKey][]notification.Subscription, len(order))
	for _, key := range order {
		subs := d.registry.ForType(key.category, key.baseType)
		subsByGroup[key] = subs
		covered := d.multiTypeCovers(key)
		for _, it := range groups[key] {
			if ack, ok := d.acknowledge(it, subs, covered); ok {
				acks = append(acks, ack)
			}
		}
	}
	if len(acks) > 0 {
		if err := d.queue.EnqueueBatch(ctx, acks); err != nil {
			d.logger.Error("failed to queue acknowledgements", "count", len(acks), "error", err)
		}
	}

	for _, key := range order {
		group := groups[key]
		for _, sub := range subsByGroup[key] {
			d.deliver(sub, group, mode)
		}
		observability.NotificationsDispatched.WithLabelValues(string(key.category)).Add(float64(len(group)))
	}

	// Multi-type subscribers receive the per-category subset matching their
	// type set, in addition to any single-type deliveries above.
	d.deliverMultiType(items, mode)
}

// resolve computes category/base type once per notification, consults the
// duplicate buffer, and drops anything malformed or already processed.
func (d *Dispatcher) resolve(ctx context.Context, batch []notification.Inbound) []resolved {
	items := make([]resolved, 0, len(batch))
	for _, n := range batch {
		baseType, err := n.BaseType()
		if err != nil {
			// Skipped without an acknowledgement: the dedup buffer has not
			// recorded the ID, so a later redelivery gets another chance.
			d.logger.Error("dropping malformed notification", "id", n.ID, "type", n.Type, "error", err)
			continue
		}
		if d.dedup.ShouldIgnore(ctx, n.ID) {
			d.logger.Debug("suppressing duplicate notification", "id", n.ID, "type", baseType)
			observability.DuplicatesSuppressed.Inc()
			continue
		}
		items = append(items, resolved{n: n, category: n.Category(), baseType: baseType})
	}
	return items
}

// acknowledge applies the auto-ack policy: acknowledge unless exactly one
// subscription exists for this type and it opted out. Several modules may
// listen to the same type; only a sole listener may take manual control.
// multiTypeCovered reports whether a multi-type subscription also delivers
// this group, which upgrades the result even without a single-type listener.
func (d *Dispatcher) acknowledge(it resolved, subs []notification.Subscription, multiTypeCovered bool) (notification.Outbound, bool) {
	if len(subs) == 1 && !subs[0].AutoAcknowledge && !multiTypeCovered {
		return notification.Outbound{}, false
	}
	result := notification.ResultDelivered
	if len(subs) == 0 && !multiTypeCovered {
		result = notification.ResultDeliveredNoSubscription
	}
	return notification.NewAcknowledgement(&it.n, it.baseType, result), true
}

// multiTypeCovers reports whether any multi-type subscription in the group's
// category covers its base type.
func (d *Dispatcher) multiTypeCovers(key groupKey) bool {
	for _, sub := range d.registry.MultiType(key.category) {
		if subCovers(sub, key.baseType) {
			return true
		}
	}
	return false
}

// deliver invokes one subscription with a group, batch handler first, else
// one call per notification in arrival order.
func (d *Dispatcher) deliver(sub notification.Subscription, group []resolved, mode DeliveryMode) {
	ns := make([]notification.Inbound, len(group))
	for i, it := range group {
		ns[i] = it.n
	}

	run := func() {
		if sub.BatchHandler != nil {
			d.invokeBatch(sub.BatchHandler, ns)
			return
		}
		if sub.Handler != nil {
			for _, n := range ns {
				d.invoke(sub.Handler, n)
			}
		}
	}

	if d.inline(group[0].category, mode) {
		run()
	} else {
		d.exec.Do(run)
	}
}

func (d *Dispatcher) deliverMultiType(items []resolved, mode DeliveryMode) {
	var categories []notification.Category
	byCategory := make(map[notification.Category][]resolved)
	for _, it := range items {
		if _, ok := byCategory[it.category]; !ok {
			categories = append(categories, it.category)
		}
		byCategory[it.category] = append(byCategory[it.category], it)
	}

	for _, cat := range categories {
		for _, sub := range d.registry.MultiType(cat) {
			var subset []resolved
			for _, it := range byCategory[cat] {
				if subCovers(sub, it.baseType) {
					subset = append(subset, it)
				}
			}
			if len(subset) > 0 {
				d.deliver(sub, subset, mode)
			}
		}
	}
}

func subCovers(sub notification.Subscription, baseType string) bool {
	for _, t := range sub.Types {
		if t == baseType {
			return true
		}
	}
	return false
}

// inline decides the delivery thread: Donky traffic stays on the sync
// goroutine, Custom traffic goes to the app executor, unless overridden.
func (d *Dispatcher) inline(category notification.Category, mode DeliveryMode) bool {
	switch mode {
	case DeliverInline:
		return true
	case DeliverExecutor:
		return false
	default:
		return category == notification.CategoryDonky
	}
}

// invoke and invokeBatch isolate subscriber panics: one broken callback must
// not take down the batch or the sync loop.
func (d *Dispatcher) invoke(h notification.Handler, n notification.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscriber panicked", "id", n.ID, "panic", r)
		}
	}()
	h(n)
}

func (d *Dispatcher) invokeBatch(h notification.BatchHandler, ns []notification.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("batch subscriber panicked", "count", len(ns), "panic", r)
		}
	}()
	h(ns)
}
