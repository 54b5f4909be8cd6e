// Package engine implements the notification synchronization manager: the
// state machine that reconciles the durable outbound queue with inbound
// server notifications over one of two interchangeable channels, guaranteeing
// at most one concurrent exchange per account.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/donkynetwork/donky-core-go/internal/account"
	"github.com/donkynetwork/donky-core-go/internal/channel"
	"github.com/donkynetwork/donky-core-go/internal/dedup"
	"github.com/donkynetwork/donky-core-go/internal/dispatch"
	"github.com/donkynetwork/donky-core-go/internal/notification"
	"github.com/donkynetwork/donky-core-go/internal/retry"
	"github.com/donkynetwork/donky-core-go/internal/store"
	"github.com/donkynetwork/donky-core-go/pkg/observability"
)

var (
	// ErrSyncInProgress is returned to a second Synchronize call while an
	// exchange is running. It is a rejection, not a failure: the in-flight
	// cycle's rerun check picks up any work queued meanwhile.
	ErrSyncInProgress = errors.New("synchronization already in progress")
	// ErrNotRegistered is returned when the device holds no network identity.
	ErrNotRegistered = errors.New("device is not registered")
	// ErrNotInitialized is returned when the SDK was not fully configured.
	ErrNotInitialized = errors.New("sdk is not initialized")
	// ErrStopped is returned after StopSync until ResumeSync.
	ErrStopped = errors.New("synchronization is stopped")
)

// Manager drives the exchange cycle. All entry points funnel through one
// mutex-guarded admission check; everything else owns its own protection.
type Manager struct {
	queue      store.Queue
	gate       account.Gate
	rest       channel.Channel
	push       channel.Channel
	dispatcher *dispatch.Dispatcher
	dedup      dedup.Store
	scheduler  *retry.Scheduler
	logger     *slog.Logger
	tracer     trace.Tracer
	foreground func() bool

	retryConnectivity bool

	mu         sync.Mutex
	inProgress bool
	rerun      bool
	stopped    bool
	session    *Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithPushChannel supplies the opportunistic persistent channel, attempted
// first while the application is foregrounded.
func WithPushChannel(ch channel.Channel) Option {
	return func(m *Manager) { m.push = ch }
}

// WithForegroundFn supplies the app-state probe for push eligibility.
func WithForegroundFn(fn func() bool) Option {
	return func(m *Manager) { m.foreground = fn }
}

// WithConnectivityRetry makes the manager retry connectivity failures itself
// using the retry schedule, instead of surfacing them to the caller.
func WithConnectivityRetry() Option {
	return func(m *Manager) { m.retryConnectivity = true }
}

// WithLogger overrides the default discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(
	queue store.Queue,
	gate account.Gate,
	rest channel.Channel,
	dispatcher *dispatch.Dispatcher,
	dd dedup.Store,
	scheduler *retry.Scheduler,
	opts ...Option,
) *Manager {
	m := &Manager{
		queue:      queue,
		gate:       gate,
		rest:       rest,
		dispatcher: dispatcher,
		dedup:      dd,
		scheduler:  scheduler,
		logger:     observability.NopLogger(),
		tracer:     otel.Tracer(observability.TracerName),
		foreground: func() bool { return true },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsExchangeInProgress reports whether an exchange is currently running.
func (m *Manager) IsExchangeInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inProgress
}

// CurrentSession returns a copy of the active session, nil when idle.
func (m *Manager) CurrentSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// QueueOutbound persists a notification for the next exchange without
// triggering one.
func (m *Manager) QueueOutbound(ctx context.Context, n notification.Outbound) error {
	if err := m.queue.Enqueue(ctx, n); err != nil {
		return fmt.Errorf("queue outbound notification: %w", err)
	}
	m.updateQueueDepth(ctx)
	return nil
}

// QueueOutboundBatch persists a batch for the next exchange.
func (m *Manager) QueueOutboundBatch(ctx context.Context, ns []notification.Outbound) error {
	if err := m.queue.EnqueueBatch(ctx, ns); err != nil {
		return fmt.Errorf("queue outbound batch: %w", err)
	}
	m.updateQueueDepth(ctx)
	return nil
}

// SetRetrySchedule applies a server-pushed retry schedule. It overrides the
// default globally until overridden again or the process restarts.
func (m *Manager) SetRetrySchedule(schedule string) {
	m.scheduler.SetSchedule(schedule)
}

// ShouldIgnoreInbound exposes the duplicate buffer for diagnostics. Note the
// buffer records the ID on first sighting, exactly as the dispatch path does.
func (m *Manager) ShouldIgnoreInbound(id string) bool {
	return m.dedup.ShouldIgnore(context.Background(), id)
}

// RequestRerun asks the in-flight exchange to run one more cycle before
// returning to idle. It reports false when no exchange is running (callers
// should invoke Synchronize directly instead).
func (m *Manager) RequestRerun() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inProgress {
		return false
	}
	m.rerun = true
	return true
}

// StopSync prevents further exchanges until ResumeSync. Idempotent; calling
// it while idle just logs.
func (m *Manager) StopSync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inProgress {
		m.logger.Info("stop requested while synchronization is idle")
	}
	m.stopped = true
}

// ResumeSync lifts a StopSync.
func (m *Manager) ResumeSync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = false
}

// SynchronizeAsync runs one synchronization and reports the outcome on the
// returned channel. Validation detail travels inside the error; extract it
// with channel.ValidationFields.
func (m *Manager) SynchronizeAsync(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- m.Synchronize(ctx)
	}()
	return result
}

// Synchronize performs one synchronization: send everything queued, receive
// everything pending, dispatch, and repeat while there is more work. It
// blocks until the engine returns to idle.
//
// The manager imposes no deadline of its own on the round trip; ctx and the
// transport's configuration are the only bounds.
func (m *Manager) Synchronize(ctx context.Context) error {
	if err := m.checkGate(ctx); err != nil {
		return err
	}

	if err := m.begin(); err != nil {
		return err
	}

	reauthenticated := false
	for {
		more, err := m.runCycle(ctx)
		if err != nil {
			// An expired or suspended credential gets one transparent
			// recovery: re-authenticate and retry the same cycle.
			if channel.IsAuth(err) {
				if !reauthenticated {
					m.logger.Warn("credential rejected mid-exchange, re-authenticating")
					if authErr := m.gate.Authenticate(ctx); authErr == nil {
						reauthenticated = true
						continue
					}
				}
				// Rejected despite a fresh credential: flag the account so
				// the next attempt re-authenticates at the gate.
				m.gate.MarkSuspended()
			} else if m.retryConnectivity && (channel.IsConnectivity(err) || transientFailure(err)) {
				if waitErr := m.backoff(ctx); waitErr == nil {
					continue
				}
			}
			m.end()
			return err
		}
		m.scheduler.Reset()

		if !m.continueRunning(more) {
			return nil
		}
		m.logger.Debug("more work pending, rerunning exchange")
	}
}

// continueRunning decides, in one critical section, whether the work loop
// runs another cycle. A false return has already transitioned the manager to
// idle under the same lock, so a concurrent RequestRerun observing
// inProgress is guaranteed its rerun actually runs.
func (m *Manager) continueRunning(more bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rerun := m.rerun
	m.rerun = false
	if m.stopped {
		if more || rerun {
			m.logger.Info("synchronization stopped, skipping pending rerun")
		}
		m.endLocked()
		return false
	}
	if more || rerun {
		return true
	}
	m.endLocked()
	return false
}

// checkGate enforces the admission rules: initialized, registered, not
// suspended. Suspension triggers one authentication recovery before the
// caller sees a failure.
func (m *Manager) checkGate(ctx context.Context) error {
	if !m.gate.IsInitialized() {
		return ErrNotInitialized
	}
	if !m.gate.IsRegistered() {
		return ErrNotRegistered
	}
	if m.gate.IsSuspended() {
		m.logger.Warn("account suspended, attempting re-authentication")
		if err := m.gate.Authenticate(ctx); err != nil {
			return fmt.Errorf("re-authentication failed: %w", err)
		}
	}
	return nil
}

func (m *Manager) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.inProgress {
		m.logger.Debug("exchange already in progress, dropping request")
		return ErrSyncInProgress
	}
	m.inProgress = true
	m.rerun = false
	m.session = newSession()
	m.logger.Debug("exchange started", "session", m.session.ID)
	return nil
}

func (m *Manager) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endLocked()
}

func (m *Manager) endLocked() {
	m.inProgress = false
	m.rerun = false
	m.session = nil
}

// runCycle performs one round trip and reports whether the server signaled
// more inbound work or the queue still has pending items.
func (m *Manager) runCycle(ctx context.Context) (more bool, err error) {
	ctx, span := m.tracer.Start(ctx, "donky.exchange")
	defer span.End()

	outbound, err := m.queue.ListAll(ctx)
	if err != nil {
		return false, fmt.Errorf("list outbound queue: %w", err)
	}
	sentIDs := make([]string, len(outbound))
	for i, n := range outbound {
		sentIDs[i] = n.ID
	}
	span.SetAttributes(attribute.Int("outbound.count", len(outbound)))

	start := time.Now()
	ch := m.selectChannel()
	result, err := ch.Exchange(ctx, outbound)
	if err != nil && ch != m.rest {
		// Primary/fallback, not duplication: the push attempt failed, so the
		// same logical exchange moves to the REST channel.
		m.logger.Warn("push exchange failed, falling back to rest", "error", err)
		ch = m.rest
		result, err = ch.Exchange(ctx, outbound)
	}
	observability.ExchangeLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		if channel.IsConnectivity(err) {
			// Queue intact: these notifications ride the next attempt.
			observability.ExchangesTotal.WithLabelValues("connectivity_error", ch.Name()).Inc()
			return false, err
		}
		if channel.IsAuth(err) {
			// Recoverable through re-authentication; the retried cycle
			// resends the same batch.
			observability.ExchangesTotal.WithLabelValues("auth_error", ch.Name()).Inc()
			return false, err
		}
		if transientFailure(err) {
			// Server-side transient failure (5xx, 429): keep the queue and
			// let the retry schedule drive the next attempt.
			observability.ExchangesTotal.WithLabelValues("server_error", ch.Name()).Inc()
			return false, err
		}
		// Terminal rejection: drop the sent batch anyway so a permanently
		// rejected notification cannot poison every future exchange.
		observability.ExchangesTotal.WithLabelValues("rejected", ch.Name()).Inc()
		if removeErr := m.queue.RemoveByIDs(ctx, sentIDs); removeErr != nil {
			m.logger.Error("failed to drop rejected batch", "error", removeErr)
		}
		m.updateQueueDepth(ctx)
		return false, err
	}

	// Remove exactly the batch that went out; anything enqueued during the
	// round trip survives and feeds the rerun check below.
	if err := m.queue.RemoveByIDs(ctx, sentIDs); err != nil {
		return false, fmt.Errorf("remove sent notifications: %w", err)
	}
	m.updateQueueDepth(ctx)

	if len(result.FailedOutboundIDs) > 0 {
		m.logger.Warn("server rejected individual notifications",
			"count", len(result.FailedOutboundIDs))
	}

	m.dispatcher.Process(ctx, result.Inbound, dispatch.DeliverAuto)
	observability.ExchangesTotal.WithLabelValues("success", ch.Name()).Inc()
	span.SetAttributes(
		attribute.Int("inbound.count", len(result.Inbound)),
		attribute.Bool("more_available", result.MoreAvailable),
	)

	pending, err := m.queue.HasPending(ctx)
	if err != nil {
		m.logger.Error("failed to check pending queue", "error", err)
		pending = false
	}
	return pending || result.MoreAvailable, nil
}

// transientFailure reports whether a failed exchange carried an HTTP status
// worth retrying (5xx, 408, 429). Connectivity and auth failures have their
// own branches; everything else is a terminal rejection.
func transientFailure(err error) bool {
	var ee *channel.ExchangeError
	if !errors.As(err, &ee) || ee.Status == 0 {
		return false
	}
	return retry.Retriable(ee.Status)
}

// selectChannel prefers the push channel while it is connected and the app is
// foregrounded; REST is the universal fallback.
func (m *Manager) selectChannel() channel.Channel {
	if m.push != nil && m.push.Available() && m.foreground() {
		return m.push
	}
	return m.rest
}

// backoff waits out the retry schedule's current delay, honoring ctx. It
// returns an error when the schedule is exhausted.
func (m *Manager) backoff(ctx context.Context) error {
	if !m.scheduler.Advance() {
		return fmt.Errorf("retry schedule exhausted")
	}
	delay := m.scheduler.Delay()
	m.logger.Info("connectivity failure, retrying exchange", "delay", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) updateQueueDepth(ctx context.Context) {
	if all, err := m.queue.ListAll(ctx); err == nil {
		observability.OutboundQueueDepth.Set(float64(len(all)))
	}
}
