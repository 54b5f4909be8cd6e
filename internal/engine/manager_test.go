package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/donkynetwork/donky-core-go/internal/channel"
	"github.com/donkynetwork/donky-core-go/internal/dedup"
	"github.com/donkynetwork/donky-core-go/internal/dispatch"
	"github.com/donkynetwork/donky-core-go/internal/notification"
	"github.com/donkynetwork/donky-core-go/internal/retry"
	"github.com/donkynetwork/donky-core-go/internal/store"
	"github.com/donkynetwork/donky-core-go/pkg/observability"
)

// fakeGate satisfies account.Gate with settable state.
type fakeGate struct {
	mu            sync.Mutex
	initialized   bool
	registered    bool
	suspended     bool
	authErr       error
	authenticates int
}

func newFakeGate() *fakeGate {
	return &fakeGate{initialized: true, registered: true}
}

func (g *fakeGate) IsInitialized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initialized
}

func (g *fakeGate) IsRegistered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registered
}

func (g *fakeGate) IsSuspended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suspended
}

func (g *fakeGate) MarkSuspended() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended = true
}

func (g *fakeGate) Authenticate(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authenticates++
	if g.authErr != nil {
		return g.authErr
	}
	g.suspended = false
	return nil
}

// exchangeCall records what one fake exchange saw and how it answered.
type exchangeCall struct {
	outboundIDs []string
}

// fakeChannel scripts a sequence of exchange outcomes.
type fakeChannel struct {
	mu         sync.Mutex
	name       string
	available  bool
	results    []*channel.Result
	errs       []error
	calls      []exchangeCall
	delay      time.Duration
	onExchange func(call int)
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, available: true}
}

// script appends one outcome to the sequence. The last outcome repeats once
// the script runs out.
func (c *fakeChannel) script(result *channel.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
	c.errs = append(c.errs, err)
}

func (c *fakeChannel) Exchange(ctx context.Context, outbound []notification.Outbound) (*channel.Result, error) {
	c.mu.Lock()
	ids := make([]string, len(outbound))
	for i, n := range outbound {
		ids[i] = n.ID
	}
	c.calls = append(c.calls, exchangeCall{outboundIDs: ids})
	idx := len(c.calls) - 1
	if idx >= len(c.results) {
		idx = len(c.results) - 1
	}
	var result *channel.Result
	var err error
	if idx >= 0 {
		result, err = c.results[idx], c.errs[idx]
	} else {
		result = &channel.Result{}
	}
	delay := c.delay
	hook := c.onExchange
	call := len(c.calls) - 1
	c.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, channel.NewConnectivityError(ctx.Err())
		}
	}
	return result, err
}

func (c *fakeChannel) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeChannel) call(i int) exchangeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[i]
}

type fixture struct {
	manager  *Manager
	queue    *store.MemoryQueue
	gate     *fakeGate
	rest     *fakeChannel
	registry *notification.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	queue := store.NewMemoryQueue()
	gate := newFakeGate()
	rest := newFakeChannel("rest")
	registry := notification.NewRegistry()
	logger := observability.NopLogger()
	dispatcher := dispatch.NewDispatcher(dedup.NewBuffer(), registry, queue, dispatch.InlineExecutor{}, logger)
	scheduler := retry.NewScheduler(retry.DefaultSchedule, logger)
	opts = append([]Option{WithLogger(logger)}, opts...)
	m := NewManager(queue, gate, rest, dispatcher, dedup.NewBuffer(), scheduler, opts...)
	return &fixture{manager: m, queue: queue, gate: gate, rest: rest, registry: registry}
}

func queuedTypes(t *testing.T, q *store.MemoryQueue) []string {
	t.Helper()
	all, err := q.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	var types []string
	for _, n := range all {
		types = append(types, n.Type)
	}
	return types
}

func TestSynchronize_EmptyQueueStillExchanges(t *testing.T) {
	f := newFixture(t)
	f.rest.script(&channel.Result{}, nil)

	if err := f.manager.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if got := f.rest.callCount(); got != 1 {
		t.Fatalf("exchanges = %d, want 1 (empty-send is how inbound gets picked up)", got)
	}
	if len(f.rest.call(0).outboundIDs) != 0 {
		t.Errorf("exchange carried %d outbound items, want 0", len(f.rest.call(0).outboundIDs))
	}
}

func TestSynchronize_SendsQueueAndRemovesSent(t *testing.T) {
	f := newFixture(t)
	f.rest.script(&channel.Result{}, nil)

	ctx := context.Background()
	a := notification.NewOutbound("A", nil)
	b := notification.NewOutbound("B", nil)
	f.manager.QueueOutbound(ctx, a)
	f.manager.QueueOutbound(ctx, b)

	if err := f.manager.Synchronize(ctx); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	sent := f.rest.call(0).outboundIDs
	if len(sent) != 2 || sent[0] != a.ID || sent[1] != b.ID {
		t.Errorf("sent %v, want [%s %s] in queue order", sent, a.ID, b.ID)
	}
	if types := queuedTypes(t, f.queue); len(types) != 0 {
		t.Errorf("queue after success = %v, want empty", types)
	}
}

func TestSynchronize_ConcurrentCallsCollapseToOneExchange(t *testing.T) {
	f := newFixture(t)
	f.rest.delay = 500 * time.Millisecond
	f.rest.script(&channel.Result{}, nil)

	done := make(chan error, 1)
	go func() { done <- f.manager.Synchronize(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for !f.manager.IsExchangeInProgress() {
		if time.Now().After(deadline) {
			t.Fatal("exchange never started")
		}
		time.Sleep(time.Millisecond)
	}

	// Every call while the exchange is in flight is turned away, never queued.
	var wg sync.WaitGroup
	var mu sync.Mutex
	rejected := 0
	for i := 0; i < 7; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.manager.Synchronize(context.Background()); errors.Is(err, ErrSyncInProgress) {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := <-done; err != nil {
		t.Fatalf("winning Synchronize failed: %v", err)
	}
	if got := f.rest.callCount(); got != 1 {
		t.Errorf("exchanges = %d, want 1", got)
	}
	if rejected != 7 {
		t.Errorf("rejected calls = %d, want 7", rejected)
	}
}

func TestSynchronize_RerunPicksUpMidFlightWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := notification.NewOutbound("D", nil)
	enqueued := false
	f.rest.delay = 20 * time.Millisecond
	f.rest.script(&channel.Result{}, nil)

	done := make(chan error, 1)
	go func() { done <- f.manager.Synchronize(ctx) }()

	// Wait for the exchange to be in flight, then queue D and request a rerun.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.manager.IsExchangeInProgress() {
			f.manager.QueueOutbound(ctx, d)
			if !f.manager.RequestRerun() {
				t.Error("RequestRerun returned false while exchange in progress")
			}
			enqueued = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !enqueued {
		t.Fatal("exchange never started")
	}

	if err := <-done; err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if got := f.rest.callCount(); got != 2 {
		t.Fatalf("exchanges = %d, want 2 (original + rerun)", got)
	}
	second := f.rest.call(1).outboundIDs
	if len(second) != 1 || second[0] != d.ID {
		t.Errorf("rerun sent %v, want exactly [%s]", second, d.ID)
	}
	if types := queuedTypes(t, f.queue); len(types) != 0 {
		t.Errorf("queue after rerun = %v, want empty", types)
	}
}

func TestSynchronize_MoreAvailableLoopsUntilDrained(t *testing.T) {
	f := newFixture(t)
	f.rest.script(&channel.Result{MoreAvailable: true}, nil)
	f.rest.script(&channel.Result{MoreAvailable: true}, nil)
	f.rest.script(&channel.Result{}, nil)

	if err := f.manager.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if got := f.rest.callCount(); got != 3 {
		t.Errorf("exchanges = %d, want 3", got)
	}
}

func TestSynchronize_ConnectivityFailurePreservesQueue(t *testing.T) {
	f := newFixture(t) // no WithConnectivityRetry: failure surfaces
	f.rest.script(nil, channel.NewConnectivityError(errors.New("dial tcp: no route to host")))

	ctx := context.Background()
	a := notification.NewOutbound("A", nil)
	f.manager.QueueOutbound(ctx, a)

	err := f.manager.Synchronize(ctx)
	if !channel.IsConnectivity(err) {
		t.Fatalf("err = %v, want a connectivity error", err)
	}
	if types := queuedTypes(t, f.queue); len(types) != 1 || types[0] != "A" {
		t.Errorf("queue after connectivity failure = %v, want [A]", types)
	}
}

func TestSynchronize_RejectionDropsSentBatch(t *testing.T) {
	f := newFixture(t)
	f.rest.script(nil, &channel.ExchangeError{Status: http.StatusBadRequest, Err: errors.New("validation failed")})

	ctx := context.Background()
	f.manager.QueueOutbound(ctx, notification.NewOutbound("Poison", nil))

	err := f.manager.Synchronize(ctx)
	if err == nil {
		t.Fatal("Synchronize succeeded, want a rejection error")
	}
	if channel.IsConnectivity(err) {
		t.Fatal("rejection misclassified as connectivity")
	}
	// The rejected batch must not ride every future exchange.
	if types := queuedTypes(t, f.queue); len(types) != 0 {
		t.Errorf("queue after rejection = %v, want empty", types)
	}
}

func TestSynchronize_ServerErrorPreservesQueue(t *testing.T) {
	f := newFixture(t) // no WithConnectivityRetry: failure surfaces
	f.rest.script(nil, &channel.ExchangeError{Status: http.StatusServiceUnavailable, Err: errors.New("maintenance window")})

	ctx := context.Background()
	a := notification.NewOutbound("A", nil)
	f.manager.QueueOutbound(ctx, a)

	err := f.manager.Synchronize(ctx)
	if err == nil {
		t.Fatal("Synchronize succeeded, want a server error")
	}
	// A 503 is not a rejection of the batch: it must survive for the retry.
	if types := queuedTypes(t, f.queue); len(types) != 1 || types[0] != "A" {
		t.Errorf("queue after 503 = %v, want [A]", types)
	}
}

func TestSynchronize_ServerErrorRetriedOnSchedule(t *testing.T) {
	f := newFixture(t, WithConnectivityRetry())
	f.manager.SetRetrySchedule("0,2|0,1")
	f.rest.script(nil, &channel.ExchangeError{Status: http.StatusInternalServerError, Err: errors.New("boom")})
	f.rest.script(&channel.Result{}, nil)

	ctx := context.Background()
	a := notification.NewOutbound("A", nil)
	f.manager.QueueOutbound(ctx, a)

	if err := f.manager.Synchronize(ctx); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if got := f.rest.callCount(); got != 2 {
		t.Fatalf("exchanges = %d, want 2 (500 then retried send)", got)
	}
	retried := f.rest.call(1).outboundIDs
	if len(retried) != 1 || retried[0] != a.ID {
		t.Errorf("retried exchange sent %v, want [%s]", retried, a.ID)
	}
}

func TestSynchronize_AuthErrorRecoversOnce(t *testing.T) {
	f := newFixture(t)
	f.rest.script(nil, &channel.ExchangeError{Status: http.StatusUnauthorized, Err: errors.New("token expired")})
	f.rest.script(&channel.Result{}, nil)

	ctx := context.Background()
	a := notification.NewOutbound("A", nil)
	f.manager.QueueOutbound(ctx, a)

	if err := f.manager.Synchronize(ctx); err != nil {
		t.Fatalf("Synchronize failed after recovery: %v", err)
	}
	if f.gate.authenticates != 1 {
		t.Errorf("authenticates = %d, want 1", f.gate.authenticates)
	}
	if got := f.rest.callCount(); got != 2 {
		t.Fatalf("exchanges = %d, want 2 (failed + retried)", got)
	}
	// The retried cycle resends the batch the rejected one carried.
	second := f.rest.call(1).outboundIDs
	if len(second) != 1 || second[0] != a.ID {
		t.Errorf("retried cycle sent %v, want [%s]", second, a.ID)
	}
}

func TestSynchronize_AuthErrorRecoversOnlyOnce(t *testing.T) {
	f := newFixture(t)
	authErr := &channel.ExchangeError{Status: http.StatusUnauthorized, Err: errors.New("token expired")}
	f.rest.script(nil, authErr)
	f.rest.script(nil, authErr)

	err := f.manager.Synchronize(context.Background())
	if !channel.IsAuth(err) {
		t.Fatalf("err = %v, want the auth error surfaced", err)
	}
	if got := f.rest.callCount(); got != 2 {
		t.Errorf("exchanges = %d, want 2 (no second recovery)", got)
	}
	if !f.gate.IsSuspended() {
		t.Error("account not marked suspended after recovery failed")
	}
}

func TestSynchronize_SuspendedAccountReauthenticatesAtGate(t *testing.T) {
	f := newFixture(t)
	f.gate.suspended = true
	f.rest.script(&channel.Result{}, nil)

	if err := f.manager.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if f.gate.authenticates != 1 {
		t.Errorf("authenticates = %d, want 1", f.gate.authenticates)
	}
}

func TestSynchronize_GateRejections(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		f := newFixture(t)
		f.gate.initialized = false
		if err := f.manager.Synchronize(context.Background()); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("err = %v, want ErrNotInitialized", err)
		}
	})
	t.Run("not registered", func(t *testing.T) {
		f := newFixture(t)
		f.gate.registered = false
		if err := f.manager.Synchronize(context.Background()); !errors.Is(err, ErrNotRegistered) {
			t.Errorf("err = %v, want ErrNotRegistered", err)
		}
	})
	t.Run("suspended and re-auth fails", func(t *testing.T) {
		f := newFixture(t)
		f.gate.suspended = true
		f.gate.authErr = errors.New("account disabled")
		if err := f.manager.Synchronize(context.Background()); err == nil {
			t.Error("Synchronize succeeded for a suspended account")
		}
	})
}

func TestSynchronize_StoppedUntilResumed(t *testing.T) {
	f := newFixture(t)
	f.rest.script(&channel.Result{}, nil)

	f.manager.StopSync()
	if err := f.manager.Synchronize(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if got := f.rest.callCount(); got != 0 {
		t.Fatalf("exchanges while stopped = %d, want 0", got)
	}

	f.manager.ResumeSync()
	if err := f.manager.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize after resume failed: %v", err)
	}
}

func TestSynchronize_PushPreferredAndFallsBackToRest(t *testing.T) {
	push := newFakeChannel("push")
	push.script(nil, channel.NewConnectivityError(errors.New("websocket closed")))
	f := newFixture(t, WithPushChannel(push))
	f.rest.script(&channel.Result{}, nil)

	if err := f.manager.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if push.callCount() != 1 {
		t.Errorf("push exchanges = %d, want 1", push.callCount())
	}
	if f.rest.callCount() != 1 {
		t.Errorf("rest fallback exchanges = %d, want 1", f.rest.callCount())
	}
}

func TestSynchronize_PushSkippedInBackground(t *testing.T) {
	push := newFakeChannel("push")
	push.script(&channel.Result{}, nil)
	foreground := false
	f := newFixture(t, WithPushChannel(push), WithForegroundFn(func() bool { return foreground }))
	f.rest.script(&channel.Result{}, nil)

	if err := f.manager.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if push.callCount() != 0 {
		t.Errorf("push used in background, exchanges = %d", push.callCount())
	}
	if f.rest.callCount() != 1 {
		t.Errorf("rest exchanges = %d, want 1", f.rest.callCount())
	}
}

func TestSynchronize_ConnectivityRetryUsesSchedule(t *testing.T) {
	f := newFixture(t, WithConnectivityRetry())
	f.manager.SetRetrySchedule("0,2|0,1")
	f.rest.script(nil, channel.NewConnectivityError(errors.New("down")))
	f.rest.script(nil, channel.NewConnectivityError(errors.New("down")))
	f.rest.script(&channel.Result{}, nil)

	if err := f.manager.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if got := f.rest.callCount(); got != 3 {
		t.Errorf("exchanges = %d, want 3 (two retried failures, then success)", got)
	}
}

func TestSynchronize_ConnectivityRetryExhaustsSchedule(t *testing.T) {
	f := newFixture(t, WithConnectivityRetry())
	f.manager.SetRetrySchedule("0,1")
	f.rest.script(nil, channel.NewConnectivityError(errors.New("down")))

	err := f.manager.Synchronize(context.Background())
	if !channel.IsConnectivity(err) {
		t.Fatalf("err = %v, want the connectivity error after exhaustion", err)
	}
	// One initial attempt plus one scheduled retry.
	if got := f.rest.callCount(); got != 2 {
		t.Errorf("exchanges = %d, want 2", got)
	}
}

func TestSynchronize_InboundDispatchedToSubscribers(t *testing.T) {
	f := newFixture(t)

	var got []string
	f.registry.Subscribe(notification.Subscription{
		Category:        notification.CategoryCustom,
		Types:           []string{"orderUpdate"},
		AutoAcknowledge: true,
		Handler:         func(n notification.Inbound) { got = append(got, n.ID) },
	})

	data, _ := json.Marshal(map[string]string{"customType": "orderUpdate"})
	f.rest.script(&channel.Result{
		Inbound: []notification.Inbound{{ID: "srv-1", Type: "Custom", Data: data}},
	}, nil)
	// The ack queued by dispatch makes HasPending true, forcing one more
	// cycle that carries it out.
	f.rest.script(&channel.Result{}, nil)

	if err := f.manager.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if len(got) != 1 || got[0] != "srv-1" {
		t.Errorf("deliveries = %v, want [srv-1]", got)
	}
	if got := f.rest.callCount(); got != 2 {
		t.Fatalf("exchanges = %d, want 2 (ack rides a follow-up cycle)", got)
	}
	second := f.rest.call(1).outboundIDs
	if len(second) != 1 {
		t.Errorf("follow-up cycle sent %d items, want the single acknowledgement", len(second))
	}
	if types := queuedTypes(t, f.queue); len(types) != 0 {
		t.Errorf("queue after ack delivery = %v, want empty", types)
	}
}

func TestSynchronize_NoManagerDeadline(t *testing.T) {
	f := newFixture(t)
	f.rest.delay = 150 * time.Millisecond
	f.rest.script(&channel.Result{}, nil)

	// A round trip slower than any plausible internal timeout still
	// completes; only ctx bounds the call.
	start := time.Now()
	if err := f.manager.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("returned after %v, before the transport finished", elapsed)
	}
}

func TestSynchronize_ContextCancellationSurfaces(t *testing.T) {
	f := newFixture(t)
	f.rest.delay = time.Second
	f.rest.script(&channel.Result{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := f.manager.Synchronize(ctx)
	if err == nil {
		t.Fatal("Synchronize ignored context cancellation")
	}
}

func TestSynchronizeAsync_DeliversResult(t *testing.T) {
	f := newFixture(t)
	f.rest.script(&channel.Result{}, nil)

	select {
	case err := <-f.manager.SynchronizeAsync(context.Background()):
		if err != nil {
			t.Fatalf("async synchronize failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("async result never arrived")
	}
}

func TestRequestRerun_FalseWhenIdle(t *testing.T) {
	f := newFixture(t)
	if f.manager.RequestRerun() {
		t.Error("RequestRerun returned true with no exchange running")
	}
}

func TestRequestRerun_GrantAlwaysRunsAnotherCycle(t *testing.T) {
	f := newFixture(t)
	f.rest.script(&channel.Result{}, nil)

	// The second grant lands in the cycle whose completion would otherwise
	// end the exchange. A true return is a promise: that cycle must run.
	grants := 0
	f.rest.onExchange = func(call int) {
		if call < 2 && f.manager.RequestRerun() {
			grants++
		}
	}

	if err := f.manager.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if grants != 2 {
		t.Fatalf("grants = %d, want 2 (exchange was in progress both times)", grants)
	}
	if got := f.rest.callCount(); got != 3 {
		t.Fatalf("exchanges = %d, want 3 (one per granted rerun)", got)
	}
	if f.manager.RequestRerun() {
		t.Error("RequestRerun granted while idle")
	}
}

func TestCurrentSession_TracksLifecycle(t *testing.T) {
	f := newFixture(t)
	f.rest.delay = 50 * time.Millisecond
	f.rest.script(&channel.Result{}, nil)

	if f.manager.CurrentSession() != nil {
		t.Fatal("session reported while idle")
	}

	done := make(chan struct{})
	go func() {
		f.manager.Synchronize(context.Background())
		close(done)
	}()

	var seen bool
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s := f.manager.CurrentSession(); s != nil {
			if s.ID == "" {
				t.Error("session has no identity")
			}
			seen = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	<-done

	if !seen {
		t.Error("session never observable during the exchange")
	}
	if f.manager.CurrentSession() != nil {
		t.Error("session survived the exchange")
	}
}

func TestQueueOutboundBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch := []notification.Outbound{
		notification.NewOutbound("A", nil),
		notification.NewOutbound("B", nil),
	}
	if err := f.manager.QueueOutboundBatch(ctx, batch); err != nil {
		t.Fatalf("QueueOutboundBatch failed: %v", err)
	}
	if types := queuedTypes(t, f.queue); fmt.Sprint(types) != "[A B]" {
		t.Errorf("queue = %v, want [A B]", types)
	}
}
