// Package donky is the client SDK for the Donky messaging network. A Client
// owns one account's synchronization engine: a durable outbound queue, the
// REST and push exchange channels, the inbound dispatcher, and the retry
// machinery, constructed per instance with no global state.
package donky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/donkynetwork/donky-core-go/internal/account"
	"github.com/donkynetwork/donky-core-go/internal/channel"
	"github.com/donkynetwork/donky-core-go/internal/dedup"
	"github.com/donkynetwork/donky-core-go/internal/dispatch"
	"github.com/donkynetwork/donky-core-go/internal/engine"
	"github.com/donkynetwork/donky-core-go/internal/notification"
	"github.com/donkynetwork/donky-core-go/internal/retry"
	"github.com/donkynetwork/donky-core-go/internal/store"
	"github.com/donkynetwork/donky-core-go/pkg/observability"
)

const DefaultBaseURL = "https://client-api.mobiledonky.com"

// Categories and delivery results re-exported for subscribers.
const (
	CategoryCustom = notification.CategoryCustom
	CategoryDonky  = notification.CategoryDonky
)

// Inbound is the notification type delivered to subscribers.
type Inbound = notification.Inbound

// Outbound is a client-generated notification destined for the network.
type Outbound = notification.Outbound

// Subscription registers interest in inbound notification types.
type Subscription = notification.Subscription

// Client is the SDK entry point.
type Client struct {
	baseURL    string
	pushURL    string
	apiKey     string
	deviceID   string
	httpClient *http.Client
	logger     *slog.Logger

	gate       *account.TokenGate
	queue      store.Queue
	ownedQueue io.Closer
	sqlitePath string
	pgDSN      string
	registry   *notification.Registry
	dedup      dedup.Store
	redisDedup *redis.Client
	redisTTL   time.Duration
	executor   *dispatch.SerialExecutor
	push       *channel.PushChannel
	manager    *engine.Manager

	foreground atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different network endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithPushURL enables the persistent push channel at the given websocket URL.
func WithPushURL(url string) ClientOption {
	return func(c *Client) { c.pushURL = url }
}

// WithHTTPClient sets a custom HTTP client; its timeout is the only transport
// deadline the SDK applies.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithQueue substitutes a caller-owned outbound queue implementation. The
// caller closes it; prefer WithSQLiteQueue or WithPostgresQueue unless a
// custom implementation is needed. The default is in-memory.
func WithQueue(q store.Queue) ClientOption {
	return func(c *Client) { c.queue = q }
}

// WithSQLiteQueue stores the outbound queue in a SQLite database at path, so
// queued notifications survive process restarts. The client owns the database
// and closes it on Close.
func WithSQLiteQueue(path string) ClientOption {
	return func(c *Client) { c.sqlitePath = path }
}

// WithPostgresQueue stores the outbound queue in Postgres, for server-side
// embedders that already run one. The client owns the connection and closes
// it on Close.
func WithPostgresQueue(dsn string) ClientOption {
	return func(c *Client) { c.pgDSN = dsn }
}

// WithRedisDedup backs duplicate suppression with Redis so multiple processes
// sharing one device identity suppress consistently. A ttl of zero keeps seen
// IDs for 24 hours. The caller owns the Redis client.
func WithRedisDedup(client *redis.Client, ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.redisDedup = client
		c.redisTTL = ttl
	}
}

// WithLogger enables structured logging.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithDedupStore substitutes the duplicate-suppression store (e.g. the
// Redis-backed one for multi-process device identities).
func WithDedupStore(s dedup.Store) ClientOption {
	return func(c *Client) { c.dedup = s }
}

// NewClient builds an SDK client for one account.
func NewClient(apiKey, deviceID string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" || deviceID == "" {
		return nil, fmt.Errorf("donky: apiKey and deviceID are required")
	}

	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		deviceID: deviceID,
		logger:   observability.NopLogger(),
		registry: notification.NewRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.foreground.Store(true)

	c.gate = account.NewTokenGate(c.baseURL, c.apiKey, c.deviceID, c.httpClient, c.logger)
	if c.queue == nil {
		switch {
		case c.sqlitePath != "":
			q, err := store.NewSQLiteQueue(c.sqlitePath)
			if err != nil {
				return nil, fmt.Errorf("donky: open outbound queue: %w", err)
			}
			c.queue = q
			c.ownedQueue = q
		case c.pgDSN != "":
			q, err := store.NewPostgresQueue(c.pgDSN)
			if err != nil {
				return nil, fmt.Errorf("donky: open outbound queue: %w", err)
			}
			c.queue = q
			c.ownedQueue = q
		default:
			c.queue = store.NewMemoryQueue()
		}
	}
	if c.dedup == nil {
		if c.redisDedup != nil {
			c.dedup = dedup.NewRedisStore(c.redisDedup, c.redisTTL, c.logger)
		} else {
			c.dedup = dedup.NewBuffer()
		}
	}
	c.executor = dispatch.NewSerialExecutor()

	dispatcher := dispatch.NewDispatcher(c.dedup, c.registry, c.queue, c.executor, c.logger)
	scheduler := retry.NewScheduler(retry.DefaultSchedule, c.logger)

	var restOpts []channel.RESTOption
	if c.httpClient != nil {
		restOpts = append(restOpts, channel.WithHTTPClient(c.httpClient))
	}
	restOpts = append(restOpts, channel.WithBackgroundFn(func() bool { return !c.foreground.Load() }))
	rest := channel.NewRESTChannel(c.baseURL, c.apiKey, c.gate, c.logger, restOpts...)

	managerOpts := []engine.Option{
		engine.WithLogger(c.logger),
		engine.WithForegroundFn(c.foreground.Load),
		engine.WithConnectivityRetry(),
	}
	if c.pushURL != "" {
		c.push = channel.NewPushChannel(c.pushURL, c.apiKey, c.gate, c.logger)
		managerOpts = append(managerOpts, engine.WithPushChannel(c.push))
	}

	c.manager = engine.NewManager(c.queue, c.gate, rest, dispatcher, c.dedup, scheduler, managerOpts...)

	if c.push != nil {
		// Unsolicited pending signals from the stream trigger a sync; the
		// in-progress check debounces bursts.
		c.push.SetPendingHandler(func() {
			go func() {
				if err := c.manager.Synchronize(context.Background()); err != nil && err != engine.ErrSyncInProgress {
					c.logger.Warn("push-triggered synchronization failed", "error", err)
				}
			}()
		})
	}

	return c, nil
}

// Register authenticates the device with the network. It must succeed once
// before Synchronize will run.
func (c *Client) Register(ctx context.Context) error {
	return c.gate.Authenticate(ctx)
}

// ConnectPush dials the persistent push stream, when configured.
func (c *Client) ConnectPush(ctx context.Context) error {
	if c.push == nil {
		return fmt.Errorf("donky: no push URL configured")
	}
	return c.push.Connect(ctx)
}

// SetForeground records the application state; the push channel is only
// attempted while foregrounded.
func (c *Client) SetForeground(fg bool) {
	c.foreground.Store(fg)
}

// Subscribe registers a handler for one notification type. It returns the
// unsubscribe function; subscriptions otherwise last the process lifetime.
func (c *Client) Subscribe(sub Subscription) (unsubscribe func()) {
	return c.registry.Subscribe(sub)
}

// SendContent queues a content notification for the next exchange.
func (c *Client) SendContent(ctx context.Context, customType string, payload any) error {
	body, err := json.Marshal(struct {
		CustomType string `json:"customType"`
		Content    any    `json:"content,omitempty"`
	}{CustomType: customType, Content: payload})
	if err != nil {
		return fmt.Errorf("donky: encode content: %w", err)
	}
	return c.manager.QueueOutbound(ctx, notification.NewOutbound("SendContent", body))
}

// Queue persists an outbound notification without triggering an exchange.
func (c *Client) Queue(ctx context.Context, n Outbound) error {
	return c.manager.QueueOutbound(ctx, n)
}

// QueueBatch persists a batch of outbound notifications.
func (c *Client) QueueBatch(ctx context.Context, ns []Outbound) error {
	return c.manager.QueueOutboundBatch(ctx, ns)
}

// Synchronize runs one blocking synchronization cycle (plus any reruns the
// cycle itself decides on).
func (c *Client) Synchronize(ctx context.Context) error {
	return c.manager.Synchronize(ctx)
}

// SynchronizeAsync runs a synchronization in the background and reports the
// outcome on the returned channel.
func (c *Client) SynchronizeAsync(ctx context.Context) <-chan error {
	return c.manager.SynchronizeAsync(ctx)
}

// IsSynchronizing reports whether an exchange is in flight.
func (c *Client) IsSynchronizing() bool {
	return c.manager.IsExchangeInProgress()
}

// SetRetrySchedule applies a network-pushed retry schedule.
func (c *Client) SetRetrySchedule(schedule string) {
	c.manager.SetRetrySchedule(schedule)
}

// StopSync halts synchronization until ResumeSync.
func (c *Client) StopSync() { c.manager.StopSync() }

// ResumeSync lifts a StopSync.
func (c *Client) ResumeSync() { c.manager.ResumeSync() }

// Close releases the client's resources. In-flight subscriber callbacks are
// drained first. A queue supplied via WithQueue stays open; its owner closes
// it. Queues the client opened itself (WithSQLiteQueue, WithPostgresQueue)
// are closed here.
func (c *Client) Close() error {
	c.executor.Close()
	var err error
	if c.push != nil {
		err = c.push.Close()
	}
	if c.ownedQueue != nil {
		if qerr := c.ownedQueue.Close(); err == nil {
			err = qerr
		}
	}
	return err
}
