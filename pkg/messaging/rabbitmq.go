// Package messaging holds the broker plumbing for the network side of the
// SDK: a reconnecting RabbitMQ bus fanning pending-notification signals out
// to per-device queues, and a Kafka journal of completed exchanges.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// BusConfig holds configuration for the push-delivery bus.
type BusConfig struct {
	URL string

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxRetries        int // -1 for infinite

	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// DefaultBusConfig returns the resilience defaults.
func DefaultBusConfig(url string) BusConfig {
	return BusConfig{
		URL:               url,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 60 * time.Second,
		MaxRetries:        -1,
		BreakerThreshold:  5,
		BreakerTimeout:    30 * time.Second,
	}
}

// Bus is a reconnecting RabbitMQ client dedicated to device push delivery.
// Each registered device gets a durable queue; publishing a pending signal to
// it wakes whichever stream connection the device currently holds.
type Bus struct {
	config BusConfig
	logger *slog.Logger

	mu              sync.RWMutex
	conn            *amqp.Connection
	ch              *amqp.Channel
	notifyConnClose chan *amqp.Error
	isReconnecting  bool
	isClosed        bool

	breaker *breaker
}

func NewBus(config BusConfig, logger *slog.Logger) (*Bus, error) {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.MaxReconnectDelay == 0 {
		config.MaxReconnectDelay = 60 * time.Second
	}

	b := &Bus{
		config: config,
		logger: logger,
		breaker: &breaker{
			threshold: config.BreakerThreshold,
			timeout:   config.BreakerTimeout,
		},
	}
	if err := b.connect(); err != nil {
		return nil, err
	}
	go b.handleReconnect()
	return b, nil
}

func (b *Bus) connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Info("connecting to push bus", "url", maskURL(b.config.URL))
	conn, err := amqp.Dial(b.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	b.conn = conn
	b.ch = ch
	b.notifyConnClose = make(chan *amqp.Error)
	b.conn.NotifyClose(b.notifyConnClose)
	b.isReconnecting = false

	b.logger.Info("push bus connected")
	return nil
}

func (b *Bus) handleReconnect() {
	b.mu.RLock()
	if b.isClosed {
		b.mu.RUnlock()
		return
	}
	notifyClose := b.notifyConnClose
	b.mu.RUnlock()

	err := <-notifyClose
	if err != nil {
		b.logger.Warn("push bus connection closed, reconnecting", "error", err)
		b.reconnect()
	}
}

func (b *Bus) reconnect() {
	b.mu.Lock()
	b.isReconnecting = true
	b.mu.Unlock()

	backoff := b.config.ReconnectDelay
	retries := 0
	for {
		b.mu.RLock()
		if b.isClosed {
			b.mu.RUnlock()
			return
		}
		maxRetries := b.config.MaxRetries
		b.mu.RUnlock()

		if maxRetries != -1 && retries >= maxRetries {
			b.logger.Error("push bus reconnection abandoned, max retries reached")
			return
		}

		if err := b.connect(); err == nil {
			go b.handleReconnect()
			return
		}

		b.logger.Info("push bus reconnect failed, backing off", "delay", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > b.config.MaxReconnectDelay {
			backoff = b.config.MaxReconnectDelay
		}
		retries++
	}
}

// deviceQueue names the durable queue carrying one device's pending signals.
func deviceQueue(deviceID string) string {
	return "device.pending." + deviceID
}

// DeclareDeviceQueue ensures the durable per-device queue exists.
func (b *Bus) DeclareDeviceQueue(deviceID string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ch == nil {
		return fmt.Errorf("channel is not initialized")
	}
	_, err := b.ch.QueueDeclare(
		deviceQueue(deviceID),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

// PublishPending signals the device that notifications are waiting.
func (b *Bus) PublishPending(ctx context.Context, deviceID string, body []byte) error {
	if b.config.BreakerThreshold > 0 && !b.breaker.allow() {
		return fmt.Errorf("push bus circuit breaker is open")
	}

	b.mu.RLock()
	if b.isReconnecting || b.ch == nil {
		b.mu.RUnlock()
		return fmt.Errorf("push bus connection is not available")
	}
	ch := b.ch
	b.mu.RUnlock()

	err := ch.PublishWithContext(ctx,
		"",                    // default exchange
		deviceQueue(deviceID), // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})

	if b.config.BreakerThreshold > 0 {
		if err != nil {
			b.breaker.recordFailure()
		} else {
			b.breaker.recordSuccess()
		}
	}
	return err
}

// ConsumeDevice delivers one device's pending signals to handler until ctx is
// cancelled, surviving reconnects.
func (b *Bus) ConsumeDevice(ctx context.Context, deviceID string, handler func(body []byte) error) error {
	queueName := deviceQueue(deviceID)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		b.mu.RLock()
		if b.isReconnecting || b.ch == nil {
			b.mu.RUnlock()
			time.Sleep(time.Second)
			continue
		}
		ch := b.ch
		b.mu.RUnlock()

		msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
		if err != nil {
			b.logger.Warn("failed to register device consumer", "queue", queueName, "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

		closed := false
		for !closed {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-msgs:
				if !ok {
					// Channel closed, likely a lost connection.
					b.logger.Info("device consumer channel closed, waiting for reconnect", "queue", queueName)
					time.Sleep(b.config.ReconnectDelay)
					closed = true
					continue
				}
				if err := handler(d.Body); err != nil {
					b.logger.Warn("pending signal handler failed, requeueing", "error", err)
					d.Nack(false, true)
				} else {
					d.Ack(false)
				}
			}
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isClosed = true
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) IsHealthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil && !b.conn.IsClosed() && !b.isReconnecting
}

func maskURL(url string) string {
	if parts := strings.Split(url, "@"); len(parts) > 1 {
		prefixParts := strings.Split(parts[0], "://")
		if len(prefixParts) == 2 {
			return prefixParts[0] + "://***:***@" + parts[1]
		}
	}
	return url
}

// breaker is a minimal circuit breaker over publish failures.
type breaker struct {
	mu          sync.Mutex
	open        bool
	failures    int
	threshold   int
	timeout     time.Duration
	lastFailure time.Time
}

func (cb *breaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return true
	}
	// Allow a probe once the cool-off elapsed.
	return time.Since(cb.lastFailure) > cb.timeout
}

func (cb *breaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.open = false
	cb.failures = 0
}

func (cb *breaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.threshold {
		cb.open = true
	}
}
