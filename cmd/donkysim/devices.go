package main

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/donkynetwork/donky-core-go/internal/notification"
)

// pageSize caps how many pending notifications one synchronise returns;
// anything beyond it sets moreNotificationsAvailable.
const pageSize = 10

// device is one registered device's simulator-side state.
type device struct {
	id         string
	secretHash string

	mu      sync.Mutex
	pending []notification.Inbound
	stream  *websocket.Conn

	// writeMu serializes frame writes; the stream handler and pending pings
	// share one connection.
	writeMu sync.Mutex
}

// deviceRegistry is the simulator's in-memory account store.
type deviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*device
}

func newDeviceRegistry() *deviceRegistry {
	return &deviceRegistry{devices: make(map[string]*device)}
}

func (r *deviceRegistry) register(id, secret string) (*device, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing device secret: %w", err)
	}
	d := &device{id: id, secretHash: string(hash)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[id]; exists {
		return nil, fmt.Errorf("device %s already registered", id)
	}
	r.devices[id] = d
	return d, nil
}

func (r *deviceRegistry) get(id string) (*device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

func (d *device) checkSecret(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(d.secretHash), []byte(secret)) == nil
}

// enqueue adds an inbound notification to the device's pending list.
func (d *device) enqueue(n notification.Inbound) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, n)
}

// page pops up to pageSize pending notifications and reports whether more
// remain.
func (d *device) page() ([]notification.Inbound, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.pending)
	if n == 0 {
		return nil, false
	}
	if n > pageSize {
		n = pageSize
	}
	out := make([]notification.Inbound, n)
	copy(out, d.pending[:n])
	d.pending = d.pending[n:]
	return out, len(d.pending) > 0
}

func (d *device) setStream(conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		d.stream.Close()
	}
	d.stream = conn
}

func (d *device) clearStream(conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == conn {
		d.stream = nil
	}
}

// currentStream returns the device's live push connection, nil when offline.
func (d *device) currentStream() *websocket.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// writeFrame sends one JSON frame on conn under the device's write lock.
func (d *device) writeFrame(conn *websocket.Conn, v any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return conn.WriteJSON(v)
}
