package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/donkynetwork/donky-core-go/internal/notification"
	"github.com/donkynetwork/donky-core-go/pkg/jsonutil"
	"github.com/donkynetwork/donky-core-go/pkg/messaging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// server is the simulated Donky network.
type server struct {
	registry  *deviceRegistry
	jwtSecret []byte
	logger    *slog.Logger

	// optional infrastructure; each nil when not configured
	bus     *messaging.Bus
	journal *messaging.Journal
	redis   *redis.Client
}

type registerRequest struct {
	DeviceID     string `json:"deviceId"`
	DeviceSecret string `json:"deviceSecret"`
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.DeviceSecret == "" {
		jsonutil.WriteErrorJSON(w, "deviceId and deviceSecret are required")
		return
	}

	if _, err := s.registry.register(req.DeviceID, req.DeviceSecret); err != nil {
		jsonutil.WriteErrorJSON(w, err.Error())
		return
	}
	if s.bus != nil {
		if err := s.bus.DeclareDeviceQueue(req.DeviceID); err != nil {
			s.logger.Warn("failed to declare device queue", "device", req.DeviceID, "error", err)
		}
	}

	s.logger.Info("device registered", "device", req.DeviceID)
	jsonutil.WriteJSON(w, http.StatusCreated, map[string]string{"deviceId": req.DeviceID})
}

type tokenRequest struct {
	DeviceID string `json:"deviceId"`
	APIKey   string `json:"apiKey"`
}

func (s *server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		jsonutil.WriteErrorJSON(w, "deviceId is required")
		return
	}
	d, ok := s.registry.get(req.DeviceID)
	if !ok || !d.checkSecret(req.APIKey) {
		http.Error(w, "unknown device or bad key", http.StatusUnauthorized)
		return
	}

	expiresOn := time.Now().Add(24 * time.Hour)
	claims := jwt.MapClaims{
		"sub": req.DeviceID,
		"exp": jwt.NewNumericDate(expiresOn),
		"iat": jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		http.Error(w, "failed to sign token", http.StatusInternalServerError)
		return
	}

	jsonutil.WriteJSON(w, http.StatusOK, map[string]any{
		"accessToken": token,
		"expiresOn":   expiresOn,
	})
}

// authenticate resolves the device from the bearer token.
func (s *server) authenticate(r *http.Request) (*device, bool) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, false
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, false
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return nil, false
	}
	return s.registryLookup(sub)
}

func (s *server) registryLookup(id string) (*device, bool) {
	return s.registry.get(id)
}

type syncRequest struct {
	ClientNotifications []notification.Outbound `json:"clientNotifications"`
	IsBackground        bool                    `json:"isBackground"`
}

type syncResponse struct {
	ServerNotifications         []notification.Inbound `json:"serverNotifications"`
	MoreNotificationsAvailable  bool                   `json:"moreNotificationsAvailable"`
	FailedClientNotificationIDs []string               `json:"failedClientNotificationIds,omitempty"`
}

func (s *server) handleSynchronise(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonutil.WriteErrorJSON(w, "malformed synchronise request")
		return
	}

	resp := s.exchange(r.Context(), d, req.ClientNotifications)
	jsonutil.WriteJSON(w, http.StatusOK, resp)
}

// exchange applies one synchronise round trip against a device's state,
// shared between the REST endpoint and the push stream.
func (s *server) exchange(ctx context.Context, d *device, outbound []notification.Outbound) *syncResponse {
	var failed []string
	for _, n := range outbound {
		if n.Type == notification.TypeAcknowledgement && n.Ack != nil {
			if s.ackAlreadyRecorded(ctx, n.Ack.ServerNotificationID) {
				continue
			}
			s.logger.Debug("acknowledgement recorded",
				"device", d.id, "serverNotification", n.Ack.ServerNotificationID, "result", n.Ack.Result)
			continue
		}
		if n.Type == "" {
			failed = append(failed, n.ID)
			continue
		}
		s.logger.Debug("client notification accepted", "device", d.id, "type", n.Type)
	}

	inbound, more := d.page()
	if s.journal != nil {
		err := s.journal.Record(ctx, messaging.ExchangeRecord{
			DeviceID:      d.id,
			OutboundCount: len(outbound),
			InboundCount:  len(inbound),
			MoreAvailable: more,
			CompletedAt:   time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("failed to journal exchange", "device", d.id, "error", err)
		}
	}

	return &syncResponse{
		ServerNotifications:         inbound,
		MoreNotificationsAvailable:  more,
		FailedClientNotificationIDs: failed,
	}
}

// ackAlreadyRecorded deduplicates acknowledgements across simulator restarts
// when Redis is configured.
func (s *server) ackAlreadyRecorded(ctx context.Context, serverNotificationID string) bool {
	if s.redis == nil {
		return false
	}
	set, err := s.redis.SetNX(ctx, "donkysim:ack:"+serverNotificationID, 1, 24*time.Hour).Result()
	if err != nil {
		s.logger.Warn("ack idempotency check failed", "error", err)
		return false
	}
	return !set
}

type injectRequest struct {
	DeviceID string          `json:"deviceId"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
}

// handleInject lets tests push a server notification at a device.
func (s *server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.Type == "" {
		jsonutil.WriteErrorJSON(w, "deviceId and type are required")
		return
	}
	d, ok := s.registry.get(req.DeviceID)
	if !ok {
		jsonutil.WriteErrorJSON(w, "unknown device")
		return
	}

	n := notification.Inbound{
		ID:        uuid.New().String(),
		Type:      req.Type,
		CreatedOn: time.Now().UTC(),
		Data:      req.Data,
	}
	d.enqueue(n)
	s.signalPending(r.Context(), d)

	jsonutil.WriteJSON(w, http.StatusAccepted, map[string]string{"id": n.ID})
}

// signalPending wakes the device: through the bus when configured (the
// per-device consumer pings the stream), directly otherwise.
func (s *server) signalPending(ctx context.Context, d *device) {
	if s.bus != nil {
		if err := s.bus.PublishPending(ctx, d.id, []byte(`{"reason":"notification"}`)); err != nil {
			s.logger.Warn("failed to publish pending signal", "device", d.id, "error", err)
		}
		return
	}
	s.pingStream(d)
}

// pingStream sends a NotificationPending frame to the device's stream.
func (s *server) pingStream(d *device) {
	conn := d.currentStream()
	if conn == nil {
		return
	}
	frame := map[string]string{"type": "NotificationPending"}
	if err := d.writeFrame(conn, frame); err != nil {
		s.logger.Debug("failed to ping device stream", "device", d.id, "error", err)
	}
}

type pushFrame struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "device", d.id, "error", err)
		return
	}
	d.setStream(conn)
	defer d.clearStream(conn)
	s.logger.Info("device stream connected", "device", d.id)

	if s.bus != nil {
		consumeCtx, cancelConsume := context.WithCancel(r.Context())
		defer cancelConsume()
		go func() {
			err := s.bus.ConsumeDevice(consumeCtx, d.id, func([]byte) error {
				s.pingStream(d)
				return nil
			})
			if err != nil {
				s.logger.Warn("device consumer stopped", "device", d.id, "error", err)
			}
		}()
	}

	for {
		var frame pushFrame
		if err := conn.ReadJSON(&frame); err != nil {
			s.logger.Info("device stream closed", "device", d.id, "error", err)
			return
		}
		if frame.Type != "Synchronise" {
			continue
		}

		var req syncRequest
		if err := json.Unmarshal(frame.Body, &req); err != nil {
			s.logger.Warn("malformed synchronise frame", "device", d.id, "error", err)
			continue
		}
		resp := s.exchange(r.Context(), d, req.ClientNotifications)
		body, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("failed to encode synchronise response", "error", err)
			continue
		}
		err = d.writeFrame(conn, pushFrame{ID: frame.ID, Type: "SynchroniseResponse", Body: body})
		if err != nil {
			s.logger.Warn("failed to write synchronise response", "device", d.id, "error", err)
			return
		}
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]string{
		"status":  "active",
		"service": "donkysim",
		"date":    time.Now().Format(time.DateTime),
	}
	if s.bus != nil && !s.bus.IsHealthy() {
		status["status"] = "degraded"
	}
	jsonutil.WriteJSON(w, http.StatusOK, status)
}
