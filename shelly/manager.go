// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package shelly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/metrics"
	"github.com/casblasvic/weekly-calendar-sub018/realtime"
)

var (
	ErrRateLimited    = errors.New("shelly command rate limit exceeded")
	ErrQueueFull      = errors.New("shelly command queue is full")
	ErrModuleInactive = errors.New("shelly module is not active")
	ErrNoCloudID      = errors.New("device has no known cloud id yet")
	ErrClosed         = errors.New("shelly manager is closed")
)

const (
	// MaxMessageSize bounds inbound cloud messages.
	MaxMessageSize = 10 * 1024

	DefaultPort           = 6113
	DefaultReconnectDelay = 5 * time.Second
	DefaultRateLimit      = 60
	DefaultQueueSize      = 100

	writeWait = 10 * time.Second
)

// Connection event types written to websocket_log
const (
	LogConnected         = "connect"
	LogDisconnected      = "disconnect"
	LogError             = "error"
	LogReconnect         = "reconnect"
	LogReconnectSkipped  = "reconnect_skipped"
	LogTokenRefreshed    = "token_refreshed"
	LogTokenRefreshFail  = "token_refresh_failed"
	LogZombieCleanup     = "zombie_cleanup"
	LogManualDisconnect  = "manual_disconnect"
	LogCommandRateLimit  = "command_rate_limited"
	LogCommandQueueFull  = "command_queue_full"
	LogCommandFailedResp = "command_failed"
)

// Options tune the manager. Zero values take the defaults.
type Options struct {
	ReconnectDelay time.Duration
	// RateLimit is messages per minute per credential.
	RateLimit int
	QueueSize int
	Port      int
	// Scheme is "wss" in production; tests dial plain "ws".
	Scheme string
	Dialer *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.RateLimit <= 0 {
		o.RateLimit = DefaultRateLimit
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Port <= 0 {
		o.Port = DefaultPort
	}
	if o.Scheme == "" {
		o.Scheme = "wss"
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return o
}

// SendResult tells whether a command went out immediately or waits in
// the queue for the connection to open.
type SendResult int

const (
	Sent SendResult = iota
	Queued
)

// ConnStatus is a snapshot of one credential's connection.
type ConnStatus struct {
	CredentialID string     `json:"credential_id"`
	State        string     `json:"state"`
	Live         bool       `json:"live"`
	ConnectedAt  *time.Time `json:"connected_at,omitempty"`
	MessagesIn   int64      `json:"messages_in"`
	MessagesOut  int64      `json:"messages_out"`
	Queued       int        `json:"queued"`
	KnownDevices int        `json:"known_devices"`
}

// conn is the manager's state for one credential. It outlives individual
// websocket connections so the queue and limiter survive reconnects.
type conn struct {
	credentialID string
	systemID     string
	connectionID string

	mu          sync.Mutex
	ws          *websocket.Conn
	state       string
	connectedAt time.Time
	queue       [][]byte
	cloudIDs    map[string]string // device ID -> cloud ID
	messagesIn  int64
	messagesOut int64
	stopRetry   chan struct{}

	limiter *rate.Limiter
	writeMu sync.Mutex
}

// Manager keeps one cloud websocket per Shelly credential.
type Manager struct {
	store Store
	cloud *CloudClient
	pub   realtime.Publisher
	log   *logging.Logger
	opts  Options
	now   func() time.Time

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(store Store, cloud *CloudClient, pub realtime.Publisher, log *logging.Logger, opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if pub == nil {
		pub = realtime.Nop{}
	}
	return &Manager{
		store:  store,
		cloud:  cloud,
		pub:    pub,
		log:    log.Named("shelly"),
		opts:   opts.withDefaults(),
		now:    time.Now,
		conns:  make(map[string]*conn),
		ctx:    ctx,
		cancel: cancel,
	}
}

// entry returns the state for credentialID, creating it on first use.
func (m *Manager) entry(credentialID string) (*conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	c, ok := m.conns[credentialID]
	if !ok {
		c = &conn{
			credentialID: credentialID,
			state:        db.StatusDisconnected,
			cloudIDs:     make(map[string]string),
			limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.opts.RateLimit)), m.opts.RateLimit),
		}
		m.conns[credentialID] = c
		metrics.ShellyConnections.WithLabelValues(db.StatusDisconnected).Inc()
	}
	return c, nil
}

func (m *Manager) lookup(credentialID string) (*conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[credentialID]
	return c, ok
}

// socketURL builds wss://host:port/shelly/wss/hk_sock?t=TOKEN. A port
// already present in apiHost wins over the configured one.
func (m *Manager) socketURL(apiHost, token string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(apiHost, "https://"), "http://")
	host = strings.TrimRight(host, "/")
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%s:%d", host, m.opts.Port)
	}
	return fmt.Sprintf("%s://%s/shelly/wss/hk_sock?t=%s", m.opts.Scheme, host, url.QueryEscape(token))
}

func (m *Manager) setState(ctx context.Context, c *conn, status, errMsg string) {
	c.mu.Lock()
	prev := c.state
	c.state = status
	c.mu.Unlock()

	if prev != status {
		metrics.ShellyConnections.WithLabelValues(prev).Dec()
		metrics.ShellyConnections.WithLabelValues(status).Inc()
	}
	id := c.rowID()
	if id == "" {
		return
	}
	if err := m.store.UpdateConnectionStatus(ctx, id, status, errMsg); err != nil {
		m.log.Error(ctx, "failed to persist connection status", zap.String("credential.id", c.credentialID), zap.Error(err))
	}
}

func (m *Manager) logEvent(ctx context.Context, c *conn, eventType, message, details string) {
	id := c.rowID()
	if id == "" {
		return
	}
	if err := m.store.LogEvent(ctx, id, eventType, message, details); err != nil {
		m.log.Warn(ctx, "failed to write connection log", zap.String("event", eventType), zap.Error(err))
	}
}

// Connect opens the cloud websocket of a credential. It is a no-op when
// the connection is already live.
func (m *Manager) Connect(ctx context.Context, credentialID string) error {
	c, err := m.entry(credentialID)
	if err != nil {
		return err
	}

	if m.IsLive(credentialID) {
		return nil
	}

	cred, err := m.store.Credential(ctx, credentialID)
	if err != nil {
		return err
	}
	wsConn, err := m.store.Connection(ctx, credentialID, cred.SystemID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.systemID = cred.SystemID
	c.connectionID = wsConn.ID
	c.mu.Unlock()

	active, err := m.store.ModuleActive(ctx, cred.SystemID)
	if err != nil {
		return err
	}
	if !active {
		m.setState(ctx, c, db.StatusError, ErrModuleInactive.Error())
		return ErrModuleInactive
	}

	m.setState(ctx, c, db.StatusConnecting, "")
	start := m.now()
	ws, _, err := m.opts.Dialer.DialContext(ctx, m.socketURL(cred.APIHost, cred.AccessToken), http.Header{
		"User-Agent": []string{"weekly-calendar/1.0"},
	})
	if err != nil {
		m.setState(ctx, c, db.StatusError, err.Error())
		m.logEvent(ctx, c, LogError, "dial failed", err.Error())
		return fmt.Errorf("failed to connect credential %s: %w", credentialID, err)
	}
	ws.SetReadLimit(MaxMessageSize)

	c.mu.Lock()
	if m.ctx.Err() != nil {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	if c.ws != nil {
		// Lost a race with a concurrent Connect
		c.mu.Unlock()
		ws.Close()
		return nil
	}
	c.ws = ws
	c.connectedAt = m.now()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	m.setState(ctx, c, db.StatusConnected, "")
	m.logEvent(ctx, c, LogConnected, fmt.Sprintf("connected in %s", m.now().Sub(start).Round(time.Millisecond)), "")
	m.log.Info(ctx, "shelly cloud connected", zap.String("credential.id", credentialID))

	for i, msg := range pending {
		if err := m.write(c, ws, msg); err != nil {
			m.log.Warn(ctx, "failed to flush queued command", zap.Error(err))
			m.requeue(ctx, c, pending[i:])
			break
		}
	}

	m.wg.Add(1)
	go m.readLoop(c, ws)
	return nil
}

func (m *Manager) write(c *conn, ws *websocket.Conn, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		metrics.ShellyCommands.WithLabelValues("failed").Inc()
		return err
	}
	c.mu.Lock()
	c.messagesOut++
	c.mu.Unlock()
	metrics.ShellyMessages.WithLabelValues("out", EventCommandRequest).Inc()
	metrics.ShellyCommands.WithLabelValues("sent").Inc()
	return nil
}

// requeue puts unsent commands back at the head of the queue for the next
// connection. Whatever no longer fits is dropped and logged.
func (m *Manager) requeue(ctx context.Context, c *conn, unsent [][]byte) {
	c.mu.Lock()
	merged := append(append([][]byte(nil), unsent...), c.queue...)
	dropped := 0
	if len(merged) > m.opts.QueueSize {
		dropped = len(merged) - m.opts.QueueSize
		merged = merged[:m.opts.QueueSize]
	}
	c.queue = merged
	c.mu.Unlock()

	if dropped > 0 {
		metrics.ShellyCommands.WithLabelValues("queue_full").Add(float64(dropped))
		m.logEvent(ctx, c, LogCommandQueueFull, fmt.Sprintf("%d queued commands dropped", dropped), "")
	}
}

func (m *Manager) readLoop(c *conn, ws *websocket.Conn) {
	defer m.wg.Done()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			m.handleClose(c, ws, err)
			return
		}
		c.mu.Lock()
		c.messagesIn++
		c.mu.Unlock()
		m.handleMessage(m.ctx, c, data)
	}
}

// handleClose runs when the read loop of ws ends. It is a no-op for
// sockets Disconnect already detached.
func (m *Manager) handleClose(c *conn, ws *websocket.Conn, cause error) {
	ctx := m.ctx
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.mu.Unlock()
	ws.Close()

	if ctx.Err() != nil {
		return
	}

	m.setState(ctx, c, db.StatusDisconnected, "")
	m.logEvent(ctx, c, LogDisconnected, "connection closed", cause.Error())
	m.log.Info(ctx, "shelly cloud disconnected", zap.String("credential.id", c.credentialID), zap.Error(cause))

	c.mu.Lock()
	systemID := c.systemID
	c.mu.Unlock()
	wsConn, err := m.store.Connection(ctx, c.credentialID, systemID)
	if err != nil {
		m.log.Error(ctx, "failed to load connection", zap.Error(err))
		return
	}
	if !wsConn.AutoReconnect {
		m.logEvent(ctx, c, LogReconnectSkipped, "auto reconnect disabled", "")
		return
	}

	if err := m.refreshToken(ctx, c); err != nil {
		m.setState(ctx, c, db.StatusError, "token expired: "+err.Error())
		m.logEvent(ctx, c, LogTokenRefreshFail, "token refresh failed, reconnect cancelled", err.Error())
		return
	}

	m.setState(ctx, c, db.StatusReconnecting, "")
	m.scheduleReconnect(c)
}

func (m *Manager) refreshToken(ctx context.Context, c *conn) error {
	cred, err := m.store.Credential(ctx, c.credentialID)
	if err != nil {
		return err
	}
	tokens, err := m.cloud.RefreshToken(ctx, cred.APIHost, cred.RefreshToken)
	if err != nil {
		if serr := m.store.SetCredentialStatus(ctx, c.credentialID, "expired"); serr != nil {
			m.log.Warn(ctx, "failed to mark credential expired", zap.Error(serr))
		}
		return err
	}
	if err := m.store.SaveTokens(ctx, c.credentialID, tokens); err != nil {
		return err
	}
	m.logEvent(ctx, c, LogTokenRefreshed, "access token refreshed", "")
	return nil
}

// scheduleReconnect must be called from a goroutine counted in m.wg.
func (m *Manager) scheduleReconnect(c *conn) {
	stop := make(chan struct{})
	c.mu.Lock()
	c.stopRetry = stop
	c.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(m.opts.ReconnectDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		}

		m.logEvent(m.ctx, c, LogReconnect, "reconnecting", "")
		if err := m.Connect(m.ctx, c.credentialID); err != nil {
			m.log.Warn(m.ctx, "shelly reconnect failed", zap.String("credential.id", c.credentialID), zap.Error(err))
		}
	}()
}

// rowID is the websocket_connection row of the credential, empty until
// the first Connect.
func (c *conn) rowID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

func (c *conn) cancelRetry() {
	if c.stopRetry != nil {
		close(c.stopRetry)
		c.stopRetry = nil
	}
}

// Disconnect closes a credential's socket without reconnecting.
func (m *Manager) Disconnect(ctx context.Context, credentialID string) error {
	c, ok := m.lookup(credentialID)
	if !ok {
		return nil
	}

	c.mu.Lock()
	c.cancelRetry()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		c.writeMu.Lock()
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		ws.Close()
	}

	m.setState(ctx, c, db.StatusDisconnected, "")
	m.logEvent(ctx, c, LogManualDisconnect, "disconnected on request", "")
	return nil
}

// ForceReconnect drops the current socket and dials again immediately.
func (m *Manager) ForceReconnect(ctx context.Context, credentialID string) error {
	if err := m.Disconnect(ctx, credentialID); err != nil {
		return err
	}
	return m.Connect(ctx, credentialID)
}

// DisconnectAll disconnects every credential.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Disconnect(ctx, id); err != nil {
			m.log.Warn(ctx, "failed to disconnect", zap.String("credential.id", id), zap.Error(err))
		}
	}
}

// Close disconnects everything and waits for background goroutines.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.DisconnectAll(ctx)
	m.wg.Wait()
}

// Status reports the in-memory state of a credential's connection.
func (m *Manager) Status(credentialID string) ConnStatus {
	st := ConnStatus{CredentialID: credentialID, State: db.StatusDisconnected}
	c, ok := m.lookup(credentialID)
	if !ok {
		return st
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st.State = c.state
	st.Live = c.ws != nil
	if st.Live {
		t := c.connectedAt
		st.ConnectedAt = &t
	}
	st.MessagesIn = c.messagesIn
	st.MessagesOut = c.messagesOut
	st.Queued = len(c.queue)
	st.KnownDevices = len(c.cloudIDs)
	return st
}

// IsLive reports whether the credential has an open socket.
func (m *Manager) IsLive(credentialID string) bool {
	return m.Status(credentialID).Live
}

// Send rate-limits and delivers an encoded command, queueing it while
// the socket is down.
func (m *Manager) Send(ctx context.Context, credentialID string, cmd Command) (SendResult, error) {
	c, err := m.entry(credentialID)
	if err != nil {
		return 0, err
	}

	if !c.limiter.Allow() {
		metrics.ShellyCommands.WithLabelValues("rate_limited").Inc()
		m.logEvent(ctx, c, LogCommandRateLimit, "command dropped", cmd.DeviceID)
		return 0, ErrRateLimited
	}

	msg, err := json.Marshal(cmd)
	if err != nil {
		return 0, fmt.Errorf("failed to encode command: %w", err)
	}

	c.mu.Lock()
	ws := c.ws
	if ws == nil {
		if len(c.queue) >= m.opts.QueueSize {
			c.mu.Unlock()
			metrics.ShellyCommands.WithLabelValues("queue_full").Inc()
			m.logEvent(ctx, c, LogCommandQueueFull, "command dropped", cmd.DeviceID)
			return 0, ErrQueueFull
		}
		c.queue = append(c.queue, msg)
		c.mu.Unlock()
		metrics.ShellyCommands.WithLabelValues("queued").Inc()
		return Queued, nil
	}
	c.mu.Unlock()

	if err := m.write(c, ws, msg); err != nil {
		return 0, fmt.Errorf("failed to send command: %w", err)
	}
	return Sent, nil
}

// cloudID resolves the cloud identifier of a plug from the row or the
// mapping learned from status events.
func (m *Manager) cloudID(credentialID string, d Device) string {
	if d.CloudID != "" {
		return d.CloudID
	}
	if c, ok := m.lookup(credentialID); ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		if id, ok := c.cloudIDs[d.DeviceID]; ok {
			return id
		}
	}
	if IsCloudID(d.DeviceID) {
		return d.DeviceID
	}
	return ""
}

// Control switches a plug's relay.
func (m *Manager) Control(ctx context.Context, d Device, on bool) (SendResult, error) {
	id := m.cloudID(d.CredentialID, d)
	if id == "" {
		return 0, ErrNoCloudID
	}
	return m.Send(ctx, d.CredentialID, RelayCommand(id, on, m.now()))
}

// Rename sets the plug's name in the cloud.
func (m *Manager) Rename(ctx context.Context, d Device, name string) (SendResult, error) {
	id := m.cloudID(d.CredentialID, d)
	if id == "" {
		return 0, ErrNoCloudID
	}
	return m.Send(ctx, d.CredentialID, RenameCommand(id, name, m.now()))
}

func (m *Manager) handleMessage(ctx context.Context, c *conn, data []byte) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Warn(ctx, "invalid shelly message", zap.Error(err))
		return
	}
	metrics.ShellyMessages.WithLabelValues("in", msg.Event).Inc()

	switch msg.Event {
	case EventStatusOnChange:
		m.handleStatus(ctx, c, msg)
	case EventOnline:
		m.handleOnline(ctx, c, msg)
	case EventCommandResponse:
		m.handleCommandResponse(ctx, c, msg)
	default:
		m.log.Debug(ctx, "ignoring shelly message", zap.String("event", msg.Event))
	}
}

func (m *Manager) handleStatus(ctx context.Context, c *conn, msg Inbound) {
	if msg.Device == nil || len(msg.Status) == 0 {
		return
	}
	statusID, st, err := ParseStatus(msg.Status)
	if err != nil {
		m.log.Warn(ctx, "invalid shelly status", zap.Error(err))
		return
	}

	cloudID := string(msg.Device.ID)
	deviceID := statusID
	if deviceID == "" {
		deviceID = cloudID
	}
	if deviceID != cloudID && cloudID != "" {
		c.mu.Lock()
		c.cloudIDs[deviceID] = cloudID
		c.mu.Unlock()
	}

	d, err := m.store.FindDevice(ctx, c.credentialID, deviceID)
	if errors.Is(err, ErrDeviceNotFound) && cloudID != deviceID {
		d, err = m.store.FindDevice(ctx, c.credentialID, cloudID)
	}
	if errors.Is(err, ErrDeviceNotFound) {
		m.log.Debug(ctx, "status for unregistered device", zap.String("device.id", deviceID))
		return
	}
	if err != nil {
		m.log.Error(ctx, "failed to load device", zap.Error(err))
		return
	}

	if d.CloudID == "" && IsCloudID(cloudID) {
		if err := m.store.SetCloudID(ctx, d.ID, cloudID); err != nil {
			m.log.Warn(ctx, "failed to persist cloud id", zap.Error(err))
		}
	}

	if err := m.store.ApplyStatus(ctx, d.ID, st, m.now()); err != nil {
		m.log.Error(ctx, "failed to apply device status", zap.Error(err))
		return
	}
	m.publishDevice(ctx, d, st, "websocket_status")
}

func (m *Manager) handleOnline(ctx context.Context, c *conn, msg Inbound) {
	if msg.Device == nil || msg.Online == nil {
		return
	}
	d, err := m.store.FindDevice(ctx, c.credentialID, string(msg.Device.ID))
	if err != nil {
		if !errors.Is(err, ErrDeviceNotFound) {
			m.log.Error(ctx, "failed to load device", zap.Error(err))
		}
		return
	}
	online := bool(*msg.Online)
	if err := m.store.SetOnline(ctx, d.ID, online, m.now()); err != nil {
		m.log.Error(ctx, "failed to update device online state", zap.Error(err))
		return
	}
	st := Status{Online: online, RelayOn: d.RelayOn && online}
	m.publishDevice(ctx, d, st, "websocket_online")
}

func (m *Manager) handleCommandResponse(ctx context.Context, c *conn, msg Inbound) {
	if msg.Data == nil || msg.Data.IsOK {
		return
	}
	m.logEvent(ctx, c, LogCommandFailedResp, "command rejected by device", string(msg.Data.Errors))

	d, err := m.store.FindDevice(ctx, c.credentialID, string(msg.DeviceID))
	if err != nil {
		return
	}
	if err := m.store.SetOnline(ctx, d.ID, false, m.now()); err != nil {
		m.log.Error(ctx, "failed to mark device offline", zap.Error(err))
		return
	}
	m.publishDevice(ctx, d, Status{}, "command_failed")
}

func (m *Manager) publishDevice(ctx context.Context, d Device, st Status, reason string) {
	payload := map[string]any{
		"device_id":        d.ID,
		"shelly_device_id": d.DeviceID,
		"online":           st.Online,
		"relay_on":         st.RelayOn,
		"current_power":    st.Power,
		"voltage":          st.Voltage,
		"temperature":      st.Temperature,
		"reason":           reason,
	}
	if err := m.pub.Publish(ctx, realtime.NewEvent(realtime.EventDeviceUpdate, d.SystemID, payload)); err != nil {
		m.log.Warn(ctx, "failed to publish device update", zap.Error(err))
	}
}

// RefreshDevice pulls a plug's state over HTTP and persists it. A failed
// lookup marks the plug offline.
func (m *Manager) RefreshDevice(ctx context.Context, cred Credential, d Device) (Status, error) {
	id := m.cloudID(cred.ID, d)
	if id == "" {
		return Status{}, ErrNoCloudID
	}
	st, err := m.cloud.DeviceStatus(ctx, cred.APIHost, cred.AccessToken, id)
	if err != nil {
		st = Status{Online: false}
		if serr := m.store.SetOnline(ctx, d.ID, false, m.now()); serr != nil {
			return st, serr
		}
		m.publishDevice(ctx, d, st, "sync_failed")
		return st, err
	}
	if err := m.store.ApplyStatus(ctx, d.ID, st, m.now()); err != nil {
		return st, err
	}
	m.publishDevice(ctx, d, st, "sync")
	return st, nil
}

// CleanupZombieConnections marks connections that the database believes
// are connected but have no live socket as disconnected.
func (m *Manager) CleanupZombieConnections(ctx context.Context) (int, error) {
	conns, err := m.store.ConnectedConnections(ctx)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, wc := range conns {
		if m.IsLive(wc.ReferenceID) {
			continue
		}
		if err := m.store.UpdateConnectionStatus(ctx, wc.ID, db.StatusDisconnected, ""); err != nil {
			return cleaned, err
		}
		if err := m.store.LogEvent(ctx, wc.ID, LogZombieCleanup, "no live socket behind connected row", ""); err != nil {
			m.log.Warn(ctx, "failed to write connection log", zap.Error(err))
		}
		cleaned++
	}
	if cleaned > 0 {
		m.log.Info(ctx, "cleaned zombie connections", zap.Int("count", cleaned))
	}
	return cleaned, nil
}

// StartAll connects every credential eligible for automatic connection.
// Failures are logged and do not stop the others.
func (m *Manager) StartAll(ctx context.Context) (int, error) {
	ids, err := m.store.AutoStartCredentials(ctx)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, id := range ids {
		if err := m.Connect(ctx, id); err != nil {
			m.log.Warn(ctx, "failed to start shelly connection", zap.String("credential.id", id), zap.Error(err))
			continue
		}
		started++
	}
	return started, nil
}
