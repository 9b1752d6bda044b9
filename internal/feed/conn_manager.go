// Package feed maintains the live price subscription and the fallback
// request/response price client.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/logger"
	"quantbot-core/internal/observability"
)

// Sentinel errors returned by Run.
var (
	ErrAuth        = errors.New("feed authentication rejected")
	ErrMaxAttempts = errors.New("feed reconnect attempts exhausted")
	ErrClosed      = errors.New("feed not connected")
)

// Close codes treated as authentication failures.
const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

const (
	methodSubscribe   = "subscribe"
	methodUnsubscribe = "unsubscribe"
	methodPriceUpdate = "price-update"
)

// Config configures the connection manager.
type Config struct {
	URL    string
	APIKey string
	// Topic is the first subscribe parameter.
	Topic string
	// MaxAttempts bounds consecutive reconnect attempts before giving up.
	MaxAttempts int
	// ReconnectDelay is the base backoff delay.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff delay.
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
}

// DefaultConfig returns default connection settings.
func DefaultConfig() Config {
	return Config{
		Topic:             methodPriceUpdate,
		MaxAttempts:       10,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Delay returns the backoff before reconnect attempt n (0-based):
// min(ReconnectDelay × 2^n, MaxReconnectDelay).
func (c Config) Delay(attempt int) time.Duration {
	d := c.ReconnectDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.MaxReconnectDelay {
			return c.MaxReconnectDelay
		}
	}
	if d > c.MaxReconnectDelay {
		return c.MaxReconnectDelay
	}
	return d
}

// ConnectionManager owns the single websocket subscription connection.
// Subscribe and Unsubscribe are safe for concurrent use; Run must be called once.
type ConnectionManager struct {
	cfg Config
	log *logrus.Entry

	conn      *websocket.Conn
	connMu    sync.Mutex
	requestID atomic.Uint64

	state   State
	stateMu sync.RWMutex

	// accounts is the subscription set replayed on every (re)connect
	accounts   map[string]struct{}
	accountsMu sync.RWMutex

	updates chan domain.PriceUpdate
	states  chan State
	now     func() time.Time
}

// NewConnectionManager creates a manager in the Disconnected state.
func NewConnectionManager(cfg Config, log *logrus.Entry) *ConnectionManager {
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &ConnectionManager{
		cfg:      cfg,
		log:      log.WithField("component", "feed"),
		accounts: make(map[string]struct{}),
		updates:  make(chan domain.PriceUpdate, 1024),
		states:   make(chan State, 64),
		now:      time.Now,
	}
}

// Updates delivers decoded price updates.
func (m *ConnectionManager) Updates() <-chan domain.PriceUpdate {
	return m.updates
}

// States delivers every state change.
func (m *ConnectionManager) States() <-chan State {
	return m.states
}

// State returns the current state.
func (m *ConnectionManager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Accounts returns the subscription set, sorted.
func (m *ConnectionManager) Accounts() []string {
	m.accountsMu.RLock()
	out := make([]string, 0, len(m.accounts))
	for a := range m.accounts {
		out = append(out, a)
	}
	m.accountsMu.RUnlock()
	sort.Strings(out)
	return out
}

func (m *ConnectionManager) apply(e event) State {
	m.stateMu.Lock()
	prev := m.state
	next := transition(prev, e)
	m.state = next
	m.stateMu.Unlock()

	if next != prev {
		observability.SetConnectionState(next.String())
		m.log.WithFields(logrus.Fields{"from": prev.String(), "to": next.String()}).Info("connection state changed")
		select {
		case m.states <- next:
		default:
			m.log.Warn("state channel full, dropping state change")
		}
	}
	return next
}

// Run connects and keeps the connection alive until ctx is cancelled, the
// server rejects authentication (ErrAuth, state Disabled) or MaxAttempts
// consecutive reconnects fail (ErrMaxAttempts, state Disconnected).
func (m *ConnectionManager) Run(ctx context.Context) error {
	if m.apply(evStart) == Disabled {
		return ErrAuth
	}

	attempt := 0
	for {
		conn, err := m.dial(ctx)
		if err == nil {
			attempt = 0
			m.apply(evHandshake)
			m.resubscribeAll()
			err = m.serve(ctx, conn)
		}

		if ctx.Err() != nil {
			m.apply(evStop)
			return ctx.Err()
		}
		if errors.Is(err, ErrAuth) {
			m.apply(evAuthFailed)
			m.log.WithError(err).Error("authentication rejected, feed disabled")
			return err
		}
		if attempt >= m.cfg.MaxAttempts {
			m.apply(evExhausted)
			m.log.WithError(err).WithField("attempts", attempt).Error("giving up on feed")
			return fmt.Errorf("%w: %v", ErrMaxAttempts, err)
		}

		m.apply(evClosed)
		delay := m.cfg.Delay(attempt)
		attempt++
		observability.RecordReconnect()
		m.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("feed connection lost, reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.apply(evStop)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// dial opens the websocket. A 401/403 upgrade response maps to ErrAuth.
func (m *ConnectionManager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.cfg.HandshakeTimeout,
	}
	header := http.Header{}
	if m.cfg.APIKey != "" {
		header.Set("X-API-KEY", m.cfg.APIKey)
	}

	conn, resp, err := dialer.DialContext(ctx, m.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	})

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()
	return conn, nil
}

// serve runs the read and ping loops until the connection drops or ctx ends.
func (m *ConnectionManager) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		m.pingLoop(done)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			m.connMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(m.cfg.WriteTimeout))
			conn.Close()
			m.connMu.Unlock()
		case <-done:
		}
	}()

	err := m.readLoop(ctx, conn)
	close(done)
	wg.Wait()

	m.connMu.Lock()
	conn.Close()
	m.conn = nil
	m.connMu.Unlock()
	return err
}

// readLoop decodes messages until a read fails.
func (m *ConnectionManager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				switch ce.Code {
				case CloseUnauthorized, CloseForbidden, websocket.ClosePolicyViolation:
					return fmt.Errorf("%w: close code %d %s", ErrAuth, ce.Code, ce.Text)
				}
			}
			return fmt.Errorf("read: %w", err)
		}

		update, ok := m.decode(message)
		if !ok {
			continue
		}
		observability.RecordPriceUpdate()
		select {
		case m.updates <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decode parses a price-update notification. Other methods are ignored;
// malformed updates are logged, counted and dropped.
func (m *ConnectionManager) decode(message []byte) (domain.PriceUpdate, bool) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		observability.RecordMalformed()
		m.log.WithError(err).Debug("dropping malformed message")
		return domain.PriceUpdate{}, false
	}
	if msg.Method != methodPriceUpdate {
		return domain.PriceUpdate{}, false
	}

	var p wsPriceParams
	if len(msg.Params) == 0 {
		observability.RecordMalformed()
		m.log.Debug("dropping price update without params")
		return domain.PriceUpdate{}, false
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		observability.RecordMalformed()
		m.log.WithError(err).Debug("dropping malformed price update")
		return domain.PriceUpdate{}, false
	}
	if p.Account == "" || p.Price == nil || *p.Price <= 0 {
		observability.RecordMalformed()
		m.log.WithField("account", p.Account).Debug("dropping price update without account or price")
		return domain.PriceUpdate{}, false
	}

	ts := p.Timestamp
	if ts <= 0 {
		ts = m.now().Unix()
	}
	return domain.PriceUpdate{
		AssetKey:  p.Account,
		Price:     *p.Price,
		Marketcap: p.Marketcap,
		Timestamp: ts,
	}, true
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (m *ConnectionManager) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.connMu.Lock()
			if m.conn != nil {
				if err := m.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout)); err != nil {
					m.log.WithError(err).Debug("ping failed")
				}
			}
			m.connMu.Unlock()
		}
	}
}

// Subscribe adds account to the subscription set and sends a subscribe
// request when connected. Adding an existing account does not resend.
// While disconnected the account is sent on the next connect.
func (m *ConnectionManager) Subscribe(account string) error {
	m.accountsMu.Lock()
	_, exists := m.accounts[account]
	m.accounts[account] = struct{}{}
	m.accountsMu.Unlock()

	if exists {
		return nil
	}
	err := m.send(methodSubscribe, account)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Resubscribe re-sends the subscribe request for a tracked account.
// Returns ErrClosed when not connected.
func (m *ConnectionManager) Resubscribe(account string) error {
	m.accountsMu.RLock()
	_, exists := m.accounts[account]
	m.accountsMu.RUnlock()
	if !exists {
		return fmt.Errorf("account %s is not subscribed", account)
	}
	return m.send(methodSubscribe, account)
}

// Unsubscribe removes account from the set and tells the server when connected.
func (m *ConnectionManager) Unsubscribe(account string) error {
	m.accountsMu.Lock()
	_, exists := m.accounts[account]
	delete(m.accounts, account)
	m.accountsMu.Unlock()

	if !exists {
		return nil
	}
	err := m.send(methodUnsubscribe, account)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// resubscribeAll replays the subscription set after a (re)connect.
func (m *ConnectionManager) resubscribeAll() {
	for _, account := range m.Accounts() {
		if err := m.send(methodSubscribe, account); err != nil {
			m.log.WithError(err).WithField("account", account).Warn("resubscribe failed")
		}
	}
}

func (m *ConnectionManager) send(method, account string) error {
	req := wsRequest{
		ID:     m.requestID.Add(1),
		Method: method,
		Params: []interface{}{
			m.cfg.Topic,
			wsAccounts{Accounts: []string{account}},
		},
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return ErrClosed
	}
	m.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := m.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}
	return nil
}

// Wire message types

type wsRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type wsAccounts struct {
	Accounts []string `json:"accounts"`
}

type wsMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type wsPriceParams struct {
	Account   string   `json:"account"`
	Price     *float64 `json:"price"`
	Marketcap float64  `json:"marketcap"`
	Timestamp int64    `json:"timestamp"`
}
