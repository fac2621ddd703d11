// Package transport owns the single WebSocket a game session speaks
// over: the authenticate handshake, keepalives, request/response
// correlation, and bounded exponential-backoff reconnection. Nothing
// else in the client writes to the socket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parques-online/client-go/pkg/protocol"
)

// State of the link, observed but never mutated by consumers.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrRequestTimeout = errors.New("transport: request timed out")
	ErrClosed         = errors.New("transport: connection closed")
)

// RequestError is an explicit error response correlated to a request.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return "transport: request failed: " + e.Code
	}
	return "transport: request failed: " + e.Message
}

const writeTimeout = 3 * time.Second

// Config tunes the link. Zero values pick the defaults below.
type Config struct {
	URL                  string
	PingInterval         time.Duration // default 25s
	RequestTimeout       time.Duration // default 30s
	ReconnectBase        time.Duration // default 1s
	ReconnectMax         time.Duration // default 30s
	MaxReconnectAttempts int           // default 5
}

func (c Config) withDefaults() Config {
	if c.PingInterval == 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	return c
}

// Credentials authenticate the session against a room.
type Credentials struct {
	Token    string
	RoomCode string
}

type pendingResult struct {
	env protocol.Envelope
	err error
}

type msgHandler func(protocol.Envelope)

type stateHandler func(State)

// Link owns one physical WebSocket connection across reconnects.
type Link struct {
	cfg  Config
	dial Dialer
	log  *zap.Logger

	// afterFunc schedules the reconnect timer; swapped in tests.
	afterFunc func(time.Duration, func()) *time.Timer

	mu             sync.Mutex
	conn           wire
	state          State
	creds          Credentials
	intentional    bool
	fatal          bool
	attempts       int
	backoff        *backoff.ExponentialBackOff
	pending        map[string]chan pendingResult
	msgSubs        []msgHandler
	stateSubs      []stateHandler
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
}

func New(cfg Config, dial Dialer, log *zap.Logger) *Link {
	cfg = cfg.withDefaults()
	if dial == nil {
		dial = WebsocketDialer
	}
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.ReconnectBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.ReconnectMax,
	}
	bo.Reset()
	return &Link{
		cfg:       cfg,
		dial:      dial,
		log:       log,
		afterFunc: time.AfterFunc,
		state:     StateDisconnected,
		backoff:   bo,
		pending:   make(map[string]chan pendingResult),
	}
}

// OnMessage registers an observer for every inbound envelope. Observers
// run on the read loop goroutine, in arrival order.
func (l *Link) OnMessage(fn func(protocol.Envelope)) {
	l.mu.Lock()
	l.msgSubs = append(l.msgSubs, fn)
	l.mu.Unlock()
}

// OnState registers an observer for connection-state transitions.
func (l *Link) OnState(fn func(State)) {
	l.mu.Lock()
	l.stateSubs = append(l.stateSubs, fn)
	l.mu.Unlock()
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connect dials the server and sends the authenticate message. The link
// reports StateConnected only once the server acknowledges the
// handshake with an authenticated/connected message.
func (l *Link) Connect(ctx context.Context, creds Credentials) error {
	l.mu.Lock()
	if l.state == StateConnecting || l.state == StateConnected {
		l.mu.Unlock()
		l.log.Warn("connect ignored, already connected or connecting")
		return nil
	}
	l.creds = creds
	l.intentional = false
	l.fatal = false
	l.mu.Unlock()

	l.setState(StateConnecting)

	conn, err := l.dial(ctx, l.cfg.URL)
	if err != nil {
		l.log.Warn("dial failed", zap.Error(err))
		l.setState(StateDisconnected)
		l.scheduleReconnect()
		return err
	}

	stop := make(chan struct{})
	l.mu.Lock()
	l.conn = conn
	l.heartbeatStop = stop
	l.mu.Unlock()

	// Authenticate immediately; the credential travels in the message,
	// never in the URL.
	l.Send(protocol.MustEnvelope(protocol.MsgAuthenticate, "", protocol.AuthenticatePayload{
		Token:    creds.Token,
		RoomCode: creds.RoomCode,
	}))

	go l.heartbeat(stop)
	go l.readLoop(conn)
	return nil
}

// Disconnect closes the socket on purpose: reconnection is suppressed,
// pending requests are rejected, timers stop.
func (l *Link) Disconnect() {
	l.mu.Lock()
	l.intentional = true
	if l.reconnectTimer != nil {
		l.reconnectTimer.Stop()
		l.reconnectTimer = nil
	}
	conn := l.conn
	l.conn = nil
	stop := l.heartbeatStop
	l.heartbeatStop = nil
	l.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	l.failPending(ErrClosed)
	l.setState(StateDisconnected)
}

// Send writes one envelope, fire-and-forget. When the socket is not
// open the message is dropped with a warning.
func (l *Link) Send(env protocol.Envelope) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		l.log.Warn("socket not open, dropping message", zap.String("type", env.Type))
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		l.log.Error("marshal outbound message", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		l.log.Warn("write failed", zap.String("type", env.Type), zap.Error(err))
	}
}

// Request sends an envelope stamped with a request id and blocks until
// the correlated response, an explicit error response, the timeout, or
// socket closure — whichever happens first. Exactly one of those
// resolves each call; a response arriving after resolution is ignored.
func (l *Link) Request(ctx context.Context, env protocol.Envelope, timeout time.Duration) (protocol.Envelope, error) {
	if timeout == 0 {
		timeout = l.cfg.RequestTimeout
	}
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}

	l.mu.Lock()
	if l.conn == nil {
		l.mu.Unlock()
		return protocol.Envelope{}, ErrNotConnected
	}
	ch := make(chan pendingResult, 1)
	l.pending[env.RequestID] = ch
	l.mu.Unlock()

	l.Send(env)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.env, res.err
	case <-timer.C:
		l.removePending(env.RequestID)
		return protocol.Envelope{}, ErrRequestTimeout
	case <-ctx.Done():
		l.removePending(env.RequestID)
		return protocol.Envelope{}, ctx.Err()
	}
}

func (l *Link) removePending(requestID string) {
	l.mu.Lock()
	delete(l.pending, requestID)
	l.mu.Unlock()
}

// takePending removes and returns the pending channel, if any. Whoever
// removes the entry owns its single resolution.
func (l *Link) takePending(requestID string) (chan pendingResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.pending[requestID]
	if ok {
		delete(l.pending, requestID)
	}
	return ch, ok
}

func (l *Link) failPending(err error) {
	l.mu.Lock()
	pending := l.pending
	l.pending = make(map[string]chan pendingResult)
	l.mu.Unlock()
	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
}

// heartbeat pings on a fixed interval from socket open, regardless of
// authentication state, so idle proxies keep the connection alive.
func (l *Link) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.Send(protocol.Envelope{Type: protocol.MsgPing})
		}
	}
}

func (l *Link) readLoop(conn wire) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			l.handleClose(err)
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Protocol fault: drop the frame, keep the loop alive.
			l.log.Warn("unparseable message dropped", zap.Error(err))
			continue
		}
		l.handleMessage(env)
	}
}

func (l *Link) handleMessage(env protocol.Envelope) {
	switch env.Type {
	case protocol.MsgAuthenticated, protocol.MsgConnected:
		l.mu.Lock()
		l.attempts = 0
		l.backoff.Reset()
		l.mu.Unlock()
		l.setState(StateConnected)

	case protocol.MsgPong:
		// Informational only.

	case protocol.MsgError:
		var payload protocol.ErrorPayload
		if err := json.Unmarshal(env.Payload, &payload); err == nil && protocol.FatalErrorCode(payload.ErrorCode) {
			l.log.Error("fatal server error, reconnection suppressed",
				zap.String("error_code", payload.ErrorCode),
				zap.String("message", payload.Message))
			l.mu.Lock()
			l.fatal = true
			l.mu.Unlock()
			l.setState(StateError)
		}
	}

	if env.RequestID != "" {
		if ch, ok := l.takePending(env.RequestID); ok {
			if code, msg, isErr := errorResponse(env); isErr {
				ch <- pendingResult{err: &RequestError{Code: code, Message: msg}}
			} else {
				ch <- pendingResult{env: env}
			}
		}
	}

	l.mu.Lock()
	subs := append([]msgHandler(nil), l.msgSubs...)
	l.mu.Unlock()
	for _, fn := range subs {
		fn(env)
	}
}

func errorResponse(env protocol.Envelope) (code, msg string, isErr bool) {
	if env.Type != protocol.MsgError && env.Type != protocol.MsgGameError {
		return "", "", false
	}
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return "", "unknown error from server", true
	}
	return payload.ErrorCode, payload.Message, true
}

func (l *Link) handleClose(err error) {
	l.mu.Lock()
	intentional := l.intentional
	fatal := l.fatal
	l.conn = nil
	stop := l.heartbeatStop
	l.heartbeatStop = nil
	l.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	l.failPending(ErrClosed)

	if intentional {
		return
	}

	code := websocket.CloseStatus(err)
	if fatal || (code != -1 && protocol.FatalCloseCode(int(code))) {
		l.log.Error("fatal closure, reconnection suppressed",
			zap.Int("close_code", int(code)), zap.Error(err))
		l.setState(StateError)
		return
	}

	l.log.Warn("connection lost", zap.Int("close_code", int(code)), zap.Error(err))
	l.setState(StateDisconnected)
	l.scheduleReconnect()
}

func (l *Link) scheduleReconnect() {
	l.mu.Lock()
	if l.intentional || l.fatal {
		l.mu.Unlock()
		return
	}
	if l.attempts >= l.cfg.MaxReconnectAttempts {
		l.mu.Unlock()
		l.log.Error("reconnect attempts exhausted",
			zap.Int("attempts", l.cfg.MaxReconnectAttempts))
		l.setState(StateError)
		return
	}
	l.attempts++
	attempt := l.attempts
	delay := l.backoff.NextBackOff()
	creds := l.creds
	l.reconnectTimer = l.afterFunc(delay, func() {
		l.mu.Lock()
		skip := l.intentional
		l.reconnectTimer = nil
		l.mu.Unlock()
		if skip {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout+l.cfg.PingInterval)
		defer cancel()
		_ = l.Connect(ctx, creds)
	})
	l.mu.Unlock()

	l.log.Info("reconnect scheduled",
		zap.Int("attempt", attempt), zap.Duration("delay", delay))
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	if l.state == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	subs := append([]stateHandler(nil), l.stateSubs...)
	l.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
