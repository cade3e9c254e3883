package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	v1 "pigeon/contracts/realtime/v1"
	"pigeon/internal/auth/session"
)

const (
	wsSubprotocolV1 = "pigeon.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsHelloDeadline = 10 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// AccessVerifier authenticates the hello handshake. The identity on the
// socket always comes from the verified token, never from any payload field.
type AccessVerifier interface {
	VerifyAccess(token string, now time.Time) (session.AccessClaims, error)
}

// Gateway is the WebSocket entrypoint.
//
// It enforces origin policy, subprotocol selection, rate limits, heartbeats,
// and routes validated envelopes to the fan-out pipeline and the call
// coordinator. A socket is anonymous until its first event, which must be a
// hello carrying a live access token.
type Gateway struct {
	log      *slog.Logger
	verifier AccessVerifier
	registry *Registry
	fanout   *Fanout
	calls    *Coordinator

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration

	// Metrics hooks.
	onConnect    func()
	onDisconnect func()
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, verifier AccessVerifier, registry *Registry, fanout *Fanout, calls *Coordinator) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	g := &Gateway{
		log:      log,
		verifier: verifier,
		registry: registry,
		fanout:   fanout,
		calls:    calls,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("PIGEON_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("PIGEON_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("PIGEON_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("PIGEON_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("PIGEON_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("PIGEON_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("PIGEON_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("PIGEON_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("PIGEON_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("PIGEON_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// OnConnect installs a hook fired after a successful hello (metrics).
func (g *Gateway) OnConnect(fn func()) { g.onConnect = fn }

// OnDisconnect installs a hook fired when a registered socket goes away.
func (g *Gateway) OnDisconnect(fn func()) { g.onDisconnect = fn }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	handleID := uuid.NewString()

	var (
		closeOnce sync.Once
		client    *Client
	)

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: registry removal happens before client.Close (inside
	// Unregister), so no broadcaster can pick up a dying handle.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if client != nil {
				if last := g.registry.Unregister(client.UserID, handleID); last {
					g.calls.PartyDisconnected(client.UserID, time.Now().UTC())
				}
				if g.onDisconnect != nil {
					g.onDisconnect()
				}
			}
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	// The writer goroutine is started only after hello succeeds; until then
	// error replies are written inline under the hello deadline.
	helloCtx, helloCancel := context.WithTimeout(ctx, wsHelloDeadline)
	env, err := readEnvelope(helloCtx, conn)
	helloCancel()
	if err != nil {
		g.log.Info("ws.hello.read.fail", "handle_id", handleID, "err", err)
		shutdown(websocket.StatusPolicyViolation, "hello required")
		return
	}

	claims, err := g.authenticate(env)
	if err != nil {
		g.writeErrorInline(ctx, conn, authErrorCode(err), "authentication failed")
		g.log.Info("ws.hello.fail", "handle_id", handleID, "err", err)
		shutdown(websocket.StatusPolicyViolation, "hello failed")
		return
	}

	client = NewClient(claims.UserID, handleID, g.sendQueueSize)
	g.registry.Register(client)
	if g.onConnect != nil {
		g.onConnect()
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "handle_id", handleID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "handle_id", handleID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{ConnectionID: handleID, UserID: claims.UserID})
	g.enqueue(ctx, client, NewEnvelope(v1.TypeHelloAck, ackPayload, time.Now().UTC()))

	g.log.Info("ws.session.open", "handle_id", handleID, "user_id", claims.UserID)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "handle_id", handleID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			// The socket is already bound to an identity.
			g.trySendError(ctx, client, "already_authenticated", "hello already completed")

		case v1.TypeSendMessage:
			if err := g.onSendMessage(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, sendErrorCode(err), err.Error())
				continue readLoop
			}

		case v1.TypePlaceCall:
			var p v1.PlaceCallPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(ctx, client, "bad_payload", "invalid payload")
				continue readLoop
			}
			if err := g.calls.PlaceCall(client.UserID, p, now); err != nil {
				g.trySendError(ctx, client, callErrorCode(err), err.Error())
			}

		case v1.TypeAcceptCall:
			var p v1.AcceptCallPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(ctx, client, "bad_payload", "invalid payload")
				continue readLoop
			}
			if err := g.calls.AcceptCall(client.UserID, p, now); err != nil {
				g.trySendError(ctx, client, callErrorCode(err), err.Error())
			}

		case v1.TypeICECandidate:
			var p v1.ICECandidatePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(ctx, client, "bad_payload", "invalid payload")
				continue readLoop
			}
			if err := g.calls.RelayICE(client.UserID, p, now); err != nil {
				g.trySendError(ctx, client, callErrorCode(err), err.Error())
			}

		case v1.TypeEndCall:
			var p v1.EndCallPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(ctx, client, "bad_payload", "invalid payload")
				continue readLoop
			}
			if err := g.calls.EndCall(client.UserID, p, now); err != nil {
				g.trySendError(ctx, client, callErrorCode(err), err.Error())
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

// authenticate checks that env is a hello with a live access token.
func (g *Gateway) authenticate(env v1.Envelope) (session.AccessClaims, error) {
	if err := env.Validate(); err != nil {
		return session.AccessClaims{}, err
	}
	if env.Type != v1.TypeHello {
		return session.AccessClaims{}, fmt.Errorf("first event must be %s, got %s", v1.TypeHello, env.Type)
	}

	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return session.AccessClaims{}, fmt.Errorf("invalid payload: %w", err)
	}

	return g.verifier.VerifyAccess(p.AccessToken, time.Now().UTC())
}

func (g *Gateway) onSendMessage(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.SendMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	msg, err := g.fanout.Send(ctx, client.UserID, p, now)
	if err != nil {
		return err
	}

	ackPayload, _ := json.Marshal(v1.MessageAckPayload{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		ServerTS:  msg.ServerTS,
	})
	if !g.enqueue(ctx, client, NewEnvelope(v1.TypeMessageAck, ackPayload, now)) {
		return errors.New("backpressure: ack")
	}
	return nil
}

// ---- error code mapping ----

func authErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrExpiredAccess):
		return "token_expired"
	case errors.Is(err, session.ErrMissingToken):
		return "token_missing"
	default:
		return "unauthorized"
	}
}

func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case IsPersistence(err):
		return "persist_failed"
	default:
		return "send_failed"
	}
}

func callErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCalleeOffline):
		return "callee_offline"
	case errors.Is(err, ErrCallAlreadyInProgress):
		return "call_in_progress"
	case errors.Is(err, ErrNoActiveCall):
		return "no_active_call"
	default:
		return "call_failed"
	}
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, NewEnvelope(v1.TypeError, p, time.Now().UTC()))
}

// writeErrorInline is used before the writer goroutine exists (failed hello).
func (g *Gateway) writeErrorInline(ctx context.Context, conn *websocket.Conn, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = writeEnvelope(ctx, conn, NewEnvelope(v1.TypeError, p, time.Now().UTC()), wsDefaultWriteTimeout)
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns. Keep it strict: only allowlisted hosts.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
