package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/auth"
	"github.com/cory-johannsen/duel/internal/config"
)

// TokenVerifier resolves a bearer token to the identity it was issued for.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// SessionHandler processes an authenticated WebSocket session.
// Implementations run the event loop for a single client.
type SessionHandler interface {
	HandleSession(ctx context.Context, identity auth.Identity, conn *Conn) error
}

// SessionHandlerFunc adapts a function to the SessionHandler interface.
type SessionHandlerFunc func(ctx context.Context, identity auth.Identity, conn *Conn) error

// HandleSession calls f.
func (f SessionHandlerFunc) HandleSession(ctx context.Context, identity auth.Identity, conn *Conn) error {
	return f(ctx, identity, conn)
}

// Acceptor authenticates and upgrades WebSocket requests and dispatches each
// connection to a SessionHandler. It is an http.Handler.
type Acceptor struct {
	cfg      config.WebSocketConfig
	verifier TokenVerifier
	handler  SessionHandler
	logger   *zap.Logger
	upgrader websocket.Upgrader

	wg      sync.WaitGroup
	quit    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewAcceptor creates a WebSocket acceptor with the given configuration.
//
// Precondition: verifier, handler and logger must be non-nil.
// Postcondition: Returns an Acceptor accepting upgrades until Stop is called.
func NewAcceptor(cfg config.WebSocketConfig, verifier TokenVerifier, handler SessionHandler, logger *zap.Logger) *Acceptor {
	a := &Acceptor{
		cfg:      cfg,
		verifier: verifier,
		handler:  handler,
		logger:   logger,
		quit:     make(chan struct{}),
		running:  true,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

// ServeHTTP verifies the request token, upgrades the connection and runs the
// session until it ends.
//
// Postcondition: Unauthenticated requests get 401 without an upgrade.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !a.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer a.wg.Done()

	token := RequestToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	identity, err := a.verifier.Verify(token)
	if err != nil {
		a.logger.Debug("rejecting websocket upgrade",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		a.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	a.handleConn(identity, NewConn(raw, a.cfg))
}

func (a *Acceptor) handleConn(identity auth.Identity, conn *Conn) {
	start := time.Now()
	addr := conn.RemoteAddr()
	defer conn.Close()

	a.logger.Info("client connected",
		zap.String("remote_addr", addr),
		zap.String("user_id", identity.ID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel context when quit signal received
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.handler.HandleSession(ctx, identity, conn); err != nil {
		a.logger.Debug("session ended",
			zap.String("remote_addr", addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		a.logger.Info("session ended cleanly",
			zap.String("remote_addr", addr),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// track registers an in-flight request unless the acceptor is stopped.
func (a *Acceptor) track() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	a.wg.Add(1)
	return true
}

// Stop cancels every active session and waits for them to finish.
//
// Postcondition: All sessions have ended; new upgrades are refused with 503.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.quit)
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("websocket acceptor stopped")
}

// IsRunning returns whether the acceptor is accepting upgrades.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Acceptor) checkOrigin(r *http.Request) bool {
	if len(a.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// RequestToken extracts the bearer token from the token query parameter or
// the Authorization header.
func RequestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return BearerToken(r.Header.Get("Authorization"))
}

// BearerToken returns the token of a "Bearer <token>" header value, or "".
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
