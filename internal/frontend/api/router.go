// Package api serves the HTTP endpoints for accounts, chat history, image
// uploads and health, and mounts the WebSocket acceptor.
package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/auth"
	"github.com/cory-johannsen/duel/internal/chat"
	"github.com/cory-johannsen/duel/internal/storage/objectstore"
	"github.com/cory-johannsen/duel/internal/storage/postgres"
)

// UserStore persists user accounts.
type UserStore interface {
	Create(ctx context.Context, nu postgres.NewUser) (postgres.User, error)
	Authenticate(ctx context.Context, email, password string) (postgres.User, error)
	GetByID(ctx context.Context, id string) (postgres.User, error)
	Count(ctx context.Context) (int64, error)
}

// ImageUploader stores uploaded images and returns their public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, folder objectstore.Folder, r io.Reader) (string, error)
}

// TokenService issues and verifies bearer tokens.
type TokenService interface {
	Issue(id auth.Identity) (string, error)
	Verify(token string) (auth.Identity, error)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Health(ctx context.Context, timeout time.Duration) error
}

// Deps collects the collaborators of the HTTP API. Messages, Images, Health
// and WebSocket may be nil; the corresponding endpoints then report the
// feature as unavailable.
type Deps struct {
	Users          UserStore
	Messages       chat.Store
	Images         ImageUploader
	Tokens         TokenService
	Health         HealthChecker
	WebSocket      http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the gin engine with every route mounted.
//
// Precondition: d.Users, d.Tokens and d.Logger must be non-nil.
// Postcondition: Returns a ready http.Handler.
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(d.Logger))
	engine.Use(CORS(d.AllowedOrigins))

	h := &handler{
		users:    d.Users,
		messages: d.Messages,
		images:   d.Images,
		tokens:   d.Tokens,
		health:   d.Health,
		logger:   d.Logger,
	}

	engine.GET("/healthz", h.healthz)
	if d.WebSocket != nil {
		engine.GET("/ws", gin.WrapH(d.WebSocket))
	}

	api := engine.Group("/api")
	protect := RequireAuth(d.Tokens)

	authGroup := api.Group("/auth")
	authGroup.POST("/register", h.register)
	authGroup.POST("/login", h.login)

	users := api.Group("/users")
	users.GET("/me", protect, h.me)
	users.GET("/count", h.userCount)

	chatGroup := api.Group("/chat", protect)
	chatGroup.GET("", h.chatHistory)
	chatGroup.POST("/image", h.uploadChatImage)

	return engine
}

// CORS allows browser clients from the listed origins. An empty list allows
// any origin.
func CORS(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(origin, allowed) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(origin, a) {
			return true
		}
	}
	return false
}
