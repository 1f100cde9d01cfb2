package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/auth"
	"github.com/cory-johannsen/duel/internal/chat"
	"github.com/cory-johannsen/duel/internal/storage/objectstore"
	"github.com/cory-johannsen/duel/internal/storage/postgres"
)

// DefaultAvatar is stored for users who register without an avatar image.
const DefaultAvatar = "default.jpg"

const healthTimeout = 2 * time.Second

type handler struct {
	users    UserStore
	messages chat.Store
	images   ImageUploader
	tokens   TokenService
	health   HealthChecker
	logger   *zap.Logger
}

type registerRequest struct {
	Username string `form:"username" json:"username" binding:"required,min=3,max=64"`
	Email    string `form:"email" json:"email" binding:"required,email,max=320"`
	Password string `form:"password" json:"password" binding:"required,min=6,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Email    string `json:"email,omitempty"`
}

func viewOf(u postgres.User) userView {
	return userView{ID: u.ID, Username: u.Username, Avatar: u.AvatarURL}
}

// register creates an account from a multipart form with an optional avatar.
func (h *handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid registration data"})
		return
	}

	avatar := DefaultAvatar
	if file, err := c.FormFile("avatar"); err == nil {
		url, status, msg := h.upload(c, file, objectstore.FolderAvatars)
		if status != 0 {
			c.JSON(status, gin.H{"message": msg})
			return
		}
		avatar = url
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid avatar upload"})
		return
	}

	user, err := h.users.Create(c.Request.Context(), postgres.NewUser{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		AvatarURL: avatar,
	})
	if err != nil {
		if errors.Is(err, postgres.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"message": "Username or email already in use"})
			return
		}
		h.fail(c, "register failed", err)
		return
	}

	h.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
	)
	c.JSON(http.StatusCreated, gin.H{
		"message": "Register success",
		"user":    viewOf(user),
	})
}

// login verifies credentials and issues a bearer token.
func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid email or password"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) || errors.Is(err, postgres.ErrInvalidCredentials) {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid email or password"})
			return
		}
		h.fail(c, "login failed", err)
		return
	}

	token, err := h.tokens.Issue(auth.Identity{
		ID:        user.ID,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
	})
	if err != nil {
		h.fail(c, "login failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Login success",
		"token":   token,
		"user":    viewOf(user),
	})
}

// me returns the caller's profile.
func (h *handler) me(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), identityFrom(c).ID)
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
			return
		}
		h.fail(c, "loading user failed", err)
		return
	}
	view := viewOf(user)
	view.Email = user.Email
	c.JSON(http.StatusOK, view)
}

func (h *handler) userCount(c *gin.Context) {
	n, err := h.users.Count(c.Request.Context())
	if err != nil {
		h.fail(c, "counting users failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totalUsers": n})
}

// chatHistory returns the newest global chat messages, oldest first.
func (h *handler) chatHistory(c *gin.Context) {
	if h.messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Chat is unavailable"})
		return
	}
	msgs, err := h.messages.Recent(c.Request.Context(), chat.HistoryLimit)
	if err != nil {
		h.fail(c, "loading chat failed", err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *handler) uploadChatImage(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No image uploaded"})
		return
	}
	url, status, msg := h.upload(c, file, objectstore.FolderChatImages)
	if status != 0 {
		c.JSON(status, gin.H{"message": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": url})
}

func (h *handler) healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Health(c.Request.Context(), healthTimeout); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// upload stores file under folder. A non-zero status reports a failure with
// its client message.
func (h *handler) upload(c *gin.Context, file *multipart.FileHeader, folder objectstore.Folder) (string, int, string) {
	if h.images == nil {
		return "", http.StatusServiceUnavailable, "Image uploads are unavailable"
	}
	if file.Size > folder.Limit() {
		return "", http.StatusBadRequest, objectstore.ErrImageTooLarge.Error()
	}

	src, err := file.Open()
	if err != nil {
		return "", http.StatusBadRequest, "Invalid image upload"
	}
	defer src.Close()

	url, err := h.images.UploadImage(c.Request.Context(), folder, src)
	switch {
	case err == nil:
		return url, 0, ""
	case errors.Is(err, objectstore.ErrImageType), errors.Is(err, objectstore.ErrImageTooLarge):
		return "", http.StatusBadRequest, err.Error()
	default:
		h.logger.Error("image upload failed",
			zap.String("folder", string(folder)),
			zap.Error(err),
		)
		return "", http.StatusInternalServerError, "Image upload failed"
	}
}

// fail logs err and responds with a generic 500.
func (h *handler) fail(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	h.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
}
