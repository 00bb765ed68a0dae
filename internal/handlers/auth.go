package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/thereayou/teleconsult/internal/database"
	"github.com/thereayou/teleconsult/internal/handlers/dto"
	"github.com/thereayou/teleconsult/internal/middleware"
	"github.com/thereayou/teleconsult/internal/models"
	"github.com/thereayou/teleconsult/pkg/auth"
)

// UserRepository то, что нужно аутентификации от хранилища
type UserRepository interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastSeen(ctx context.Context, id uuid.UUID) error
}

type AuthHandler struct {
	users      UserRepository
	jwtManager *auth.JWTManager
	blacklist  middleware.TokenBlacklist
	log        *zap.Logger
}

func NewAuthHandler(users UserRepository, jwtMgr *auth.JWTManager, blacklist middleware.TokenBlacklist, log *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, jwtManager: jwtMgr, blacklist: blacklist, log: log.Named("auth")}
}

// Register создает врача или пациента
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "cannot hash password"})
		return
	}

	user := &models.User{
		FullName:     req.FullName,
		Email:        strings.ToLower(req.Email),
		PasswordHash: string(hash),
		Role:         req.Role,
		CreatedAt:    time.Now(),
	}

	if err := h.users.SaveUser(c.Request.Context(), user); err != nil {
		h.log.Warn("register failed", zap.String("email", user.Email), zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "role": user.Role})
}

// Login выдаёт JWT и обновляет last_seen
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.FindUserByEmail(ctx, strings.ToLower(req.Email))
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			h.log.Error("user lookup failed", zap.Error(err))
		}
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid credentials", Code: "UNAUTHENTICATED"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid credentials", Code: "UNAUTHENTICATED"})
		return
	}

	if err := h.users.UpdateLastSeen(ctx, user.ID); err != nil {
		h.log.Warn("could not update last seen", zap.String("user", user.ID.String()), zap.Error(err))
	}

	token, err := h.jwtManager.Generate(user.ID.String(), user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "could not generate token"})
		return
	}
	exp, _ := h.jwtManager.Expiry(token)

	c.JSON(http.StatusOK, dto.TokenResponse{Token: token, ExpiresAt: exp.UTC().Format(time.RFC3339)})
}

// Logout ставит токен в черный список до истечения
func (h *AuthHandler) Logout(c *gin.Context) {
	rawToken, err := auth.ExtractTokenFromHeader(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	exp, err := h.jwtManager.Expiry(rawToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid token", Code: "UNAUTHENTICATED"})
		return
	}

	if err := h.blacklist.Add(c.Request.Context(), rawToken, time.Until(exp)); err != nil {
		h.log.Error("blacklist token failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "could not revoke token", Code: "TRANSIENT"})
		return
	}

	c.Status(http.StatusOK)
}

// GetMe возвращает информацию о текущем пользователе
func (h *AuthHandler) GetMe(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)

	user, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "user not found", Code: "NOT_FOUND"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"full_name":    user.FullName,
		"email":        user.Email,
		"role":         user.Role,
		"created_at":   user.CreatedAt,
		"last_seen_at": user.LastSeenAt,
	})
}
