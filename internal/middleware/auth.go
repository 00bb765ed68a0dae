package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/thereayou/teleconsult/pkg/auth"
)

const (
	UserIDKey = "userID"
	RoleKey   = "role"
)

// TokenBlacklist хранит отозванные токены до их истечения
type TokenBlacklist interface {
	Add(ctx context.Context, token string, ttl time.Duration) error
	Contains(ctx context.Context, token string) (bool, error)
}

type RedisBlacklist struct {
	rdb *redis.Client
}

func NewRedisBlacklist(rdb *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{rdb: rdb}
}

func (b *RedisBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	return b.rdb.Set(ctx, "blacklist:"+token, 1, ttl).Err()
}

func (b *RedisBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	n, err := b.rdb.Exists(ctx, "blacklist:"+token).Result()
	return n > 0, err
}

// AuthMiddleware проверяет JWT токен из заголовка Authorization
func AuthMiddleware(jwtManager *auth.JWTManager, blacklist TokenBlacklist) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			abortUnauthenticated(c, "missing or invalid token")
			return
		}
		authenticate(c, token, jwtManager, blacklist)
	}
}

// WSAuthMiddleware для WebSocket: браузер не может передать заголовок,
// поэтому токен также принимается из ?token=
func WSAuthMiddleware(jwtManager *auth.JWTManager, blacklist TokenBlacklist) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token, _ = auth.ExtractTokenFromHeader(c.Request)
		}
		if token == "" {
			abortUnauthenticated(c, "missing token")
			return
		}
		authenticate(c, token, jwtManager, blacklist)
	}
}

func authenticate(c *gin.Context, token string, jwtManager *auth.JWTManager, blacklist TokenBlacklist) {
	// Проверяем черный список. Недоступный Redis означает отказ
	revoked, err := blacklist.Contains(c.Request.Context(), token)
	if err != nil || revoked {
		abortUnauthenticated(c, "token is revoked")
		return
	}

	claims, err := jwtManager.Verify(token)
	if err != nil {
		abortUnauthenticated(c, "invalid token")
		return
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		abortUnauthenticated(c, "invalid user id")
		return
	}

	c.Set(UserIDKey, userID)
	c.Set(RoleKey, claims.Role)
	c.Next()
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "UNAUTHENTICATED"})
}

// CurrentUser возвращает пользователя, установленного AuthMiddleware
func CurrentUser(c *gin.Context) (uuid.UUID, string) {
	var id uuid.UUID
	if v, ok := c.Get(UserIDKey); ok {
		id, _ = v.(uuid.UUID)
	}
	return id, c.GetString(RoleKey)
}
