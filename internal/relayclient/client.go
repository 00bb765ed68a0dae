package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/handlers/dto"
	"github.com/thereayou/teleconsult/internal/signaling"
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Попыток на запрос, включая первую
	MaxTries uint
}

// Summary итог завершенного приема
type Summary struct {
	RoomToken       string     `json:"room_token"`
	ConsultationID  uuid.UUID  `json:"consultation_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationMinutes int        `json:"duration_minutes"`
	KeyPoints       []string   `json:"key_points"`
	Recommendations []string   `json:"recommendations"`
	Placeholder     bool       `json:"placeholder"`
	Warnings        []string   `json:"warnings"`
}

// Profile текущий пользователь
type Profile struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
}

// Client HTTP клиент relay API. Повторяет запросы при временных
// сбоях и перестает ходить в сервер, пока открыт breaker
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
	maxTries uint
	log      *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 4
	}
	log = log.Named("relayclient")

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "relay",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  breaker,
		maxTries: cfg.MaxTries,
		log:      log,
	}
}

// Token текущий токен, после Login выданный сервером
func (c *Client) Token() string { return c.token }

func (c *Client) Login(ctx context.Context, email, password string) (*dto.TokenResponse, error) {
	var out dto.TokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", dto.LoginRequest{Email: email, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/api/v1/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateRoom(ctx context.Context, consultationID uuid.UUID) (*dto.RoomResponse, error) {
	var out dto.RoomResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/rtc/rooms", dto.CreateRoomRequest{ConsultationID: consultationID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JoinRoom(ctx context.Context, token string) (*dto.JoinRoomResponse, error) {
	var out dto.JoinRoomResponse
	if err := c.do(ctx, http.MethodPost, roomPath(token, "join"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EndRoom(ctx context.Context, token string, consultationID uuid.UUID) (*Summary, error) {
	var out Summary
	if err := c.do(ctx, http.MethodPost, roomPath(token, "end"), dto.EndRoomRequest{ConsultationID: consultationID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendSignal(ctx context.Context, token string, env signaling.Envelope) (*signaling.Envelope, error) {
	var out signaling.Envelope
	if err := c.do(ctx, http.MethodPost, roomPath(token, "signals"), env, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchSignals забирает ожидающие сигналы. Нераспознанный сигнал
// пропускается, остальные из пачки возвращаются
func (c *Client) FetchSignals(ctx context.Context, token string) ([]signaling.Envelope, error) {
	var raw struct {
		Signals []json.RawMessage `json:"signals"`
	}
	if err := c.do(ctx, http.MethodGet, roomPath(token, "signals"), nil, &raw); err != nil {
		return nil, err
	}

	out := make([]signaling.Envelope, 0, len(raw.Signals))
	for _, item := range raw.Signals {
		var env signaling.Envelope
		if err := json.Unmarshal(item, &env); err != nil {
			c.log.Warn("skipping unreadable signal", zap.String("room", token), zap.Error(err))
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

func roomPath(token, action string) string {
	return "/api/v1/rtc/rooms/" + token + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.roundTrip(ctx, method, path, payload)
		})
		if err == nil {
			return body, nil
		}
		if c.retryable(method, err) {
			c.log.Debug("retrying request", zap.String("method", method), zap.String("path", path), zap.Error(err))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// retryable: сервер сообщил о временной ошибке, либо сеть упала на
// запросе, который можно повторить без дублей
func (c *Client) retryable(method string, err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return errors.Is(apiErr, ErrTransient)
	}
	return method == http.MethodGet && errors.Is(err, ErrTransient)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 400 {
		var e dto.ErrorResponse
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Error}
	}
	return data, nil
}
