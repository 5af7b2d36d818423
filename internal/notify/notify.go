// Package notify доставляет уведомления заёмщикам и администратору.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Message описывает уведомление по шаблону.
type Message struct {
	Template  string            `json:"template"`
	Recipient string            `json:"recipient"`
	Vars      map[string]string `json:"variables,omitempty"`
}

// Sender отправляет уведомления.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// RateLimitError возвращается, когда шлюз отвечает 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("notification gateway rate limited, retry after %s", e.RetryAfter)
	}
	return "notification gateway rate limited"
}

// ErrNotConfigured возвращается клиентом без адреса шлюза.
var ErrNotConfigured = errors.New("notification gateway not configured")

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 2
)

// Client инкапсулирует HTTP-взаимодействие со шлюзом уведомлений.
// Сбои соединения и ответы 5xx повторяются, 429 возвращается вызывающему сразу.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient создаёт HTTP-клиент для обращения к шлюзу уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: requestTimeout}
	rc.Logger = nil
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = 50 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Send отправляет сообщение в шлюз. Любой ответ, кроме 2xx, считается ошибкой.
func (c *Client) Send(ctx context.Context, m Message) error {
	if c == nil || c.baseURL == "" {
		return ErrNotConfigured
	}
	if m.Recipient == "" {
		return fmt.Errorf("notification %s has no recipient", m.Template)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/api/notifications", body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

// LogSender пишет уведомления в журнал вместо отправки. Используется без адреса шлюза.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender создаёт LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send записывает сообщение в журнал.
func (s *LogSender) Send(_ context.Context, m Message) error {
	s.logger.Info("notification",
		zap.String("template", m.Template),
		zap.String("recipient", m.Recipient),
		zap.Any("vars", m.Vars),
	)
	return nil
}
