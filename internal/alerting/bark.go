package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// BarkNotifier 通过 Bark 推送到 iOS 设备。
type BarkNotifier struct {
	baseURL   string
	deviceKey string
	group     string
	sound     string
	client    *http.Client
	logger    zerolog.Logger
}

// BarkOptions 描述 Bark 推送参数。
type BarkOptions struct {
	BaseURL   string
	DeviceKey string
	Group     string
	Sound     string
	Timeout   time.Duration
}

// NewBarkNotifier 构造 Bark 告警器。
func NewBarkNotifier(opts BarkOptions, logger zerolog.Logger) *BarkNotifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.day.app"
	}

	return &BarkNotifier{
		baseURL:   baseURL,
		deviceKey: opts.DeviceKey,
		group:     opts.Group,
		sound:     opts.Sound,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "alert_bark").Logger(),
	}
}

// Notify 以 GET {base}/{key}/{title}/{body} 推送。
func (n *BarkNotifier) Notify(ctx context.Context, note Notification) error {
	if err := n.send(ctx, note); err != nil {
		return deliveryError("bark", err)
	}
	n.logger.Info().
		Str("metric", note.Metric).
		Str("direction", string(note.Direction)).
		Float64("level", note.Level).
		Msg("告警已发送 (Bark)")
	return nil
}

func (n *BarkNotifier) send(ctx context.Context, note Notification) error {
	if n.deviceKey == "" {
		return fmt.Errorf("bark device key 未配置")
	}

	endpoint := n.buildURL(note)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create bark request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send bark request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bark 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if result.Code != 0 && result.Code != http.StatusOK {
			return fmt.Errorf("bark 返回 code=%d: %s", result.Code, result.Message)
		}
	}
	return nil
}

func (n *BarkNotifier) buildURL(note Notification) string {
	var b strings.Builder
	b.WriteString(n.baseURL)
	b.WriteByte('/')
	b.WriteString(url.PathEscape(n.deviceKey))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(note.Title))
	if note.Body != "" {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(note.Body))
	}

	query := url.Values{}
	if n.group != "" {
		query.Set("group", n.group)
	}
	if n.sound != "" {
		query.Set("sound", n.sound)
	}
	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(query.Encode())
	}
	return b.String()
}

var _ Notifier = (*BarkNotifier)(nil)
