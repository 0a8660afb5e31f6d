package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"levelwatch/internal/detector"
	"levelwatch/internal/level"
)

// Notification 封装一次档位穿越的推送内容。
type Notification struct {
	Title      string
	Body       string
	Metric     string
	Direction  detector.Direction
	Level      float64
	Value      float64
	DetectedAt time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Error 表示推送失败 (DeliveryError)。
type Error struct {
	Channel string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func deliveryError(channel string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Channel: channel, Err: err}
}

var printer = message.NewPrinter(language.English)

// FromEvent 渲染标题与正文，例如 "BTC 上升至 $91,000" / "现价 ≈ $91,200"。
func FromEvent(ev detector.Event) Notification {
	verb := "上升至"
	if ev.Direction == detector.Down {
		verb = "下降至"
	}
	places := level.Places(ev.Step)

	return Notification{
		Title:      fmt.Sprintf("%s %s %s%s", ev.Label, verb, ev.Unit, formatAmount(ev.Level, places)),
		Body:       fmt.Sprintf("现价 ≈ %s%s", ev.Unit, formatAmount(ev.Value, places)),
		Metric:     ev.Metric,
		Direction:  ev.Direction,
		Level:      ev.Level,
		Value:      ev.Value,
		DetectedAt: ev.DetectedAt,
	}
}

// formatAmount 按千分位输出，先以 half-up 舍入到 places 位。
func formatAmount(v float64, places int32) string {
	rounded := decimal.NewFromFloat(v).Round(places).InexactFloat64()
	return printer.Sprint(number.Decimal(rounded, number.Scale(int(places))))
}

// LogNotifier 只写日志，未启用任何推送渠道时使用。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify 输出一条 info 日志。
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().
		Str("metric", note.Metric).
		Str("direction", string(note.Direction)).
		Str("body", note.Body).
		Msg(note.Title)
	return nil
}

// Multi 依次调用所有渠道，任一失败不影响其余渠道。
type Multi struct {
	notifiers []namedNotifier
}

type namedNotifier struct {
	name     string
	notifier Notifier
}

// NewMulti 构造组合告警器。
func NewMulti() *Multi {
	return &Multi{}
}

// Add 注册一个渠道。
func (m *Multi) Add(channel string, n Notifier) *Multi {
	m.notifiers = append(m.notifiers, namedNotifier{name: channel, notifier: n})
	return m
}

// Len 返回渠道数量。
func (m *Multi) Len() int { return len(m.notifiers) }

// Notify 推送到全部渠道并合并错误。
func (m *Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.notifier.Notify(ctx, note); err != nil {
			errs = append(errs, deliveryError(n.name, err))
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Multi)(nil)
)
