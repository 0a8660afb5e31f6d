package alerting

import (
	"github.com/rs/zerolog"

	"levelwatch/internal/config"
)

// New 根据配置组装告警渠道；全部关闭时退化为日志输出。
func New(cfg config.AlertingConfig, logger zerolog.Logger) Notifier {
	if !cfg.Enabled {
		return NewLogNotifier(logger)
	}

	multi := NewMulti()
	if cfg.Bark.Enabled {
		multi.Add("bark", NewBarkNotifier(BarkOptions{
			BaseURL:   cfg.Bark.BaseURL,
			DeviceKey: cfg.Bark.DeviceKey,
			Group:     cfg.Bark.Group,
			Sound:     cfg.Bark.Sound,
			Timeout:   cfg.Timeout,
		}, logger))
	}
	if cfg.Telegram.Enabled {
		multi.Add("telegram", NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, logger))
	}
	if multi.Len() == 0 {
		return NewLogNotifier(logger)
	}
	return multi
}
