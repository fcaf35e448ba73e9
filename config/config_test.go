package config

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant-telegram/internal/types"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200300")
	t.Setenv("TELEGRAM_THREAD_ID", "42")
	t.Setenv("THROTTLE_PRICE_ALERT", "90")
	t.Setenv("BATCH_FLUSH_INTERVAL", "2.5")
	t.Setenv("DISABLE_WEB_PAGE_PREVIEW", "false")
	t.Setenv("WATCH_COINS", "btc-bitcoin, eth-ethereum,,")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", s.TelegramBotToken)
	assert.Equal(t, "-100200300", s.TelegramChatID)
	assert.Equal(t, 42, s.TelegramThreadID)
	assert.False(t, s.DisableWebPagePreview)
	assert.Equal(t, 90.0, s.Throttle.PriceAlert)
	assert.Equal(t, 30.0, s.Throttle.PositionUpdate)

	n := s.Notifier()
	assert.Equal(t, 90*time.Second, n.Intervals[types.PriceAlert])
	assert.Equal(t, 2500*time.Millisecond, n.FlushInterval)

	w := s.Watcher()
	assert.Equal(t, []string{"btc-bitcoin", "eth-ethereum"}, w.Coins)
	assert.Equal(t, 30*time.Second, w.Interval)
}

func TestFromMapDefaults(t *testing.T) {
	s, err := FromMap(map[string]interface{}{
		"telegram_bot_token": "123:abc",
		"telegram_chat_id":   "555",
	})
	require.NoError(t, err)

	assert.Equal(t, "HTML", s.ParseMode)
	assert.True(t, s.DisableWebPagePreview)
	assert.Equal(t, 9090, s.MetricsPort)
	assert.Equal(t, "data/notifier.db", s.DBPath)
	assert.Equal(t, 50, s.MaxBatchSize)
	assert.Equal(t, 3, s.MaxFlushRetries)
	assert.Equal(t, 20.0, s.SendRatePerSecond)
	assert.Empty(t, s.Watcher().Coins)

	n := s.Notifier()
	assert.Equal(t, map[types.Category]time.Duration{
		types.PriceAlert:     60 * time.Second,
		types.PositionUpdate: 30 * time.Second,
		types.SystemAlert:    120 * time.Second,
	}, n.Intervals)
	assert.Equal(t, 5*time.Second, n.FlushInterval)
	assert.Equal(t, 50, n.Throttle.MaxBatchSize)

	b := s.Bot()
	assert.Equal(t, "555", b.ChatID)
	assert.Equal(t, 0, b.ThreadID)
	assert.Equal(t, "HTML", b.ParseMode)
}

func TestFromMapNestedThrottle(t *testing.T) {
	s, err := FromMap(map[string]interface{}{
		"telegram_bot_token": "123:abc",
		"telegram_chat_id":   "555",
		"throttle": map[string]interface{}{
			"price_alert": 15,
		},
		"watch.threshold_pct": 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, 15.0, s.Throttle.PriceAlert)
	assert.Equal(t, 120.0, s.Throttle.SystemAlert)
	assert.Equal(t, 0.5, s.Watch.ThresholdPct)
}

func TestEmergencyIntervalIsIgnored(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "555")
	t.Setenv("THROTTLE_EMERGENCY", "30")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30.0, s.Throttle.Emergency)

	_, ok := s.Notifier().Intervals[types.EmergencyAlert]
	assert.False(t, ok)
}

func TestDryRunNeedsNoCredentials(t *testing.T) {
	s, err := FromMap(map[string]interface{}{"dry_run": true})
	require.NoError(t, err)
	assert.True(t, s.DryRun)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
		key    string
	}{
		{
			name:   "missing token",
			values: map[string]interface{}{"telegram_chat_id": "1"},
			key:    "telegram_bot_token",
		},
		{
			name:   "missing chat",
			values: map[string]interface{}{"telegram_bot_token": "t"},
			key:    "telegram_chat_id",
		},
		{
			name: "negative interval",
			values: map[string]interface{}{
				"telegram_bot_token":    "t",
				"telegram_chat_id":      "1",
				"throttle.system_alert": -1,
			},
			key: "throttle.system_alert",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMap(tt.values)

			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.key, ce.Key)
		})
	}
}
