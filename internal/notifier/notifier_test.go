package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"quant-telegram/internal/formatter"
	"quant-telegram/internal/metrics"
	"quant-telegram/internal/throttle"
	"quant-telegram/internal/types"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	err   error
	calls int
}

func (s *fakeSender) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *fakeSender) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	n       *Notifier
	sender  *fakeSender
	clock   *fakeClock
	metrics *metrics.Metrics
	hook    *test.Hook
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	f := &fixture{
		sender:  &fakeSender{},
		clock:   &fakeClock{now: time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)},
		metrics: metrics.New(nil),
		hook:    hook,
	}
	f.n = New(cfg, f.sender,
		WithClock(f.clock.Now),
		WithMetrics(f.metrics),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithLogger(logger.WithField("component", "notifier")),
	)
	t.Cleanup(func() { f.n.Stop(context.Background()) })
	return f
}

// settle waits for the background sends started so far.
func (f *fixture) settle() {
	f.n.wg.Wait()
}

func TestPriceAlertBufferedThenFlushed(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", 45000, "spike", nil))
	f.settle()

	f.clock.Advance(time.Second)
	require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", 45100, "spike", nil))
	f.settle()
	require.Len(t, f.sender.sent(), 1)
	assert.Contains(t, f.sender.sent()[0], "$45,000.00")

	require.NoError(t, f.n.Flush(ctx))
	assert.Len(t, f.sender.sent(), 1, "cooldown has not elapsed")

	f.clock.Advance(60 * time.Second)
	require.NoError(t, f.n.Flush(ctx))

	sent := f.sender.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "🚨 <b>BTCUSDT</b> $45,100.00 - Spike at 14:05 UTC", sent[1])

	snapshot := f.n.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "price_alert:BTCUSDT", snapshot[0].Key.String())
	assert.Zero(t, snapshot[0].Pending)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Notifications.WithLabelValues("price_alert", "send_now")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Notifications.WithLabelValues("price_alert", "buffered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BatchesFlushed))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Sends.WithLabelValues("price_alert", "ok")))
}

func TestBurstIsMergedIntoOneBatch(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	for i, price := range []float64{45000, 45100, 45200, 45300} {
		require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", price, "spike", types.Fields{types.FieldChangePct: float64(i) / 10}))
		f.settle()
		f.clock.Advance(10 * time.Second)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Pending))

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.n.Flush(ctx))

	sent := f.sender.sent()
	require.Len(t, sent, 2)
	lines := strings.Split(sent[1], "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "📊 <b>3 price alerts for BTCUSDT</b> | last 1m", lines[0])
	assert.Contains(t, lines[1], "$45,100.00")
	assert.Contains(t, lines[2], "$45,200.00")
	assert.Contains(t, lines[3], "$45,300.00")
	assert.Zero(t, testutil.ToFloat64(f.metrics.Pending))
}

func TestKeysAreIndependent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", 45000, "spike", nil))
	require.NoError(t, f.n.PriceAlert(ctx, "ETHUSDT", 3200, "drop", nil))
	require.NoError(t, f.n.SystemAlert(ctx, "warning", "Rate limit approaching", nil))
	require.NoError(t, f.n.SystemAlert(ctx, "info", "Strategy resumed", nil))
	f.settle()

	assert.Len(t, f.sender.sent(), 4)
	assert.Len(t, f.n.Snapshot(), 4)
}

func TestEmergencyIsNeverThrottled(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.n.EmergencyAlert(ctx, "Exchange unreachable", types.Fields{types.FieldActionRequired: "Flatten positions"}))
	}
	f.settle()

	sent := f.sender.sent()
	require.Len(t, sent, 5)
	assert.Contains(t, sent[0], "Exchange unreachable")
	assert.Empty(t, f.n.Snapshot())
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.Notifications.WithLabelValues("emergency_alert", "send_now")))
}

func TestEmergencyIgnoresConfiguredInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Intervals[types.EmergencyAlert] = 30 * time.Second
	f := newFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.n.EmergencyAlert(ctx, "Exchange unreachable", nil))
	}
	f.settle()

	assert.Len(t, f.sender.sent(), 5)
	assert.Empty(t, f.n.Snapshot())

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.n.Flush(ctx))
	assert.Len(t, f.sender.sent(), 5)
}

func TestMalformedNotificationIsRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	err := f.n.SystemAlert(context.Background(), "", "Connection lost", nil)

	var fe *formatter.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, types.FieldLevel, fe.Field)
	f.settle()
	assert.Empty(t, f.sender.sent())
	assert.Empty(t, f.n.Snapshot())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FormatErrors.WithLabelValues("system_alert")))
}

func TestPositionUpdate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	pnl := -120.5

	require.NoError(t, f.n.PositionUpdate(ctx, "binance", "ETHUSDT", -2, &pnl, "opened", nil))
	require.NoError(t, f.n.PositionUpdate(ctx, "binance", "BTCUSDT", 0.5, nil, "increased", nil))
	f.settle()

	sent := f.sender.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "ETHUSDT")
	assert.Contains(t, sent[0], "Short")
	assert.Equal(t, 1, f.n.Snapshot()[0].Pending)
}

func TestCustomMessage(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, f.n.CustomMessage(ctx, "Trading bot started", 0, ""))
	require.NoError(t, f.n.CustomMessage(ctx, "Trading bot started", 0, ""))
	require.NoError(t, f.n.CustomMessage(ctx, "Daily PnL: +$120", time.Hour, "daily"))
	require.NoError(t, f.n.CustomMessage(ctx, "Daily PnL: +$140", time.Hour, "daily"))
	f.settle()

	assert.ElementsMatch(t, []string{"Trading bot started", "Trading bot started", "Daily PnL: +$120"}, f.sender.sent())

	snapshot := f.n.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, throttle.Key{Category: types.Custom, Discriminator: "daily"}, snapshot[0].Key)
	assert.Equal(t, 1, snapshot[0].Pending)
}

func TestFailedBatchIsRetriedThenDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Throttle.MaxFlushRetries = 3
	f := newFixture(t, cfg)
	ctx := context.Background()

	require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", 45000, "spike", nil))
	f.settle()
	require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", 45100, "spike", nil))

	f.sender.fail(errors.New("Bad Gateway"))
	f.clock.Advance(61 * time.Second)

	require.Error(t, f.n.Flush(ctx))
	assert.Equal(t, 1, f.n.Snapshot()[0].Pending)
	assert.Equal(t, 1, f.n.Snapshot()[0].Failures)

	require.Error(t, f.n.Flush(ctx))
	assert.Equal(t, 1, f.n.Snapshot()[0].Pending)

	require.Error(t, f.n.Flush(ctx))
	assert.Zero(t, f.n.Snapshot()[0].Pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BatchesDropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Sends.WithLabelValues("price_alert", "error")))

	require.NoError(t, f.n.Flush(ctx))
	assert.Len(t, f.sender.sent(), 1)
}

func TestEmergencyFailureIsLoggedAsCritical(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.sender.fail(errors.New("Forbidden: bot was kicked"))

	require.NoError(t, f.n.EmergencyAlert(context.Background(), "Margin call", nil))
	f.settle()

	var found bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == log.ErrorLevel && e.Data["severity"] == "critical" {
			found = true
		}
	}
	assert.True(t, found)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Sends.WithLabelValues("emergency_alert", "error")))
}

func TestStopFlushesAndRefusesNewWork(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", 45000, "spike", nil))
	require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", 45100, "spike", nil))
	require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", 45200, "spike", nil))

	require.NoError(t, f.n.Stop(ctx))

	sent := f.sender.sent()
	require.Len(t, sent, 2)
	assert.True(t, strings.HasPrefix(sent[1], "📊 <b>2 price alerts for BTCUSDT</b>"))

	assert.ErrorIs(t, f.n.PriceAlert(ctx, "BTCUSDT", 45300, "spike", nil), ErrStopped)
	assert.ErrorIs(t, f.n.EmergencyAlert(ctx, "late", nil), ErrStopped)
	assert.NoError(t, f.n.Stop(ctx))
}

func TestNotifyRacingStopLeavesNothingBuffered(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := f.n.PriceAlert(ctx, "BTCUSDT", 45000+float64(j), "spike", nil)
				if err != nil {
					assert.ErrorIs(t, err, ErrStopped)
					return
				}
			}
		}()
	}

	require.NoError(t, f.n.Stop(ctx))
	wg.Wait()

	for _, st := range f.n.Snapshot() {
		assert.Zero(t, st.Pending, st.Key.String())
	}
	assert.ErrorIs(t, f.n.PriceAlert(ctx, "BTCUSDT", 1, "spike", nil), ErrStopped)
}

func TestStartFlushesOnTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.n.Start(ctx)
	f.n.Start(ctx)

	require.NoError(t, f.n.SystemAlert(ctx, "error", "Order rejected", nil))
	require.NoError(t, f.n.SystemAlert(ctx, "error", "Order rejected again", nil))
	f.settle()
	assert.Len(t, f.sender.sent(), 1)

	f.clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return len(f.sender.sent()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.n.Stop(ctx))
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, f.n.EmergencyAlert(ctx, "x", nil), context.Canceled)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	assert.Equal(t, "<b>Notifier status</b>\nNo throttled keys", f.n.Status())

	require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", 45000, "spike", nil))
	f.settle()
	require.NoError(t, f.n.PriceAlert(ctx, "BTCUSDT", 45100, "spike", nil))
	f.clock.Advance(2 * time.Minute)

	assert.Equal(t, "<b>Notifier status</b>\n• price_alert:BTCUSDT: 1 pending, last sent 2 minutes ago", f.n.Status())
}
