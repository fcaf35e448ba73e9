package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"quant-telegram/internal/formatter"
	"quant-telegram/internal/metrics"
	"quant-telegram/internal/throttle"
	"quant-telegram/internal/types"
	"quant-telegram/lib/helpers"
)

// ErrStopped is returned by every notification method after Stop.
var ErrStopped = errors.New("notifier stopped")

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Config of the notifier
type Config struct {
	// Intervals is the minimum time between immediate sends per category.
	// A zero or missing interval disables throttling for that category.
	// Emergency alerts ignore it.
	Intervals     map[types.Category]time.Duration
	FlushInterval time.Duration
	SendTimeout   time.Duration
	RatePerSecond float64
	ParseMode     string
	Throttle      throttle.Config
}

// DefaultConfig returns the stock intervals: price alerts once a minute,
// position updates every 30s, system alerts every 2 minutes.
func DefaultConfig() Config {
	return Config{
		Intervals: map[types.Category]time.Duration{
			types.PriceAlert:     60 * time.Second,
			types.PositionUpdate: 30 * time.Second,
			types.SystemAlert:    120 * time.Second,
		},
		FlushInterval: 5 * time.Second,
		SendTimeout:   10 * time.Second,
		RatePerSecond: 20,
		ParseMode:     formatter.ParseModeHTML,
	}
}

// Option customizes a Notifier.
type Option func(*Notifier)

func WithLogger(l *log.Entry) Option {
	return func(n *Notifier) { n.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithClock replaces time.Now for throttle decisions and timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// WithLimiter replaces the token bucket shared by all sends.
func WithLimiter(l *rate.Limiter) Option {
	return func(n *Notifier) { n.limiter = l }
}

// Notifier renders notifications, throttles them per key and hands them to
// a Sender in the background. Its methods never wait for the network.
type Notifier struct {
	cfg       Config
	sender    Sender
	formatter *formatter.Formatter
	policy    *throttle.Policy
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	log       *log.Entry
	now       func() time.Time

	// ctx bounds the background sends; cancelled when Stop returns.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	stopped    bool
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	wg         sync.WaitGroup

	flushMu sync.Mutex
}

func New(cfg Config, sender Sender, opts ...Option) *Notifier {
	def := DefaultConfig()
	if cfg.Intervals == nil {
		cfg.Intervals = def.Intervals
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = def.ParseMode
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		cfg:       cfg,
		sender:    sender,
		formatter: formatter.New(cfg.ParseMode),
		policy:    throttle.NewPolicy(cfg.Throttle),
		now:       time.Now,
		log:       log.WithField("component", "notifier"),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.limiter == nil {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if n.metrics == nil {
		n.metrics = metrics.New(nil)
	}

	return n
}

// PriceAlert notifies about a price move of symbol. trigger is one of
// spike, drop, breakout, breakdown, target or alert.
func (n *Notifier) PriceAlert(ctx context.Context, symbol string, price float64, trigger string, extra types.Fields) error {
	return n.Notify(ctx, types.NewNotification(types.PriceAlert, n.now(), types.Fields{
		types.FieldSymbol:      symbol,
		types.FieldPrice:       price,
		types.FieldTriggerType: trigger,
	}, extra))
}

// PositionUpdate notifies about a position change on exchange. pnl may be
// nil when unknown.
func (n *Notifier) PositionUpdate(ctx context.Context, exchange, symbol string, size float64, pnl *float64, action string, extra types.Fields) error {
	base := types.Fields{
		types.FieldExchange: exchange,
		types.FieldSymbol:   symbol,
		types.FieldSize:     size,
		types.FieldAction:   action,
	}
	if pnl != nil {
		base[types.FieldPnL] = *pnl
	}
	return n.Notify(ctx, types.NewNotification(types.PositionUpdate, n.now(), base, extra))
}

func (n *Notifier) SystemAlert(ctx context.Context, level, message string, extra types.Fields) error {
	return n.Notify(ctx, types.NewNotification(types.SystemAlert, n.now(), types.Fields{
		types.FieldLevel:   level,
		types.FieldMessage: message,
	}, extra))
}

// EmergencyAlert is never throttled.
func (n *Notifier) EmergencyAlert(ctx context.Context, message string, extra types.Fields) error {
	return n.Notify(ctx, types.NewNotification(types.EmergencyAlert, n.now(), types.Fields{
		types.FieldMessage: message,
	}, extra))
}

// CustomMessage sends text verbatim. A positive interval throttles it under
// key like any other category; zero sends it right away.
func (n *Notifier) CustomMessage(ctx context.Context, text string, interval time.Duration, key string) error {
	fields := types.Fields{
		types.FieldText:            text,
		types.FieldThrottleSeconds: interval.Seconds(),
	}
	if key != "" {
		fields[types.FieldThrottleKey] = key
	}
	return n.Notify(ctx, types.NewNotification(types.Custom, n.now(), fields, nil))
}

// Notify renders a notification and sends it now, buffers it for the next
// flush or drops it, depending on its throttle key. Only a stopped notifier
// or a malformed notification is an error.
func (n *Notifier) Notify(ctx context.Context, notification types.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.isStopped() {
		return ErrStopped
	}

	category := string(notification.Category)
	text, err := n.formatter.Render(notification)
	if err != nil {
		n.metrics.ObserveFormatError(category)
		if n.log.Logger.IsLevelEnabled(log.DebugLevel) {
			n.log.Debugf("rejected notification: %s", spew.Sdump(notification))
		}
		return err
	}

	key, throttled := throttle.KeyFor(notification)
	interval := n.interval(notification)
	tracked := throttled && interval > 0

	// Admission happens under mu so Stop's final flush sees every buffered
	// entry or the notification is refused.
	decision := throttle.SendNow
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return ErrStopped
	}
	if tracked {
		decision = n.policy.Admit(key, throttle.Entry{Notification: notification, Text: text}, n.now(), interval)
	}
	n.mu.Unlock()
	n.metrics.ObserveDecision(category, decision.String())
	n.log.WithFields(log.Fields{"key": key.String(), "decision": decision.String()}).Debug("notification admitted")

	if decision != throttle.SendNow {
		n.updateGauges()
		return nil
	}

	if !n.dispatch(notification.Category, text, func() {
		if tracked {
			n.policy.Release(key)
		}
	}) {
		if tracked {
			n.policy.Release(key)
		}
		return ErrStopped
	}
	n.updateGauges()
	return nil
}

// Snapshot lists the state of every tracked throttle key.
func (n *Notifier) Snapshot() []throttle.KeyStatus {
	return n.policy.Snapshot()
}

func (n *Notifier) interval(notification types.Notification) time.Duration {
	switch notification.Category {
	case types.EmergencyAlert:
		return 0
	case types.Custom:
		seconds, _ := helpers.ToFloat(notification.Fields[types.FieldThrottleSeconds])
		return time.Duration(seconds * float64(time.Second))
	}
	return n.cfg.Intervals[notification.Category]
}

// dispatch starts a background send. It reports false when the notifier
// was stopped in the meantime.
func (n *Notifier) dispatch(category types.Category, text string, done func()) bool {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return false
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		defer done()

		err := n.send(n.ctx, text)
		n.metrics.ObserveSend(string(category), err)
		if err != nil {
			n.logSendError(category, err)
		}
	}()
	return true
}

func (n *Notifier) send(parent context.Context, text string) error {
	ctx, cancel := context.WithTimeout(parent, n.cfg.SendTimeout)
	defer cancel()

	if err := n.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit")
	}
	return n.sender.Send(ctx, text)
}

func (n *Notifier) logSendError(category types.Category, err error) {
	entry := n.log.WithField("category", string(category))
	if category == types.EmergencyAlert {
		entry.WithField("severity", "critical").Errorf("failed to deliver emergency alert: %v", err)
		return
	}
	entry.Errorf("failed to send message: %v", err)
}

func (n *Notifier) updateGauges() {
	n.metrics.SetQueue(n.policy.Pending(), n.policy.Len())
}

func (n *Notifier) isStopped() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopped
}
