package price

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"quant-telegram/internal/chart"
	"quant-telegram/internal/types"
	"quant-telegram/lib/helpers"
)

// TickerSource fetches a single ticker.
type TickerSource interface {
	GetByID(coinID string, options *coinpaprika.TickersOptions) (*coinpaprika.Ticker, error)
}

// TickerSourceFunc adapts a function to TickerSource.
type TickerSourceFunc func(coinID string, options *coinpaprika.TickersOptions) (*coinpaprika.Ticker, error)

func (f TickerSourceFunc) GetByID(coinID string, options *coinpaprika.TickersOptions) (*coinpaprika.Ticker, error) {
	return f(coinID, options)
}

// Alerter receives the price moves found by the watcher.
type Alerter interface {
	PriceAlert(ctx context.Context, symbol string, price float64, trigger string, extra types.Fields) error
}

// Config of the watcher
type Config struct {
	Coins        []string
	ThresholdPct float64
	Interval     time.Duration
}

// Info is the last observed price of a coin.
type Info struct {
	ID             string
	Name           string
	Symbol         string
	PriceUSD       float64
	Volume24h      float64
	PriceChange24h float64
	UpdatedAt      time.Time
}

// Watcher polls CoinPaprika and raises a price alert whenever a coin moves
// by at least ThresholdPct between two polls.
type Watcher struct {
	cfg     Config
	source  TickerSource
	alerter Alerter
	log     *log.Entry
	now     func() time.Time

	mu      sync.RWMutex
	prices  map[string]Info
	history map[string][]chart.Point
}

// historyLimit is the number of prices kept per coin for charts.
const historyLimit = 240

// NewTickerSource returns the CoinPaprika ticker endpoint, using the pro API
// when a key is given.
func NewTickerSource(apiProKey string) TickerSource {
	var client *coinpaprika.Client
	if apiProKey != "" {
		client = coinpaprika.NewClient(nil, coinpaprika.WithAPIKey(apiProKey))
	} else {
		client = coinpaprika.NewClient(nil)
	}
	return TickerSourceFunc(client.Tickers.GetByID)
}

func NewWatcher(cfg Config, source TickerSource, alerter Alerter) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Watcher{
		cfg:     cfg,
		source:  source,
		alerter: alerter,
		log:     log.WithField("component", "price"),
		now:     time.Now,
		prices:  make(map[string]Info),
		history: make(map[string][]chart.Point),
	}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.cfg.Coins) == 0 {
		w.log.Debug("no coins to watch")
		return nil
	}

	w.log.Infof("watching %s every %s", strings.Join(w.cfg.Coins, ", "), w.cfg.Interval)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.Poll(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches every watched coin once and returns the number of alerts
// raised.
func (w *Watcher) Poll(ctx context.Context) int {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			w.log.Errorf("recovered from panic in price poll: %v\nStack trace: %s", r, stackTrace)
		}
	}()

	alerts := 0
	for _, id := range w.cfg.Coins {
		if ctx.Err() != nil {
			break
		}

		info, err := w.fetch(id)
		if err != nil {
			w.log.Errorf("failed to fetch %s: %v", id, err)
			continue
		}

		w.mu.Lock()
		prev, seen := w.prices[id]
		w.prices[id] = info
		w.history[id] = appendPoint(w.history[id], chart.Point{Time: info.UpdatedAt, Value: info.PriceUSD})
		w.mu.Unlock()

		if !seen || prev.PriceUSD == 0 {
			continue
		}

		change := (info.PriceUSD - prev.PriceUSD) / prev.PriceUSD * 100
		if math.Abs(change) < w.cfg.ThresholdPct {
			continue
		}

		trigger := "spike"
		if change < 0 {
			trigger = "drop"
		}

		extra := types.Fields{
			types.FieldChangePct: change,
			types.FieldContext:   fmt.Sprintf("%s (%s) 24h %s", info.Name, info.ID, helpers.FormatPercentage(info.PriceChange24h, 2)),
		}
		if info.Volume24h > 0 {
			extra[types.FieldVolume] = info.Volume24h
		}

		if err := w.alerter.PriceAlert(ctx, info.Symbol, info.PriceUSD, trigger, extra); err != nil {
			w.log.Errorf("failed to raise price alert for %s: %v", id, err)
			continue
		}
		alerts++
	}

	w.log.Debugf("price poll done, %d alerts", alerts)
	return alerts
}

func (w *Watcher) fetch(id string) (Info, error) {
	ticker, err := w.source.GetByID(id, &coinpaprika.TickersOptions{Quotes: "USD"})
	if err != nil {
		return Info{}, errors.Wrap(err, "could not get ticker")
	}
	if ticker == nil {
		return Info{}, errors.New("empty ticker")
	}

	quote, ok := ticker.Quotes["USD"]
	if !ok || quote.Price == nil {
		return Info{}, errors.Errorf("%s is not actively traded and has no USD price", id)
	}

	info := Info{
		ID:        id,
		Name:      id,
		Symbol:    strings.ToUpper(id),
		PriceUSD:  *quote.Price,
		UpdatedAt: w.now(),
	}
	if ticker.Name != nil {
		info.Name = *ticker.Name
	}
	if ticker.Symbol != nil {
		info.Symbol = *ticker.Symbol
	}
	if quote.Volume24h != nil {
		info.Volume24h = *quote.Volume24h
	}
	if quote.PercentChange24h != nil {
		info.PriceChange24h = *quote.PercentChange24h
	}
	return info, nil
}

// Prices returns the last observed price of every watched coin, ordered by
// coin id.
func (w *Watcher) Prices() []Info {
	w.mu.RLock()
	out := make([]Info, 0, len(w.prices))
	for _, info := range w.prices {
		out = append(out, info)
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns the prices observed for a coin, oldest first.
func (w *Watcher) History(id string) []chart.Point {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]chart.Point(nil), w.history[id]...)
}

func appendPoint(points []chart.Point, p chart.Point) []chart.Point {
	points = append(points, p)
	if over := len(points) - historyLimit; over > 0 {
		points = append(points[:0], points[over:]...)
	}
	return points
}
