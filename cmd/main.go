package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/leonelquinteros/gotext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"quant-telegram/config"
	"quant-telegram/internal/chart"
	"quant-telegram/internal/database"
	"quant-telegram/internal/formatter"
	"quant-telegram/internal/metrics"
	"quant-telegram/internal/notifier"
	"quant-telegram/internal/price"
	"quant-telegram/internal/telegram"
	"quant-telegram/lib/helpers"
	"quant-telegram/lib/translation"
)

const (
	metricsSaveInterval = 5 * time.Minute
	shutdownTimeout     = 15 * time.Second
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	setupLogging(settings.Debug)

	gotext.Configure("locales", strings.ToLower(settings.Lang), "default")
	log.Debugf("Using language %s", translation.GetLanguage())

	store, err := database.Open(settings.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	if err := m.Restore(store); err != nil {
		log.Errorf("Failed to load metrics from database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		bot    *telegram.Bot
		sender notifier.Sender = telegram.LogSender{Log: log.WithField("component", "telegram")}
	)
	if !settings.DryRun {
		bot, err = telegram.NewBot(settings.Bot())
		if err != nil {
			log.Fatalf("Failed to create bot: %v", err)
		}
		sender = bot
	}

	n := notifier.New(settings.Notifier(), sender, notifier.WithMetrics(m))
	n.Start(ctx)

	watcher := price.NewWatcher(settings.Watcher(), price.NewTickerSource(settings.APIProKey), n)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Errorf("Price watcher stopped: %v", err)
		}
	}()

	if bot != nil {
		registerCommands(bot, n, watcher)
		go func() {
			if err := bot.Run(ctx); err != nil {
				log.Errorf("Update loop stopped: %v", err)
			}
		}()
	}

	go saveMetricsPeriodically(ctx, m, store)

	server := launchMetricsAndHealthServer(settings.MetricsPort)

	if err := n.CustomMessage(ctx, "🤖 "+translation.Translate("Notifier started"), 0, ""); err != nil {
		log.Errorf("Failed to send startup message: %v", err)
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := n.Stop(shutdownCtx); err != nil {
		log.Errorf("Failed to stop notifier cleanly: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to stop metrics server: %v", err)
	}
	if err := m.Save(store); err != nil {
		log.Errorf("Failed to save metrics: %v", err)
	}
	log.Info("Metrics saved, shutting down")
}

func setupLogging(debug bool) {
	log.SetLevel(log.ErrorLevel)
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Debug("Starting quant telegram notifier...")
}

func registerCommands(bot *telegram.Bot, n *notifier.Notifier, watcher *price.Watcher) {
	mode := bot.Config.ParseMode

	bot.RegisterCommand("ping", translation.Translate("Check that the notifier is alive"), func(ctx context.Context, msg *tgbotapi.Message) (string, error) {
		return "pong", nil
	})

	bot.RegisterCommand("status", translation.Translate("Show throttled keys and pending batches"), func(ctx context.Context, msg *tgbotapi.Message) (string, error) {
		return n.Status(), nil
	})

	bot.RegisterCommand("prices", translation.Translate("Show the last prices of watched coins"), func(ctx context.Context, msg *tgbotapi.Message) (string, error) {
		return pricesText(mode, watcher.Prices()), nil
	})

	bot.RegisterView(telegram.View{
		Name: "status",
		Render: func(ctx context.Context) (string, error) {
			return n.Status(), nil
		},
		Buttons: []telegram.Button{
			{Text: "🔄 " + translation.Translate("Refresh"), Data: "refresh_status", View: "status"},
			{Text: "💹 " + translation.Translate("Prices"), Data: "show_prices", View: "prices"},
		},
	})
	bot.RegisterView(telegram.View{
		Name: "prices",
		Render: func(ctx context.Context) (string, error) {
			return pricesText(mode, watcher.Prices()), nil
		},
		Buttons: []telegram.Button{
			{Text: "🔄 " + translation.Translate("Refresh"), Data: "refresh_prices", View: "prices"},
			{Text: "📋 " + translation.Translate("Status"), Data: "show_status", View: "status"},
		},
	})

	bot.RegisterCommand("chart", translation.Translate("Chart the recent prices of a watched coin, e.g. /chart btc-bitcoin"), func(ctx context.Context, msg *tgbotapi.Message) (string, error) {
		coin := strings.TrimSpace(msg.CommandArguments())
		if coin == "" {
			return formatter.Escape(mode, translation.Translate("Usage: /chart <coin id>")), nil
		}

		data, err := chart.RenderPNG(watcher.History(coin), chart.Options{
			Title: fmt.Sprintf("%s - %s", coin, translation.Translate("recent prices")),
		})
		if err != nil {
			return "", err
		}
		return "", bot.SendPhoto(msg.Chat.ID, coin+".png", data, formatter.Bold(mode, coin))
	})

	bot.RegisterCommand("panel", translation.Translate("Post the status panel with buttons"), func(ctx context.Context, msg *tgbotapi.Message) (string, error) {
		return "", bot.SendView(ctx, "status")
	})
}

func pricesText(mode string, prices []price.Info) string {
	if len(prices) == 0 {
		return formatter.Escape(mode, translation.Translate("No prices yet"))
	}

	var b strings.Builder
	b.WriteString(formatter.Bold(mode, translation.Translate("Watched coins")))
	for _, p := range prices {
		line := fmt.Sprintf("%s $%s (24h %s)", p.Symbol, helpers.FormatPrice(p.PriceUSD), helpers.FormatPercentage(p.PriceChange24h, 2))
		b.WriteString("\n" + formatter.Escape(mode, "▫️ "+line))
	}
	return b.String()
}

func saveMetricsPeriodically(ctx context.Context, m *metrics.Metrics, store *database.Store) {
	ticker := time.NewTicker(metricsSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Save(store); err != nil {
				log.Errorf("Failed to save metrics: %v", err)
			}
		}
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func launchMetricsAndHealthServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthCheckHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("Launching metrics and health endpoint on :%d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start metrics and health server: %v", err)
		}
	}()
	return server
}
