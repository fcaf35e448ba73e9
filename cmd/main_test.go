package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quant-telegram/internal/formatter"
	"quant-telegram/internal/price"
)

func TestPricesText(t *testing.T) {
	assert.Equal(t, "No prices yet", pricesText(formatter.ParseModeHTML, nil))

	text := pricesText(formatter.ParseModeHTML, []price.Info{
		{ID: "btc-bitcoin", Symbol: "BTC", PriceUSD: 45000, PriceChange24h: 1.5, UpdatedAt: time.Now()},
		{ID: "eth-ethereum", Symbol: "ETH", PriceUSD: 3200.5, PriceChange24h: -0.25},
	})
	assert.Equal(t, "<b>Watched coins</b>\n▫️ BTC $45,000.00 (24h +1.50%)\n▫️ ETH $3,200.50 (24h -0.25%)", text)
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	healthCheckHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
