package ports

import (
	"context"
	"time"

	"cryptoSignalBot/internal/domain"
)

// SymbolInfo describes one tradable instrument as reported by the exchange.
type SymbolInfo struct {
	Symbol     string
	Status     string // e.g. "TRADING"
	QuoteAsset string // e.g. "USDT"
}

// SymbolStats carries the rolling 24h statistics used for universe filtering.
type SymbolStats struct {
	Symbol           string
	LastPrice        float64
	PriceChangePct   float64 // 24h change in percent
	QuoteVolume      float64 // 24h quote-asset turnover
}

// StreamStop requests a graceful shutdown of a kline stream.
type StreamStop func()

// MarketDataClient defines the read-only exchange surface the bot needs:
// historical and streaming klines, mark prices, and instrument metadata.
// One stream corresponds to one connection; reconnect policy is owned by the
// caller, which lets the collector drive its own backoff state machine.
type MarketDataClient interface {
	// GetKlines retrieves the most recent closed klines for a symbol.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)

	// GetKlinesRange fetches all klines between start and end, paging as needed.
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)

	// StreamKlines opens a single WebSocket kline stream. The handler receives
	// every kline event (final and in-progress); errHandler receives stream
	// errors. done is closed when the connection ends for any reason; stop
	// tears the connection down.
	StreamKlines(ctx context.Context, symbol, interval string, handler func(kline *domain.Kline), errHandler func(err error)) (done <-chan struct{}, stop StreamStop, err error)

	// GetMarkPrice retrieves the current mark price for a given symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetExchangeSymbols lists all instruments known to the exchange.
	GetExchangeSymbols(ctx context.Context) ([]SymbolInfo, error)

	// Get24hStats retrieves 24h rolling statistics for all symbols.
	Get24hStats(ctx context.Context) ([]SymbolStats, error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)
}

// SymbolProvider supplies the vetted set of tradable symbols. The core treats
// it as an external, replaceable input.
type SymbolProvider interface {
	// Refresh recomputes and returns the current symbol universe.
	Refresh(ctx context.Context) ([]string, error)
}
