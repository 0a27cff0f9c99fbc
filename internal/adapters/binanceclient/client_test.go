package binanceclient

import (
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restKline(openTime, closeTime time.Time) *futures.Kline {
	return &futures.Kline{
		OpenTime:  openTime.UnixMilli(),
		CloseTime: closeTime.UnixMilli(),
		Open:      "100.5",
		High:      "101",
		Low:       "99.5",
		Close:     "100.8",
		Volume:    "12.5",
	}
}

func TestTranslateBinanceKline_SealedCandleIsFinal(t *testing.T) {
	open := time.Now().Add(-30 * time.Minute)
	k, err := translateBinanceKline(restKline(open, open.Add(15*time.Minute-time.Millisecond)), "ETHUSDT", "15m")
	require.NoError(t, err)
	assert.True(t, k.IsFinal)
	assert.Equal(t, "ETHUSDT", k.Symbol)
	assert.Equal(t, "15m", k.Interval)
	assert.Equal(t, 100.8, k.Close)
}

func TestTranslateBinanceKline_FormingCandleIsNotFinal(t *testing.T) {
	// The last row of a history response is the candle still being built.
	open := time.Now().Add(-5 * time.Minute)
	k, err := translateBinanceKline(restKline(open, open.Add(15*time.Minute-time.Millisecond)), "ETHUSDT", "15m")
	require.NoError(t, err)
	assert.False(t, k.IsFinal, "a candle whose close time has not passed is still forming")
}

func TestTranslateBinanceKline_RejectsBadPrice(t *testing.T) {
	bk := restKline(time.Now().Add(-time.Hour), time.Now().Add(-45*time.Minute))
	bk.Close = "not-a-number"
	_, err := translateBinanceKline(bk, "ETHUSDT", "15m")
	require.Error(t, err)
}
