package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeStream is one simulated WebSocket connection.
type fakeStream struct {
	handler func(*domain.Kline)
	done    chan struct{}
}

func (s *fakeStream) closeConn() { close(s.done) }

// fakeClient implements the subset of ports.MarketDataClient the collector
// uses. Each successful StreamKlines call is published on the streams channel
// so tests can drive the connection.
type fakeClient struct {
	mu       sync.Mutex
	history  []*domain.Kline
	dialErrs int // Number of leading dials that fail
	dials    int

	streams chan *fakeStream
}

func newFakeClient(history []*domain.Kline) *fakeClient {
	return &fakeClient{history: history, streams: make(chan *fakeStream, 8)}
}

func (c *fakeClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Kline, len(c.history))
	copy(out, c.history)
	return out, nil
}

func (c *fakeClient) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	return nil, nil
}

func (c *fakeClient) StreamKlines(ctx context.Context, symbol, interval string, handler func(*domain.Kline), errHandler func(error)) (<-chan struct{}, ports.StreamStop, error) {
	c.mu.Lock()
	c.dials++
	fail := c.dials <= c.dialErrs
	c.mu.Unlock()
	if fail {
		return nil, nil, ports.ErrConnectionFailed
	}
	s := &fakeStream{handler: handler, done: make(chan struct{})}
	c.streams <- s
	return s.done, func() {}, nil
}

func (c *fakeClient) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, errors.New("not implemented")
}

func (c *fakeClient) GetExchangeSymbols(ctx context.Context) ([]ports.SymbolInfo, error) {
	return nil, nil
}

func (c *fakeClient) Get24hStats(ctx context.Context) ([]ports.SymbolStats, error) { return nil, nil }
func (c *fakeClient) Ping(ctx context.Context) error                               { return nil }
func (c *fakeClient) GetServerTime(ctx context.Context) (time.Time, error)         { return time.Now(), nil }

func kline(symbol string, openTime time.Time, final bool) *domain.Kline {
	return &domain.Kline{
		Symbol:    symbol,
		Interval:  "15m",
		OpenTime:  openTime,
		CloseTime: openTime.Add(15*time.Minute - time.Millisecond),
		Open:      100,
		High:      101,
		Low:       99,
		Close:     100.5,
		Volume:    10,
		IsFinal:   final,
	}
}

type sink struct {
	mu     sync.Mutex
	seeds  [][]*domain.Kline
	klines []*domain.Kline
	states []TaskState
	gotK   chan struct{}
	gotSd  chan struct{}
	gotS   chan TaskState
}

func newSink() *sink {
	return &sink{
		gotK:  make(chan struct{}, 64),
		gotSd: make(chan struct{}, 64),
		gotS:  make(chan TaskState, 64),
	}
}

func (s *sink) onSeed(ctx context.Context, symbol string, history []*domain.Kline) {
	s.mu.Lock()
	s.seeds = append(s.seeds, history)
	s.mu.Unlock()
	s.gotSd <- struct{}{}
}

func (s *sink) onKline(ctx context.Context, k *domain.Kline) {
	s.mu.Lock()
	s.klines = append(s.klines, k)
	s.mu.Unlock()
	s.gotK <- struct{}{}
}

func (s *sink) onState(symbol string, state TaskState) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
	s.gotS <- state
}

func (s *sink) klineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.klines)
}

func waitState(t *testing.T, s *sink, want TaskState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-s.gotS:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func waitKline(t *testing.T, s *sink) {
	t.Helper()
	select {
	case <-s.gotK:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for kline delivery")
	}
}

func waitSeed(t *testing.T, s *sink) {
	t.Helper()
	select {
	case <-s.gotSd:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for seed delivery")
	}
}

func newCollector(t *testing.T, client *fakeClient, s *sink, retryBudget int) *Collector {
	t.Helper()
	c, err := New(Config{
		Client:       client,
		Logger:       nopLogger{},
		Interval:     "15m",
		HistoryLimit: 10,
		QueueSize:    4,
		RetryBudget:  retryBudget,
		MinBackoff:   time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		OnSeed:       s.onSeed,
		OnKline:      s.onKline,
		OnState:      s.onState,
	})
	require.NoError(t, err)
	return c
}

func TestCollector_SeedsThenStreams(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	history := []*domain.Kline{
		kline("ETHUSDT", base, true),
		kline("ETHUSDT", base.Add(15*time.Minute), true),
		kline("ETHUSDT", base.Add(30*time.Minute), false), // still forming
	}
	client := newFakeClient(history)
	s := newSink()
	c := newCollector(t, client, s, 3)
	defer c.Stop()

	c.UpdateSymbols(context.Background(), []string{"ETHUSDT"})
	stream := <-client.streams
	waitState(t, s, StateStreaming)
	waitSeed(t, s)

	s.mu.Lock()
	require.Len(t, s.seeds, 1)
	assert.Len(t, s.seeds[0], 2, "unfinished kline must be trimmed from the seed")
	s.mu.Unlock()

	// A live kline older than the seed tail is a replay and is discarded.
	stream.handler(kline("ETHUSDT", base.Add(15*time.Minute), true))
	// Unfinished klines are discarded too.
	stream.handler(kline("ETHUSDT", base.Add(30*time.Minute), false))
	next := kline("ETHUSDT", base.Add(30*time.Minute), true)
	stream.handler(next)
	waitKline(t, s)

	s.mu.Lock()
	require.Len(t, s.klines, 1)
	assert.Equal(t, next.OpenTime, s.klines[0].OpenTime)
	s.mu.Unlock()
}

func TestCollector_ReconnectsAfterStreamCloses(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	client := newFakeClient([]*domain.Kline{kline("ETHUSDT", base, true)})
	s := newSink()
	c := newCollector(t, client, s, 3)
	defer c.Stop()

	c.UpdateSymbols(context.Background(), []string{"ETHUSDT"})
	first := <-client.streams
	waitState(t, s, StateStreaming)
	waitSeed(t, s)

	first.closeConn()
	waitState(t, s, StateBackoff)
	<-client.streams
	waitState(t, s, StateStreaming)
	waitSeed(t, s)

	s.mu.Lock()
	assert.Len(t, s.seeds, 2, "every reconnect reseeds")
	s.mu.Unlock()
}

func TestCollector_ReseedWaitsForConsumer(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	client := newFakeClient([]*domain.Kline{kline("ETHUSDT", base, true)})

	var (
		mu       sync.Mutex
		seeds    int
		entered  = make(chan struct{})
		released = make(chan struct{})
		gotSeed  = make(chan struct{}, 4)
	)
	c, err := New(Config{
		Client:       client,
		Logger:       nopLogger{},
		Interval:     "15m",
		HistoryLimit: 10,
		QueueSize:    4,
		RetryBudget:  3,
		MinBackoff:   time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		OnSeed: func(context.Context, string, []*domain.Kline) {
			mu.Lock()
			seeds++
			mu.Unlock()
			gotSeed <- struct{}{}
		},
		OnKline: func(context.Context, *domain.Kline) {
			close(entered)
			<-released
		},
		OnState: func(string, TaskState) {},
	})
	require.NoError(t, err)
	defer c.Stop()

	c.UpdateSymbols(context.Background(), []string{"ETHUSDT"})
	first := <-client.streams
	<-gotSeed

	// Park the consumer on a live kline, then force a reconnect. The
	// reconnect's seed must wait behind the parked consumer instead of
	// landing concurrently.
	first.handler(kline("ETHUSDT", base.Add(15*time.Minute), true))
	<-entered
	first.closeConn()
	<-client.streams

	mu.Lock()
	assert.Equal(t, 1, seeds, "reseed delivered while the consumer is busy")
	mu.Unlock()

	close(released)
	select {
	case <-gotSeed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reconnect seed")
	}
}

func TestCollector_DegradesAfterRetryBudget(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	client := newFakeClient([]*domain.Kline{kline("ETHUSDT", base, true)})
	client.dialErrs = 2
	s := newSink()
	c := newCollector(t, client, s, 2)
	defer c.Stop()

	c.UpdateSymbols(context.Background(), []string{"ETHUSDT"})
	waitState(t, s, StateDegraded)

	// The task keeps retrying while degraded and recovers once a dial lands.
	<-client.streams
	waitState(t, s, StateStreaming)
}

func TestCollector_OverflowDropsOldest(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	client := newFakeClient([]*domain.Kline{kline("ETHUSDT", base, true)})

	var (
		mu       sync.Mutex
		got      []time.Time
		entered  = make(chan struct{})
		released = make(chan struct{})
		gotK     = make(chan struct{}, 16)
	)
	c, err := New(Config{
		Client:       client,
		Logger:       nopLogger{},
		Interval:     "15m",
		HistoryLimit: 10,
		QueueSize:    4,
		RetryBudget:  3,
		MinBackoff:   time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		OnSeed:       func(context.Context, string, []*domain.Kline) {},
		OnKline: func(_ context.Context, k *domain.Kline) {
			mu.Lock()
			first := len(got) == 0
			got = append(got, k.OpenTime)
			mu.Unlock()
			if first {
				close(entered)
				<-released
			}
			gotK <- struct{}{}
		},
		OnState: func(string, TaskState) {},
	})
	require.NoError(t, err)
	defer c.Stop()

	c.UpdateSymbols(context.Background(), []string{"ETHUSDT"})
	stream := <-client.streams

	at := func(i int) time.Time { return base.Add(time.Duration(i) * 15 * time.Minute) }

	// The first kline parks the consumer so the queue backs up.
	stream.handler(kline("ETHUSDT", at(1), true))
	<-entered
	for i := 2; i <= 5; i++ { // fills the queue
		stream.handler(kline("ETHUSDT", at(i), true))
	}
	stream.handler(kline("ETHUSDT", at(6), true)) // evicts at(2)
	close(released)

	for i := 0; i < 5; i++ {
		select {
		case <-gotK:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for kline delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []time.Time{at(1), at(3), at(4), at(5), at(6)}
	assert.Equal(t, want, got)
}

func TestCollector_UpdateSymbolsStopsRemoved(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	client := newFakeClient([]*domain.Kline{kline("ETHUSDT", base, true)})
	s := newSink()
	c := newCollector(t, client, s, 3)
	defer c.Stop()

	ctx := context.Background()
	c.UpdateSymbols(ctx, []string{"ETHUSDT", "BTCUSDT"})
	<-client.streams
	<-client.streams
	assert.Equal(t, 2, c.Count())

	c.UpdateSymbols(ctx, []string{"ETHUSDT"})
	assert.Equal(t, 1, c.Count())

	states := c.States()
	_, ok := states["BTCUSDT"]
	assert.False(t, ok)
}
