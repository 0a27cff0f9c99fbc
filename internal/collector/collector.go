// Package collector supervises one kline stream per tracked symbol. Each
// symbol gets its own task goroutine that seeds history, consumes the live
// stream and redials with exponential backoff when the connection drops.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// TaskState describes where a symbol task is in its connection lifecycle.
type TaskState int

const (
	StateConnecting TaskState = iota
	StateStreaming
	StateBackoff
	StateDegraded
)

func (s TaskState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateBackoff:
		return "BACKOFF"
	case StateDegraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

// Config holds collector dependencies and tuning.
type Config struct {
	Client       ports.MarketDataClient
	Logger       ports.Logger
	Interval     string // Kline interval, e.g. "15m"
	HistoryLimit int    // Klines fetched per (re)connect to reseed downstream
	QueueSize    int    // Per-symbol queue capacity; overflow drops the oldest
	RetryBudget  int    // Consecutive failed dials before the task degrades
	MinBackoff   time.Duration
	MaxBackoff   time.Duration

	// OnSeed delivers history after every successful (re)connect, before any
	// live kline for that connection. It runs on the same goroutine as
	// OnKline, never concurrently with it.
	OnSeed func(ctx context.Context, symbol string, history []*domain.Kline)
	// OnKline delivers closed klines, in order, duplicates removed.
	OnKline func(ctx context.Context, kline *domain.Kline)
	// OnState reports task state changes. Optional.
	OnState func(symbol string, state TaskState)
}

// Collector owns the set of symbol tasks. UpdateSymbols reconciles the
// running set against a target list; Stop tears everything down.
type Collector struct {
	cfg Config

	mu    sync.Mutex
	tasks map[string]*task
}

// queueItem carries either a reseed (seed non-nil) or one closed kline.
// Routing both through the queue keeps OnSeed and OnKline on one goroutine.
type queueItem struct {
	seed  []*domain.Kline
	kline *domain.Kline
}

type task struct {
	symbol string
	cancel context.CancelFunc
	queue  chan queueItem
	done   chan struct{}

	mu       sync.Mutex
	state    TaskState
	lastOpen time.Time
}

func New(cfg Config) (*Collector, error) {
	if cfg.Client == nil || cfg.Logger == nil {
		return nil, ports.ErrConfigurationError
	}
	if cfg.OnKline == nil {
		return nil, ports.ErrConfigurationError
	}
	if cfg.Interval == "" {
		cfg.Interval = "15m"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 5
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Collector{cfg: cfg, tasks: make(map[string]*task)}, nil
}

// UpdateSymbols starts tasks for new symbols and stops tasks whose symbol
// left the target set. Running tasks for retained symbols are untouched.
func (c *Collector) UpdateSymbols(ctx context.Context, symbols []string) {
	target := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		target[s] = struct{}{}
	}

	c.mu.Lock()
	var stopped []*task
	for symbol, t := range c.tasks {
		if _, keep := target[symbol]; !keep {
			t.cancel()
			stopped = append(stopped, t)
			delete(c.tasks, symbol)
		}
	}
	var started []string
	for symbol := range target {
		if _, running := c.tasks[symbol]; running {
			continue
		}
		t := &task{
			symbol: symbol,
			queue:  make(chan queueItem, c.cfg.QueueSize),
			done:   make(chan struct{}),
			state:  StateConnecting,
		}
		taskCtx, cancel := context.WithCancel(ctx)
		t.cancel = cancel
		c.tasks[symbol] = t
		started = append(started, symbol)
		go c.run(taskCtx, t)
		go c.drain(taskCtx, t)
	}
	c.mu.Unlock()

	for _, t := range stopped {
		<-t.done
	}
	if len(started) > 0 || len(stopped) > 0 {
		c.cfg.Logger.Info(ctx, "symbol set reconciled", map[string]interface{}{
			"started": len(started), "stopped": len(stopped), "running": c.Count(),
		})
	}
}

// Stop cancels every task and waits for them to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	tasks := make([]*task, 0, len(c.tasks))
	for symbol, t := range c.tasks {
		t.cancel()
		tasks = append(tasks, t)
		delete(c.tasks, symbol)
	}
	c.mu.Unlock()
	for _, t := range tasks {
		<-t.done
	}
}

// Count returns the number of running tasks.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// States returns a snapshot of every task's state.
func (c *Collector) States() map[string]TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]TaskState, len(c.tasks))
	for symbol, t := range c.tasks {
		t.mu.Lock()
		out[symbol] = t.state
		t.mu.Unlock()
	}
	return out
}

func (c *Collector) setState(t *task, state TaskState) {
	t.mu.Lock()
	changed := t.state != state
	t.state = state
	t.mu.Unlock()
	if changed && c.cfg.OnState != nil {
		c.cfg.OnState(t.symbol, state)
	}
}

// run is the per-symbol connection loop. It never returns until the task
// context is cancelled.
func (c *Collector) run(ctx context.Context, t *task) {
	retry := &backoff.Backoff{
		Min:    c.cfg.MinBackoff,
		Max:    c.cfg.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(t, StateConnecting)

		done, stop, err := c.connect(ctx, t)
		if err != nil {
			failures++
			if failures >= c.cfg.RetryBudget {
				c.setState(t, StateDegraded)
				c.cfg.Logger.Error(ctx, err, "symbol task degraded, retry budget exhausted", map[string]interface{}{
					"symbol": t.symbol, "failures": failures,
				})
			} else {
				c.setState(t, StateBackoff)
			}
			wait := retry.Duration()
			c.cfg.Logger.Warn(ctx, "stream connect failed, backing off", map[string]interface{}{
				"symbol": t.symbol, "failures": failures, "wait": wait.String(),
			})
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}

		failures = 0
		retry.Reset()
		c.setState(t, StateStreaming)

		select {
		case <-done:
			c.cfg.Logger.Warn(ctx, "stream closed, reconnecting", map[string]interface{}{"symbol": t.symbol})
			c.setState(t, StateBackoff)
			select {
			case <-time.After(retry.Duration()):
			case <-ctx.Done():
				stop()
				return
			}
		case <-ctx.Done():
			stop()
			return
		}
	}
}

// connect queues a fresh history seed and opens one stream. The seed travels
// through the per-symbol queue ahead of the dial, so the consumer replays it
// before any live kline from the new connection.
func (c *Collector) connect(ctx context.Context, t *task) (<-chan struct{}, ports.StreamStop, error) {
	history, err := c.cfg.Client.GetKlines(ctx, t.symbol, c.cfg.Interval, c.cfg.HistoryLimit)
	if err != nil {
		return nil, nil, err
	}
	// The newest kline may still be forming; keep only sealed ones.
	for len(history) > 0 && !history[len(history)-1].IsFinal {
		history = history[:len(history)-1]
	}
	if len(history) > 0 {
		t.mu.Lock()
		t.lastOpen = history[len(history)-1].OpenTime
		t.mu.Unlock()
		c.enqueueSeed(ctx, t, history)
	}

	handler := func(k *domain.Kline) {
		if !k.IsFinal {
			return
		}
		t.mu.Lock()
		if !k.OpenTime.After(t.lastOpen) {
			t.mu.Unlock()
			return
		}
		t.lastOpen = k.OpenTime
		t.mu.Unlock()
		c.enqueue(ctx, t, k)
	}
	errHandler := func(err error) {
		c.cfg.Logger.Warn(ctx, "stream error", map[string]interface{}{"symbol": t.symbol, "error": err.Error()})
	}
	return c.cfg.Client.StreamKlines(ctx, t.symbol, c.cfg.Interval, handler, errHandler)
}

// enqueueSeed discards any backlog from the previous connection and queues
// the fresh history. Stale klines predate the reseed, so dropping them loses
// nothing the seed does not carry.
func (c *Collector) enqueueSeed(ctx context.Context, t *task, history []*domain.Kline) {
	for {
		select {
		case <-t.queue:
		default:
			select {
			case t.queue <- queueItem{seed: history}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// enqueue pushes onto the bounded queue, dropping the oldest entry when full.
// Dropping creates a gap the downstream indicator engine detects and reseeds.
// The queue channel is never closed: the stream library may still invoke the
// handler briefly after cancellation.
func (c *Collector) enqueue(ctx context.Context, t *task, k *domain.Kline) {
	for ctx.Err() == nil {
		select {
		case t.queue <- queueItem{kline: k}:
			return
		default:
		}
		select {
		case dropped := <-t.queue:
			if dropped.seed != nil {
				c.cfg.Logger.Warn(ctx, "queue full, dropped pending reseed", map[string]interface{}{
					"symbol": t.symbol,
				})
			} else {
				c.cfg.Logger.Warn(ctx, "queue full, dropped oldest kline", map[string]interface{}{
					"symbol": t.symbol, "dropped_open_time": dropped.kline.OpenTime,
				})
			}
		default:
		}
	}
}

// drain is the per-symbol consumer. A slow callback blocks only this symbol.
func (c *Collector) drain(ctx context.Context, t *task) {
	defer close(t.done)
	for {
		select {
		case item := <-t.queue:
			if item.seed != nil {
				if c.cfg.OnSeed != nil {
					c.cfg.OnSeed(ctx, t.symbol, item.seed)
				}
				continue
			}
			c.cfg.OnKline(ctx, item.kline)
		case <-ctx.Done():
			return
		}
	}
}
