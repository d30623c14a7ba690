package persist

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/telemetry"
)

// Stats is a snapshot of gateway counters.
type Stats struct {
	Driver    string `json:"driver"`
	Submitted uint64 `json:"submitted"`
	Persisted uint64 `json:"persisted"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Retries   uint64 `json:"retries"`
	Queued    int    `json:"queued"`
}

// Gateway queues committed messages and appends them on a worker pool.
type Gateway struct {
	config   Config
	appender Appender
	metrics  *telemetry.Metrics
	tracer   trace.Tracer

	mu     sync.RWMutex
	closed bool
	queue  chan relay.Message

	startOnce sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	submitted atomic.Uint64
	persisted atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	retries   atomic.Uint64
}

// NewGateway creates a gateway over appender. Call Run to start the workers.
func NewGateway(cfg Config, appender Appender, metrics *telemetry.Metrics) *Gateway {
	cfg = cfg.sanitize()
	if appender == nil {
		appender = Discard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		config:   cfg,
		appender: appender,
		metrics:  metrics,
		tracer:   otel.Tracer(telemetry.InstrumentationName),
		queue:    make(chan relay.Message, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit queues msg for durable storage. It never blocks: when the queue is
// full or the gateway is closed the message is dropped and counted.
func (g *Gateway) Submit(msg relay.Message) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	g.submitted.Add(1)
	if g.closed {
		g.drop(msg, "closed")
		return
	}
	select {
	case g.queue <- msg:
	default:
		g.drop(msg, "queue_full")
	}
}

func (g *Gateway) drop(msg relay.Message, reason string) {
	g.dropped.Add(1)
	g.metrics.PersistFailure(context.Background(), reason)
	log.Printf("[persist] Dropping message %s (room %q seq %d): %s", msg.ID, msg.RoomID, msg.Seq, reason)
}

// Start launches the worker pool. It is safe to call more than once.
func (g *Gateway) Start() {
	g.startOnce.Do(func() {
		for i := 0; i < g.config.Workers; i++ {
			g.wg.Add(1)
			go func() {
				defer g.wg.Done()
				for msg := range g.queue {
					g.persist(msg)
				}
			}()
		}
		log.Printf("[persist] Gateway started with %d workers (driver %s)", g.config.Workers, g.config.Driver)
	})
}

// Run starts the workers and blocks until ctx is cancelled. Queued messages
// keep draining until Close.
func (g *Gateway) Run(ctx context.Context) error {
	g.Start()
	<-ctx.Done()
	return nil
}

// Close stops accepting messages and waits for the queue to drain. If ctx
// expires first, in-flight retries are abandoned and ctx.Err is returned.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	close(g.queue)
	g.mu.Unlock()

	g.Start()
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		g.cancel()
		<-done
		err = ctx.Err()
	}
	g.cancel()

	if cerr := g.appender.Close(); cerr != nil && err == nil {
		err = cerr
	}
	stats := g.Stats()
	log.Printf("[persist] Gateway closed: persisted=%d failed=%d dropped=%d", stats.Persisted, stats.Failed, stats.Dropped)
	return err
}

// Stats returns the current counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Driver:    g.config.Driver,
		Submitted: g.submitted.Load(),
		Persisted: g.persisted.Load(),
		Failed:    g.failed.Load(),
		Dropped:   g.dropped.Load(),
		Retries:   g.retries.Load(),
		Queued:    len(g.queue),
	}
}

func (g *Gateway) persist(msg relay.Message) {
	ctx, span := g.tracer.Start(g.ctx, "persist.append",
		trace.WithAttributes(
			attribute.String("relay.room_id", msg.RoomID),
			attribute.Int64("relay.seq", int64(msg.Seq)),
			attribute.String("persist.driver", g.config.Driver),
		),
	)
	defer span.End()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, g.appendOnce(ctx, msg)
	},
		backoff.WithBackOff(g.newBackOff()),
		backoff.WithMaxTries(uint(g.config.MaxRetries)+1),
		backoff.WithNotify(func(error, time.Duration) { g.retries.Add(1) }),
	)
	if err == nil {
		g.persisted.Add(1)
		span.SetAttributes(attribute.Int("persist.attempts", attempts))
		return
	}

	perr := &Error{Driver: g.config.Driver, MessageID: msg.ID, Attempts: attempts, Cause: err}
	g.failed.Add(1)
	g.metrics.PersistFailure(context.Background(), "append")
	span.RecordError(perr)
	span.SetStatus(codes.Error, "append failed")
	log.Printf("[persist] %v", perr)
}

func (g *Gateway) appendOnce(ctx context.Context, msg relay.Message) error {
	ctx, cancel := context.WithTimeout(ctx, g.config.AppendTimeout)
	defer cancel()
	return g.appender.Append(ctx, msg)
}

// newBackOff doubles the delay from the base up to the maximum, without jitter.
func (g *Gateway) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.config.BaseRetryDelay
	b.MaxInterval = g.config.MaxRetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}
