package progress

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the pub/sub channel updates are published on.
const DefaultChannel = "batch:progress"

// DefaultQueueSize is the number of updates a RedisReporter buffers.
const DefaultQueueSize = 64

// RedisReporter publishes updates as JSON on a Redis pub/sub channel so that
// another process (a dashboard, a UI) can render them. Nothing is stored.
//
// Report only enqueues; one goroutine publishes. When the queue is full the
// oldest pending update is replaced, so a slow or hung Redis never holds up
// the batch and the latest count still goes out.
type RedisReporter struct {
	redis   *redis.Client
	channel string
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	closed  bool
	updates chan Update
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisReporter creates a reporter and starts its publisher.
// It panics if redisClient is nil. Call Close to stop it.
func NewRedisReporter(redisClient *redis.Client, channel string, logger zerolog.Logger) *RedisReporter {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisReporter{
		redis:   redisClient,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger,
		updates: make(chan Update, DefaultQueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.publishLoop()
	return r
}

// Channel returns the channel updates are published on.
func (r *RedisReporter) Channel() string {
	return r.channel
}

// Dropped returns how many updates were discarded because the queue was full.
func (r *RedisReporter) Dropped() int64 {
	return r.dropped.Load()
}

// Report queues u for publishing and returns immediately.
func (r *RedisReporter) Report(_ context.Context, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	select {
	case r.updates <- u:
		return
	default:
	}

	// Queue full: make room by discarding the oldest pending update.
	select {
	case <-r.updates:
		r.dropped.Add(1)
	default:
	}
	select {
	case r.updates <- u:
	default:
		r.dropped.Add(1)
	}
}

func (r *RedisReporter) publishLoop() {
	defer close(r.done)

	for u := range r.updates {
		if r.ctx.Err() != nil {
			continue
		}
		if err := r.publish(r.ctx, u); err != nil {
			r.logger.Warn().
				Err(err).
				Str("channel", r.channel).
				Str("batch_id", u.BatchID).
				Msg("Failed to publish progress")
		}
	}

	if n := r.dropped.Load(); n > 0 {
		r.logger.Debug().
			Int64("dropped", n).
			Str("channel", r.channel).
			Msg("Progress updates dropped while Redis was slow")
	}
}

// Close stops accepting updates and waits up to one publish timeout for the
// queue to drain. Whatever is left after that is abandoned; closing the Redis
// client afterwards aborts a publish that is still blocked.
func (r *RedisReporter) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.updates)
	}
	r.mu.Unlock()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-r.done:
	case <-timer.C:
		r.logger.Warn().
			Str("channel", r.channel).
			Msg("Abandoning unpublished progress updates")
	}
	r.cancel()
	return nil
}

// Publish sends u and returns any Redis error.
func (r *RedisReporter) Publish(ctx context.Context, u Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}

	// A cancelled batch still gets its last update out.
	return r.send(context.WithoutCancel(ctx), payload)
}

func (r *RedisReporter) publish(ctx context.Context, u Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return r.send(ctx, payload)
}

func (r *RedisReporter) send(ctx context.Context, payload []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.redis.Publish(pubCtx, r.channel, payload).Err()
}

// CheckHealth pings the Redis server.
func (r *RedisReporter) CheckHealth(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}
