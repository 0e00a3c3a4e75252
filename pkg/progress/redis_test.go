package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/batch-api-runner/internal/testutil"
)

// setupTestRedis connects to a local Redis or skips the test.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestNewRedisReporter(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	r := NewRedisReporter(client, "", zerolog.Nop())
	defer r.Close()
	if r.Channel() != DefaultChannel {
		t.Errorf("Channel() = %q, want %q", r.Channel(), DefaultChannel)
	}

	r = NewRedisReporter(client, "custom", zerolog.Nop())
	defer r.Close()
	if r.Channel() != "custom" {
		t.Errorf("Channel() = %q, want custom", r.Channel())
	}
}

func TestNewRedisReporter_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisReporter should panic with nil redis client")
		}
	}()
	NewRedisReporter(nil, "", zerolog.Nop())
}

func TestRedisReporter_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	r := NewRedisReporter(client, "test", zerolog.Nop())
	defer r.Close()
	if err := r.Publish(context.Background(), Update{Completed: 1, Total: 2}); err == nil {
		t.Error("Publish() to unreachable server should fail")
	}

	// Report swallows the error.
	r.Report(context.Background(), Update{Completed: 1, Total: 2})
}

func TestRedisReporter_HungServerDoesNotBlockReport(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testutil.SilentServer(t)})
	defer client.Close()

	r := NewRedisReporter(client, "test", zerolog.Nop())

	const updates = 200
	start := time.Now()
	for i := 1; i <= updates; i++ {
		r.Report(context.Background(), Update{BatchID: "hung", Completed: i, Total: updates})
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Report() took %v for %d updates, want non-blocking", elapsed, updates)
	}

	// At most one update is in flight and DefaultQueueSize are queued.
	if minDropped := int64(updates - DefaultQueueSize - 1); r.Dropped() < minDropped {
		t.Errorf("Dropped() = %d, want >= %d", r.Dropped(), minDropped)
	}

	start = time.Now()
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Close() took %v, want bounded by the publish timeout", elapsed)
	}

	// Reports after Close are ignored.
	r.Report(context.Background(), Update{Completed: 1, Total: 1})
}

func TestRedisReporter_QueueKeepsLatestUpdate(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testutil.SilentServer(t)})
	defer client.Close()

	r := NewRedisReporter(client, "test", zerolog.Nop())
	defer r.Close()

	for i := 1; i <= 3*DefaultQueueSize; i++ {
		r.Report(context.Background(), Update{Completed: i, Total: 3 * DefaultQueueSize})
	}

	var last Update
	for len(r.updates) > 0 {
		select {
		case u := <-r.updates:
			last = u
		default:
		}
	}
	if last.Completed != 3*DefaultQueueSize {
		t.Errorf("last queued update = %d, want %d", last.Completed, 3*DefaultQueueSize)
	}
}

func TestRedisReporter_Publish(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	channel := "batch:progress:test"
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	r := NewRedisReporter(client, channel, zerolog.Nop())
	defer r.Close()
	want := Update{BatchID: "b1", Completed: 3, Total: 10, Timestamp: time.Now().UTC().Truncate(time.Second)}

	if err := r.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got Update
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		if got.BatchID != want.BatchID || got.Completed != want.Completed || got.Total != want.Total {
			t.Errorf("received %+v, want %+v", got, want)
		}
		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedisReporter_PublishAfterCancel(t *testing.T) {
	client := setupTestRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRedisReporter(client, "batch:progress:test", zerolog.Nop())
	defer r.Close()
	if err := r.Publish(ctx, Update{Completed: 2, Total: 5}); err != nil {
		t.Errorf("Publish() on cancelled ctx error = %v, want final update delivered", err)
	}
}
