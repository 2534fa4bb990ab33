// Package journal keeps a capped Redis list of recent scheduler events.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"browser-task-scheduler/internal/observer"
	"browser-task-scheduler/internal/telemetry"
)

const (
	defaultKey    = "scheduler:journal"
	defaultMaxLen = 10000
	batchSize     = 64
	writeTimeout  = 2 * time.Second
)

// Journal buffers events and appends them to a Redis list in batches, off the
// caller's goroutine. Events that do not fit the buffer are dropped.
type Journal struct {
	client *redis.Client
	key    string
	maxLen int64
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	events chan observer.Event
	done   chan struct{}
}

func New(client *redis.Client, key string, maxLen int64, logger *zap.Logger) *Journal {
	if key == "" {
		key = defaultKey
	}
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Journal{
		client: client,
		key:    key,
		maxLen: maxLen,
		logger: logger,
		events: make(chan observer.Event, 1024),
		done:   make(chan struct{}),
	}
	go j.loop()
	return j
}

// Observer returns the sink to fan scheduler events into.
func (j *Journal) Observer() observer.Observer {
	return observer.Func(j.record)
}

func (j *Journal) record(ev observer.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.events <- ev:
	default:
		telemetry.JournalWriteFails.Inc()
	}
}

func (j *Journal) loop() {
	defer close(j.done)
	batch := make([]observer.Event, 0, batchSize)
	for ev := range j.events {
		batch = append(batch, ev)
		// Drain whatever is already buffered into the same round trip.
	fill:
		for len(batch) < batchSize {
			select {
			case next, ok := <-j.events:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		if err := j.write(batch); err != nil {
			telemetry.JournalWriteFails.Add(float64(len(batch)))
			j.logger.Warn("journal write failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}
}

func (j *Journal) write(batch []observer.Event) error {
	values := make([]interface{}, 0, len(batch))
	for _, ev := range batch {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		values = append(values, b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	pipe := j.client.TxPipeline()
	pipe.RPush(ctx, j.key, values...)
	pipe.LTrim(ctx, j.key, -j.maxLen, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// Recent returns up to n of the newest events, oldest first.
func (j *Journal) Recent(ctx context.Context, n int64) ([]observer.Event, error) {
	if n <= 0 {
		n = 100
	}
	raw, err := j.client.LRange(ctx, j.key, -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	out := make([]observer.Event, 0, len(raw))
	for _, r := range raw {
		var ev observer.Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			j.logger.Warn("skipping malformed journal entry", zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Close flushes buffered events. Later events are ignored.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.events)
	}
	j.mu.Unlock()
	<-j.done
}
