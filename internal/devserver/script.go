package devserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/realtime-sync/internal/model"
)

// LoadScript reads one event per line from a JSONL file. Event ids in the
// file are ignored; the broker assigns its own.
func LoadScript(path string) ([]model.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []model.Event
	scanner := bufio.NewScanner(file)

	// Increase buffer size for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev model.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if !ev.Type.Valid() {
			return nil, fmt.Errorf("line %d: unknown event type %q", lineNum, ev.Type)
		}
		events = append(events, ev)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no events in %s", path)
	}

	return events, nil
}

// Replayer publishes a scripted sequence of events at a fixed interval.
type Replayer struct {
	broker   *Broker
	events   []model.Event
	interval time.Duration
	loop     bool
	logger   *zap.Logger
}

func NewReplayer(broker *Broker, events []model.Event, interval time.Duration, loop bool, logger *zap.Logger) *Replayer {
	return &Replayer{
		broker:   broker,
		events:   events,
		interval: interval,
		loop:     loop,
		logger:   logger,
	}
}

// Run publishes one event per tick. Without looping it returns after the
// last event.
func (r *Replayer) Run(ctx context.Context) {
	r.logger.Info("script replay starting",
		zap.Int("events", len(r.events)),
		zap.Duration("interval", r.interval),
		zap.Bool("loop", r.loop),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("script replay stopping")
			return
		case <-ticker.C:
			ev := r.events[next]
			ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
			queues := r.broker.Publish(ev)
			r.logger.Debug("script event published", zap.Stringer("event", ev), zap.Int("queues", queues))

			next++
			if next == len(r.events) {
				if !r.loop {
					r.logger.Info("script replay finished")
					return
				}
				next = 0
			}
		}
	}
}
