// Package audit records every bus event as structured log output for
// compliance review and replay. The writer subscribes to the whole bus and
// buffers writes off the hot path.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/maestro-agents/maestro/internal/events"
)

// Format selects the audit output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config configures the audit writer.
type Config struct {
	// Enabled turns auditing on. A disabled writer accepts and drops events.
	Enabled bool

	// Format is the output encoding, JSON by default.
	Format Format

	// Output receives the audit records (defaults to os.Stdout).
	Output io.Writer

	// BufferSize bounds the in-flight event queue. Events beyond it are
	// dropped and counted rather than blocking publishers.
	BufferSize int
}

// Writer is the audit sink. Register Handle with Bus.SubscribeAll.
type Writer struct {
	config  Config
	slogger *slog.Logger
	buffer  chan events.Event
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// NewWriter creates an audit writer and starts its background flush loop.
func NewWriter(config Config) *Writer {
	if !config.Enabled {
		return &Writer{config: config}
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(config.Output, nil)
	} else {
		handler = slog.NewJSONHandler(config.Output, nil)
	}

	w := &Writer{
		config:  config,
		slogger: slog.New(handler).With("component", "audit"),
		buffer:  make(chan events.Event, config.BufferSize),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Handle enqueues one event. A full buffer drops the event and counts it;
// publishing never blocks on the audit sink.
func (w *Writer) Handle(_ context.Context, ev events.Event) error {
	if !w.config.Enabled {
		return nil
	}
	select {
	case w.buffer <- ev:
	default:
		w.dropped.Add(1)
	}
	return nil
}

// Dropped returns the number of events lost to a full buffer.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Close flushes buffered events and stops the writer.
func (w *Writer) Close() {
	if !w.config.Enabled {
		return
	}
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case ev := <-w.buffer:
			w.write(ev)
		case <-w.done:
			for {
				select {
				case ev := <-w.buffer:
					w.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(ev events.Event) {
	attrs := []slog.Attr{
		slog.String("event_type", string(ev.EventType())),
		slog.String("conversation_id", ev.Conversation()),
		slog.Time("occurred_at", ev.OccurredAt()),
	}
	if detail, err := json.Marshal(ev); err == nil {
		attrs = append(attrs, slog.String("detail", string(detail)))
	}
	w.slogger.LogAttrs(context.Background(), levelFor(ev.EventType()), "audit", attrs...)
}

// levelFor maps failure events to warnings so operators can filter on them.
func levelFor(t events.Type) slog.Level {
	switch t {
	case events.TypeRequestFailed, events.TypeSubtaskFailed, events.TypePlanFailed, events.TypeValidationWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
