package store

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tabletd/internal/tablet"
)

// JournalOptions configures a Journal.
type JournalOptions struct {
	// Buffer is the number of pending writes before events are dropped.
	Buffer int
	// BatchSize caps how many events go into one transaction.
	BatchSize int
	// FlushInterval bounds how long an event waits for its batch.
	FlushInterval time.Duration
	Logger        *slog.Logger
	// Now stamps events; it defaults to time.Now.
	Now func() time.Time
}

type journalOp struct {
	event   *EventRecord
	added   *tablet.ToolInfo
	removed *tablet.DeviceID
	at      time.Time
	flushed chan struct{}
}

// Journal writes pointer events and tool lifecycle changes to a Store
// from a background goroutine. PushEvent never blocks; writes that do not
// fit the buffer are dropped and counted. Writes must not race with Close.
type Journal struct {
	store  *Store
	opts   JournalOptions
	logger *slog.Logger

	ops       chan journalOp
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewJournal starts a journal writing to s.
func NewJournal(s *Store, opts JournalOptions) *Journal {
	if opts.Buffer < 1 {
		opts.Buffer = 1024
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 128
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 250 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	j := &Journal{
		store:  s,
		opts:   opts,
		logger: logger.With("component", "journal"),
		ops:    make(chan journalOp, opts.Buffer),
		done:   make(chan struct{}),
	}
	go j.loop()
	return j
}

func (j *Journal) enqueue(op journalOp) {
	if j.closed.Load() {
		j.dropped.Add(1)
		return
	}
	select {
	case j.ops <- op:
	default:
		j.dropped.Add(1)
	}
}

// PushEvent implements tablet.EventSink.
func (j *Journal) PushEvent(ev tablet.Event) {
	rec := NewEventRecord(ev, j.opts.Now())
	j.enqueue(journalOp{event: &rec})
}

// ToolDescribed records a tool once its description is complete.
func (j *Journal) ToolDescribed(info tablet.ToolInfo) {
	j.enqueue(journalOp{added: &info, at: j.opts.Now()})
}

// ToolRemoved records a tool going away.
func (j *Journal) ToolRemoved(info tablet.ToolInfo) {
	device := info.Device
	j.enqueue(journalOp{removed: &device, at: j.opts.Now()})
}

// Flush blocks until every write queued before the call is committed.
func (j *Journal) Flush() {
	if j.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case j.ops <- journalOp{flushed: done}:
	case <-j.done:
		return
	}
	select {
	case <-done:
	case <-j.done:
	}
}

// Dropped returns the number of writes lost to a full buffer.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Failed returns the number of writes the database rejected.
func (j *Journal) Failed() uint64 { return j.failed.Load() }

// Close drains pending writes and stops the writer. The Store stays open.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		j.closed.Store(true)
		close(j.ops)
	})
	<-j.done
	return nil
}

func (j *Journal) loop() {
	defer close(j.done)

	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]EventRecord, 0, j.opts.BatchSize)
	commit := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.store.InsertEvents(batch); err != nil {
			j.failed.Add(uint64(len(batch)))
			j.logger.Error("journal write failed", "events", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case op, ok := <-j.ops:
			if !ok {
				commit()
				return
			}
			switch {
			case op.event != nil:
				batch = append(batch, *op.event)
				if len(batch) >= j.opts.BatchSize {
					commit()
				}
			case op.added != nil:
				// Tool rows go in before the events that follow them.
				commit()
				if err := j.store.RecordToolAdded(*op.added, op.at); err != nil {
					j.failed.Add(1)
					j.logger.Error("journal tool write failed", "device", op.added.Device, "error", err)
				}
			case op.removed != nil:
				commit()
				if err := j.store.RecordToolRemoved(*op.removed, op.at); err != nil {
					j.failed.Add(1)
					j.logger.Warn("journal tool removal failed", "device", *op.removed, "error", err)
				}
			case op.flushed != nil:
				commit()
				close(op.flushed)
			}
		case <-ticker.C:
			commit()
		}
	}
}
