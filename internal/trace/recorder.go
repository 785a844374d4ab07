package trace

import (
	"sync"

	"tabletd/internal/tablet"
	"tabletd/internal/window"
)

// Recorder collects submitted notifications for a later Save. Its Record
// method fits session.Options.Tap.
type Recorder struct {
	mu      sync.Mutex
	steps   []Step
	skipped int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one notification.
func (r *Recorder) Record(n tablet.Notification) {
	st, err := FromNotification(n)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.skipped++
		return
	}
	r.steps = append(r.steps, st)
}

// Len returns the number of recorded steps.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

// Skipped returns how many notifications could not be recorded.
func (r *Recorder) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

// Trace snapshots the recording together with the window table it ran
// against.
func (r *Recorder) Trace(windows []window.Info) *Trace {
	r.mu.Lock()
	steps := append([]Step{}, r.steps...)
	r.mu.Unlock()

	tr := &Trace{Version: Version, Steps: steps}
	for _, w := range windows {
		for _, s := range w.Surfaces {
			tr.Windows = append(tr.Windows, Window{Surface: uint32(s), Window: uint64(w.Window), Scale: w.Scale})
		}
	}
	return tr
}

// Save writes the recording to path.
func (r *Recorder) Save(path string, windows []window.Info) error {
	return Save(r.Trace(windows), path)
}
