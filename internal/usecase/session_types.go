package usecase

import (
	"sync"
	"time"

	"chromate/internal/ports"
)

type activeCapture struct {
	session    ports.CaptureSession
	generation uint64
	createdAt  time.Time
	done       chan struct{}

	stateMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

func newActiveCapture(session ports.CaptureSession, generation uint64) *activeCapture {
	return &activeCapture{
		session:    session,
		generation: generation,
		createdAt:  time.Now(),
		done:       make(chan struct{}),
	}
}

func (a *activeCapture) markStarted() {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.started = true
}

func (a *activeCapture) hasStarted() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.started
}

func (a *activeCapture) age() time.Duration {
	return time.Since(a.createdAt)
}

func (a *activeCapture) stop() {
	a.stopOnce.Do(func() {
		_ = a.session.Stop()
	})
}

// turn is one interpret-and-execute cycle. Standalone turns were submitted
// without a live session.
type turn struct {
	generation uint64
	standalone bool
}
