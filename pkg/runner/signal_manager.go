package runner

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// SignalManager turns OS interrupts into context cancellation.
// After an interrupt has been handled, Reset re-arms it for the next one.
type SignalManager struct {
	parent  context.Context
	signals []os.Signal

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSignalManager listens for sigs under parent; with no sigs it uses
// SIGINT and SIGTERM.
func NewSignalManager(parent context.Context, sigs ...os.Signal) *SignalManager {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	sm := &SignalManager{parent: parent, signals: sigs}
	sm.Reset()
	return sm
}

// Context is cancelled by the next signal or by the parent.
func (sm *SignalManager) Context() context.Context {
	return sm.ctx
}

// Interrupted reports whether a signal, rather than the parent, cancelled the context.
func (sm *SignalManager) Interrupted() bool {
	return sm.ctx.Err() != nil && sm.parent.Err() == nil
}

// Reset re-arms the listener.
func (sm *SignalManager) Reset() {
	if sm.cancel != nil {
		sm.cancel()
	}
	sm.ctx, sm.cancel = signal.NotifyContext(sm.parent, sm.signals...)
}

// Stop permanently stops the listener.
func (sm *SignalManager) Stop() {
	if sm.cancel != nil {
		sm.cancel()
	}
}

// CheckRace waits briefly for a cancellation that may trail a read error.
// Some terminals deliver EOF on Ctrl+C slightly before the signal.
func (sm *SignalManager) CheckRace() {
	if sm.ctx.Err() != nil {
		return
	}
	select {
	case <-sm.ctx.Done():
	case <-time.After(100 * time.Millisecond):
	}
}
