package pipeline

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/turbolytics/porter/internal/registry"
)

var (
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
)

// FSM guards run status transitions. Terminal statuses admit no exits,
// so a finished run cannot be reopened by a racing update.
type FSM struct {
	mu          sync.Mutex
	Transitions map[registry.RunStatus]map[registry.RunStatus]struct{}

	current registry.RunStatus
	logger  *zap.Logger
}

type FSMOption func(*FSM)

func FSMWithLogger(logger *zap.Logger) FSMOption {
	return func(f *FSM) {
		f.logger = logger
	}
}

func FSMWithInitialState(status registry.RunStatus) FSMOption {
	return func(f *FSM) {
		f.current = status
	}
}

func NewFSM(opts ...FSMOption) *FSM {
	f := &FSM{
		current: registry.RunQueued,
		logger:  zap.NewNop(),

		Transitions: map[registry.RunStatus]map[registry.RunStatus]struct{}{
			registry.RunQueued: {
				registry.RunRunning: {},
				registry.RunFailed:  {}, // Preflight failures skip RUNNING
			},
			registry.RunRunning: {
				registry.RunSucceeded: {},
				registry.RunFailed:    {},
			},
			registry.RunSucceeded: {},
			registry.RunFailed:    {},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FSM) Current() registry.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FSM) canTransition(to registry.RunStatus) bool {
	if _, ok := f.Transitions[f.current][to]; ok {
		return true
	}
	return false
}

func (f *FSM) Transition(to registry.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.canTransition(to) {
		f.logger.Error("invalid status transition",
			zap.String("from", string(f.current)),
			zap.String("to", string(to)),
		)
		return ErrInvalidTransition
	}
	previous := f.current
	f.current = to

	f.logger.Info("status transitioned",
		zap.String("status", string(f.current)),
		zap.String("from", string(previous)),
	)
	return nil
}
