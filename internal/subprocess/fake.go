package subprocess

import (
	"context"
	"sync"
)

// Recorder is a Runner that records commands instead of starting them.
// Handler, when set, decides each command's outcome.
type Recorder struct {
	Handler func(ctx context.Context, cmd Command) (*Result, error)

	mu       sync.Mutex
	commands []Command
}

// Run records cmd and delegates to Handler.
func (r *Recorder) Run(ctx context.Context, cmd Command) (*Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.Handler == nil {
		return &Result{}, nil
	}

	return r.Handler(ctx, cmd)
}

// Commands returns everything run so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Command(nil), r.commands...)
}
