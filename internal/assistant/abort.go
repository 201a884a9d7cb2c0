package assistant

import (
	"context"
	"errors"
	"sync"
)

// errAborted is the cancellation cause set by Abort.
var errAborted = errors.New("request aborted")

// aborts tracks the in-flight request per conversation so it can be
// stopped. It is not a lock: a second request for the same conversation
// replaces the first entry.
type aborts struct {
	mu       sync.Mutex
	inflight map[string]*abortEntry
}

type abortEntry struct {
	cancel context.CancelCauseFunc
}

func newAborts() *aborts {
	return &aborts{inflight: make(map[string]*abortEntry)}
}

// register returns a context cancelled by Abort(conversationID) and a
// release func that must be called when the request ends.
func (a *aborts) register(ctx context.Context, conversationID string) (context.Context, func()) {
	actx, cancel := context.WithCancelCause(ctx)
	e := &abortEntry{cancel: cancel}

	a.mu.Lock()
	a.inflight[conversationID] = e
	a.mu.Unlock()

	return actx, func() {
		a.mu.Lock()
		if a.inflight[conversationID] == e {
			delete(a.inflight, conversationID)
		}
		a.mu.Unlock()
		cancel(nil)
	}
}

func (a *aborts) abort(conversationID string) bool {
	a.mu.Lock()
	e, ok := a.inflight[conversationID]
	a.mu.Unlock()
	if ok {
		e.cancel(errAborted)
	}
	return ok
}

func (a *aborts) active(conversationID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inflight[conversationID]
	return ok
}
