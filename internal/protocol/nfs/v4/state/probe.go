package state

import (
	"context"
	"sync"
)

// CallbackProbe drives liveness checks of a client's backchannel: a
// CB_NULL ping submitted through the client's executor, so it never races
// a real callback attempt.
type CallbackProbe struct {
	cr *ClientRecord

	mu       sync.Mutex
	inFlight bool
}

func newCallbackProbe(cr *ClientRecord) *CallbackProbe {
	return &CallbackProbe{cr: cr}
}

// ProbeCallback starts a probe in the background if one isn't already
// running, returning immediately. Used by the lease/renewal path to
// opportunistically recheck a DOWN or UNKNOWN channel without blocking
// the caller.
func (p *CallbackProbe) ProbeCallback() {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	go func() {
		_ = p.ProbeCallbackSync(context.Background())
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()
}

// ProbeCallbackSync submits a CB_NULL probe through the client's
// executor and blocks for its result. Callers that need to know the
// channel is up before proceeding (e.g. before granting a delegation)
// use this instead of ProbeCallback.
//
// It always forces the channel to UNKNOWN and raises CB_UPDATE first,
// so the executor drops any cached backchannel handle and reconstructs
// it before pinging -- a probe against a stale or misconfigured handle
// would only ever confirm or deny that handle, never replace it.
func (p *CallbackProbe) ProbeCallbackSync(ctx context.Context) error {
	p.cr.setChannelState(ChannelUnknown)
	p.cr.SetFlag(CBUpdate)

	cb := NewCallback(OpCodeProbe, nil)
	if !p.cr.executor.submit(cb) {
		return ErrClientTornDown
	}
	return cb.Wait(ctx)
}
