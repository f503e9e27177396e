// Package state -- the callback engine's external API: the operations a
// forward-path NFSv4 handler calls to submit a callback, check or force
// liveness, change where the backchannel points, and tear a client down.
package state

import (
	"context"

	"github.com/marmos91/nfs4cb/internal/protocol/nfs/rpc"
	"github.com/marmos91/nfs4cb/internal/protocol/nfs/v4/types"
)

// RunCB submits cb to the client's executor and returns immediately; the
// caller observes the outcome through cb.Wait. Returns false if the
// client has already been shut down (CB_KILL raised).
func (cr *ClientRecord) RunCB(cb *Callback) bool {
	return cr.executor.submit(cb)
}

// ProbeCallback opportunistically rechecks the backchannel in the
// background without blocking the caller.
func (cr *ClientRecord) ProbeCallback() {
	cr.probe.ProbeCallback()
}

// ProbeCallbackSync rechecks the backchannel and blocks for the result,
// for callers (e.g. a delegation grant decision) that need to know the
// channel is up before proceeding.
func (cr *ClientRecord) ProbeCallbackSync(ctx context.Context) error {
	return cr.probe.ProbeCallbackSync(ctx)
}

// ChangeCallback installs new connection parameters for the client's
// backchannel (SETCLIENTID with a new cb_client4, or a v4.1+ session
// rebinding its back channel connection) and raises CB_UPDATE so the
// executor reconstructs its cached handle before the next attempt.
func (cr *ClientRecord) ChangeCallback(conn *ConnParams) {
	cr.mu.Lock()
	cr.conn = conn
	cr.mu.Unlock()
	cr.SetFlag(CBUpdate)
}

// ShutdownCallback raises CB_KILL and blocks until every inflight
// callback has finished (successfully, by error, or because CB_KILL
// cut it short). After this returns, RunCB always returns false.
func (cr *ClientRecord) ShutdownCallback() {
	cr.SetFlag(CBKill)
	cr.waitQuiesced()
	cr.executor.stop()
}

// ============================================================================
// Referring Call List Helpers
// ============================================================================

// CbReferringCall builds the referring_call_list4 entries a forward-path
// handler attaches to a Callback so the client can order this callback
// against the specific forward calls named, per RFC 8881 Section 20.9.3.
// Entries naming the same session are merged into one list, matching the
// wire requirement that rcl_sessionid appear at most once per compound.
func CbReferringCall(entries []ReferringCallEntry) []types.ReferringCallTriple {
	type pair struct {
		slot, seq uint32
	}
	bySession := make(map[types.SessionId4]*types.ReferringCallTriple)
	seen := make(map[types.SessionId4]map[pair]struct{})
	order := make([]types.SessionId4, 0, len(entries))
	for _, e := range entries {
		t, ok := bySession[e.SessionID]
		if !ok {
			t = &types.ReferringCallTriple{SessionID: e.SessionID}
			bySession[e.SessionID] = t
			seen[e.SessionID] = make(map[pair]struct{})
			order = append(order, e.SessionID)
		}
		p := pair{slot: e.SlotID, seq: e.SequenceID}
		if _, dup := seen[e.SessionID][p]; dup {
			continue
		}
		seen[e.SessionID][p] = struct{}{}
		t.ReferringCalls = append(t.ReferringCalls, types.ReferringCall4{
			SequenceID: e.SequenceID,
			SlotID:     e.SlotID,
		})
	}
	out := make([]types.ReferringCallTriple, 0, len(order))
	for _, sid := range order {
		out = append(out, *bySession[sid])
	}
	return out
}

// ReferringCallEntry names one (session, sequence, slot) point a prior
// forward call reached.
type ReferringCallEntry struct {
	SessionID  types.SessionId4
	SequenceID uint32
	SlotID     uint32
}

// CbDestroyReferringCallList releases a referring-call-list value. In Go
// there is nothing to free explicitly; this exists so callers that mirror
// the construct/use/destroy lifecycle have a single place to stop
// reusing the slice once a callback has consumed it.
func CbDestroyReferringCallList(list []types.ReferringCallTriple) {
	_ = list
}

// ============================================================================
// Principal-Derived Credentials (v4.0 backchannels)
// ============================================================================

// UnixAuthFor builds the AUTH_UNIX credential the engine presents on a
// v4.0 dial-out callback, derived from the principal that created the
// state being recalled (RFC 7530 Section 16.33 leaves the callback's
// credential server-implementation-defined; using the owning principal's
// identity matches what Linux knfsd does).
func UnixAuthFor(uid, gid uint32, gids []uint32) *rpc.UnixAuth {
	return &rpc.UnixAuth{MachineName: "", UID: uid, GID: gid, GIDs: gids}
}
