// Package state -- the retry and fault classification the executor
// applies to a CB_SEQUENCE reply's status, per RFC 8881 Section 2.10.6.1's
// session error semantics as seen from the server's calling side.
package state

import "github.com/marmos91/nfs4cb/internal/protocol/nfs/v4/types"

// RetryAction tells the executor what to do with a Callback after a
// CB_SEQUENCE reply came back with a given seq_status.
type RetryAction int

const (
	// RetryActionDone means the callback completed; release its slot
	// normally (the sequence id advances) and deliver its result.
	RetryActionDone RetryAction = iota

	// RetryActionRetrySameSlot means transient failure (ESERVERFAULT or
	// an unrecognized status): release the slot without advancing and
	// retry immediately, subject to the retry budget.
	RetryActionRetrySameSlot

	// RetryActionRetryAfterDelay is RetryActionRetrySameSlot's retry,
	// but the slot stays reserved (not released) and the retry waits
	// delayRetryInterval before resending CB_SEQUENCE on the same
	// (slot, seq) (NFS4ERR_DELAY).
	RetryActionRetryAfterDelay

	// RetryActionAbandonSlot means the target and this engine disagree
	// about session state badly enough that the slot must never be
	// reused with its current sequence id (BADSLOT, SEQ_MISORDERED).
	// The slot is leaked -- removed from the free pool permanently --
	// and the callback retries immediately on a different slot.
	RetryActionAbandonSlot

	// RetryActionFault means the target and this engine disagree about
	// session state badly enough that the CB_SEQUENCE exchange itself
	// cannot continue (BADSESSION, or the transport never delivered a
	// CB_SEQUENCE that was actually in flight): the slot is released,
	// the channel is marked FAULT, and the callback retries (which will
	// reconstruct the backchannel once CB_UPDATE is raised).
	RetryActionFault

	// RetryActionTransportDown means plain unreachability with no
	// CB_SEQUENCE in flight to disagree about: a CB_NULL probe that
	// never got a reply, or any v4.0 dial-out failure (v4.0 has no
	// session, so there is no protocol state to be wrong about). The
	// channel is marked DOWN, not FAULT, and the callback retries.
	RetryActionTransportDown
)

// classifySeqStatus maps a CB_SEQUENCE reply's seq_status to the action
// the executor must take. delivered is false when the transport never
// got a reply back at all (dial failure, timeout) for an attempt that
// had a CB_SEQUENCE in flight -- callers with no CB_SEQUENCE in flight
// (a CB_NULL probe, any v4.0 attempt) must not call this function at
// all; they report RetryActionTransportDown directly.
func classifySeqStatus(seqStatus uint32, delivered bool) RetryAction {
	if !delivered {
		// The transport never delivered a CB_SEQUENCE that was
		// genuinely in flight: the target may have processed and
		// advanced the slot without the reply reaching us, so this is
		// a session-state disagreement, not mere unreachability.
		return RetryActionFault
	}
	switch seqStatus {
	case types.NFS4_OK:
		return RetryActionDone
	case types.NFS4ERR_BADSESSION:
		return RetryActionFault
	case types.NFS4ERR_DELAY:
		return RetryActionRetryAfterDelay
	case types.NFS4ERR_BADSLOT, types.NFS4ERR_SEQ_MISORDERED:
		return RetryActionAbandonSlot
	case types.NFS4ERR_SERVERFAULT:
		return RetryActionRetrySameSlot
	default:
		return RetryActionRetrySameSlot
	}
}
