// Package state -- the per-client callback executor, the single-threaded
// work queue that owns everything touching one client's backchannel.
//
// Running all of a client's callbacks through one goroutine removes the
// need to lock the backchannel connection, the slot table, and the
// channel state against each other: only one callback is ever "in the
// RPC" for a given client at a time, and CB_KILL/CB_UPDATE are handled
// as flags the executor checks at the top of each run rather than as
// preemption.
package state

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/nfs4cb/internal/logger"
	"github.com/marmos91/nfs4cb/internal/protocol/nfs/v4/types"
)

// executorQueueSize bounds how many callbacks can be queued for a client
// before submit blocks the caller.
const executorQueueSize = 256

// ============================================================================
// Callback Object
// ============================================================================

// Callback is one outstanding server-to-client operation: an opcode, its
// pre-encoded XDR payload, and the bookkeeping the executor and retry
// state machine carry while driving it to completion.
type Callback struct {
	OpCode  uint32
	Payload []byte // pre-encoded op-specific args, opcode and CB_SEQUENCE excluded

	// ReferringCalls lets the caller make this callback happen-after a
	// specific set of forward calls the client issued, per RFC 8881
	// Section 20.9.3.
	ReferringCalls []types.ReferringCallTriple
	CacheThis      bool

	// SeqStatus is the CB_SEQUENCE status from the most recent attempt
	// (NFS4_OK on success).
	SeqStatus uint32
	// Status is the op-specific nfsstat4 from the most recent attempt.
	Status uint32
	// Result is the raw bytes of the op-specific CB_COMPOUND4res arm,
	// ready for the op's own Decode method.
	Result []byte

	// heldSlotID/hasSlot track a slot reservation that survives across
	// a NFS4ERR_DELAY retry: RFC 8881 Section 20.9.3 and the retry table
	// both require the slot to stay reserved (not re-Grabbed) while the
	// RPC is restarted.
	heldSlotID uint32
	hasSlot    bool

	// Prepare, Done, and Release are the op-specific vtable a caller may
	// install after NewCallback, mirroring knfsd's rpc_call_ops
	// {rpc_call_prepare, rpc_call_done, rpc_release}. All three are
	// optional and nil for a CB_NULL probe.
	//
	// Prepare runs at the start of every attempt, including retries.
	//
	// Done runs once per attempt after attempt() classifies the outcome
	// as a RetryAction; returning false requeues the attempt
	// immediately (the vtable's "restart", bypassing the generic
	// retry-budget accounting), true accepts the classification and
	// lets the executor's retry/fault table run as usual. A nil Done
	// always accepts -- this is the only behavior a probe or any op
	// without special restart logic needs.
	//
	// Release runs exactly once, when the callback leaves the executor
	// for good (delivered, errored, or torn down).
	Prepare func(cb *Callback)
	Done    func(cb *Callback, action RetryAction) (accept bool)
	Release func(cb *Callback)

	retries int
	done    chan error
}

// NewCallback creates a Callback ready for RunCB.
func NewCallback(opCode uint32, payload []byte) *Callback {
	return &Callback{OpCode: opCode, Payload: payload, done: make(chan error, 1)}
}

// Wait blocks until the callback finishes, returning the terminal error
// (nil on success: Status == NFS4_OK).
func (cb *Callback) Wait(ctx context.Context) error {
	select {
	case err := <-cb.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// maxCallbackRetries bounds the retries of every outcome other than
// RetryActionDone (RetrySameSlot, RetryAfterDelay, AbandonSlot, Fault,
// TransportDown); once exceeded, the executor marks the channel DOWN and
// fails the callback. A
// package variable (not a constant) so pkg/config's CallbackConfig can
// override it at startup via ApplyTunables.
var maxCallbackRetries = 3

// delayRetryInterval is how long the executor waits before restarting
// an RPC after CB_SEQUENCE reports NFS4ERR_DELAY.
var delayRetryInterval = 2 * time.Second

// minCallbackTimeout floors callbackTimeout's lease-derived RPC
// deadline so a very short lease can't starve a callback attempt.
var minCallbackTimeout = time.Second

// OpCodeProbe is a sentinel Callback.OpCode meaning "just ping the
// channel" (CB_NULL) rather than carry a real CB_COMPOUND operation. It
// does not collide with any RFC 8881 Section 20 callback opcode.
const OpCodeProbe uint32 = 0xFFFFFFFF

// ============================================================================
// Executor
// ============================================================================

type executor struct {
	cr     *ClientRecord
	queue  chan *Callback
	stopCh chan struct{}
}

func newExecutor(cr *ClientRecord) *executor {
	return &executor{
		cr:     cr,
		queue:  make(chan *Callback, executorQueueSize),
		stopCh: make(chan struct{}),
	}
}

func (e *executor) start() {
	go e.run()
}

func (e *executor) stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
}

func (e *executor) run() {
	for {
		select {
		case <-e.stopCh:
			return
		case cb := <-e.queue:
			e.runOne(cb)
		}
	}
}

// submit enqueues cb, incrementing the client's inflight counter. Returns
// false (and does not run the callback) if CB_KILL is already set.
func (e *executor) submit(cb *Callback) bool {
	e.cr.mu.Lock()
	killed := e.cr.flags&CBKill != 0
	e.cr.mu.Unlock()
	if killed {
		return false
	}
	e.cr.incInflight()
	select {
	case e.queue <- cb:
		return true
	case <-e.stopCh:
		e.cr.decInflight()
		return false
	}
}

// runOne drives a single Callback through however many attempts the
// retry state machine calls for, then releases the client's inflight
// count and signals Wait.
func (e *executor) runOne(cb *Callback) {
	defer e.cr.decInflight()
	if cb.Release != nil {
		defer cb.Release(cb)
	}

	for {
		flags := e.cr.loadAndClearFlags()
		if e.cr.hasFlag(flags, CBKill) {
			cb.done <- ErrClientTornDown
			return
		}
		if e.cr.hasFlag(flags, CBUpdate) {
			e.cr.held = nil
		}
		if e.cr.IsCourtesy() {
			cb.done <- ErrClientCourtesy
			return
		}

		if cb.Prepare != nil {
			cb.Prepare(cb)
		}

		conn, minorVersion, err := e.resolveBackchannel()
		if err != nil {
			e.cr.setChannelState(ChannelDown)
			cb.done <- fmt.Errorf("resolve backchannel: %w", err)
			return
		}

		action, err := e.attempt(conn, minorVersion, cb)
		if err != nil {
			e.cr.setChannelState(ChannelDown)
			cb.done <- err
			return
		}

		if cb.Done != nil && !cb.Done(cb, action) {
			continue
		}

		switch action {
		case RetryActionDone:
			e.cr.setChannelState(ChannelUp)
			if err := statToErr(cb.Status); err != nil {
				cb.done <- fmt.Errorf("callback op %d failed: %w", cb.OpCode, err)
			} else {
				cb.done <- nil
			}
			return
		case RetryActionTransportDown:
			// Already marked DOWN by attempt: plain unreachability,
			// no CB_SEQUENCE exchange was in flight to disagree about.
			cb.retries++
			if cb.retries > maxCallbackRetries {
				e.cr.setChannelState(ChannelDown)
				cb.done <- fmt.Errorf("callback op %d: channel unreachable after %d retries", cb.OpCode, maxCallbackRetries)
				return
			}
			continue
		case RetryActionAbandonSlot, RetryActionFault, RetryActionRetryAfterDelay, RetryActionRetrySameSlot:
			if action != RetryActionRetryAfterDelay {
				e.cr.setChannelState(ChannelFault)
			}
			if action == RetryActionFault {
				e.cr.held = nil
			}
			cb.retries++
			if cb.retries > maxCallbackRetries {
				e.cr.setChannelState(ChannelDown)
				seqErr := statToErr(cb.SeqStatus)
				if seqErr == nil {
					seqErr = fmt.Errorf("nfsstat4=%d (untranslated)", cb.SeqStatus)
				}
				cb.done <- fmt.Errorf("callback op %d: exceeded %d retries (seq_status: %w)", cb.OpCode, maxCallbackRetries, seqErr)
				return
			}
			if action == RetryActionRetryAfterDelay {
				select {
				case <-time.After(delayRetryInterval):
				case <-e.stopCh:
					cb.done <- fmt.Errorf("executor stopped during retry backoff")
					return
				}
			}
			continue
		}
	}
}

// resolveBackchannel returns the live backchannel handle to use for the
// next attempt, reconstructing it if CB_UPDATE cleared the cached one.
func (e *executor) resolveBackchannel() (*backchannelConn, uint32, error) {
	if e.cr.held != nil {
		return e.cr.held, e.minorVersionFor(e.cr.held), nil
	}

	if e.cr.MinorVersion == 0 {
		info := e.cr.Callback
		if conn := e.cr.connParams(); conn != nil && conn.Addr != "" {
			info = CallbackInfo{Program: conn.Program, NetID: conn.NetID, Addr: conn.Addr}
		}
		conn := NewBackchannelV40(info, nil)
		e.cr.held = conn
		return conn, 0, nil
	}

	lookup := e.cr.sessionLookup()
	if lookup == nil {
		return nil, 0, fmt.Errorf("no session directory bound for v4.1+ client")
	}
	for _, s := range lookup() {
		if bc := s.Backchannel(); bc != nil {
			e.cr.held = bc
			return bc, e.cr.MinorVersion, nil
		}
	}
	return nil, 0, fmt.Errorf("no bound back channel connection for any session")
}

func (e *executor) minorVersionFor(conn *backchannelConn) uint32 {
	if conn.IsV41() {
		return e.cr.MinorVersion
	}
	return 0
}

// attempt sends one CB_COMPOUND for cb (prefixed with CB_SEQUENCE for
// minorVersion >= 1) and classifies the reply. Every outcome, including
// a missing session, is reported as a RetryAction; the returned error is
// always nil.
func (e *executor) attempt(conn *backchannelConn, minorVersion uint32, cb *Callback) (RetryAction, error) {
	timeout := callbackTimeout(e.cr.LeaseDuration)

	if cb.OpCode == OpCodeProbe {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := conn.Ping(ctx, timeout); err != nil {
			// CB_NULL carries no CB_SEQUENCE: a failed ping is plain
			// unreachability, never a session-state disagreement.
			e.cr.setChannelState(ChannelDown)
			return RetryActionTransportDown, nil
		}
		cb.Status = types.NFS4_OK
		return RetryActionDone, nil
	}

	ops := make([]types.CBCompoundOp, 0, 2)
	var session *Session
	var slotID uint32
	var grabbedSlot bool

	if minorVersion >= 1 {
		s, slots, found := e.findSessionWithSlots()
		if !found {
			return RetryActionFault, nil
		}
		session = s

		var seqID uint32
		if cb.hasSlot {
			slotID = cb.heldSlotID
			seqID = slots.SeqID(slotID)
		} else {
			sid, sq, ok := slots.Grab()
			if !ok {
				return RetryActionRetrySameSlot, nil
			}
			slotID = sid
			seqID = sq
			cb.heldSlotID = slotID
			cb.hasSlot = true
		}
		grabbedSlot = true

		seqArgs := types.CbSequenceArgs{
			SessionID:          session.SessionID,
			SequenceID:         seqID,
			SlotID:             slotID,
			HighestSlotID:      slots.HighestSlot(),
			CacheThis:          cb.CacheThis,
			ReferringCallLists: cb.ReferringCalls,
		}
		var seqBuf bytes.Buffer
		if err := seqArgs.Encode(&seqBuf); err != nil {
			slots.Release(slotID, false)
			cb.hasSlot = false
			return RetryActionAbandonSlot, nil
		}
		ops = append(ops, types.CBCompoundOp{OpCode: types.OP_CB_SEQUENCE, Payload: seqBuf.Bytes()})
	}
	ops = append(ops, types.CBCompoundOp{OpCode: cb.OpCode, Payload: cb.Payload})

	callbackIdent := uint32(0)
	if minorVersion == 0 {
		callbackIdent = e.cr.Callback.Ident
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	replyBody, err := conn.Call(ctx, minorVersion, callbackIdent, ops, timeout)
	if err != nil {
		logger.Debug("callback attempt failed", "client_id", fmt.Sprintf("0x%x", e.cr.ClientID), "op", cb.OpCode, "error", err)
		if grabbedSlot {
			session.BackChannelSlots.Release(slotID, false)
			cb.hasSlot = false
			return classifySeqStatus(0, false), nil
		}
		// No CB_SEQUENCE was in flight (v4.0 dial-out): this is
		// unreachability, not a session-state disagreement.
		e.cr.setChannelState(ChannelDown)
		return RetryActionTransportDown, nil
	}

	body, err := parseCBReply(replyBody)
	if err != nil {
		if grabbedSlot {
			session.BackChannelSlots.Release(slotID, false)
			cb.hasSlot = false
			return classifySeqStatus(0, false), nil
		}
		e.cr.setChannelState(ChannelDown)
		return RetryActionTransportDown, nil
	}

	r := bytes.NewReader(body)
	if _, err := types.DecodeCBCompoundHeader(r); err != nil {
		if grabbedSlot {
			session.BackChannelSlots.Release(slotID, false)
			cb.hasSlot = false
		}
		return RetryActionRetrySameSlot, nil
	}

	if minorVersion >= 1 {
		if err := types.DecodeCBCompoundOpHeader(r, types.OP_CB_SEQUENCE); err != nil {
			session.BackChannelSlots.Release(slotID, false)
			cb.hasSlot = false
			return RetryActionRetrySameSlot, nil
		}
		var seqRes types.CbSequenceRes
		if err := seqRes.Decode(r); err != nil {
			session.BackChannelSlots.Release(slotID, false)
			cb.hasSlot = false
			return RetryActionRetrySameSlot, nil
		}
		cb.SeqStatus = seqRes.Status
		action := classifySeqStatus(seqRes.Status, true)
		if action != RetryActionDone {
			switch action {
			case RetryActionRetryAfterDelay:
				// Slot stays reserved; the retry resends CB_SEQUENCE on
				// the same (slot, seq) rather than grabbing a new one.
			case RetryActionAbandonSlot:
				session.BackChannelSlots.Abandon(slotID)
				cb.hasSlot = false
			default:
				session.BackChannelSlots.Release(slotID, false)
				cb.hasSlot = false
			}
			return action, nil
		}
		if seqRes.OK != nil && seqRes.OK.TargetHighestSlotID > slots.HighestSlot() {
			slots.UpdateTarget(seqRes.OK.TargetHighestSlotID + 1)
		}
	}

	if err := types.DecodeCBCompoundOpHeader(r, cb.OpCode); err != nil {
		if grabbedSlot {
			session.BackChannelSlots.Release(slotID, false)
			cb.hasSlot = false
		}
		return RetryActionRetrySameSlot, nil
	}
	status, resultBody, err := decodeOpStatusAndBody(r, cb.OpCode)
	if err != nil {
		if grabbedSlot {
			session.BackChannelSlots.Release(slotID, false)
			cb.hasSlot = false
		}
		return RetryActionRetrySameSlot, nil
	}
	cb.Status = status
	cb.Result = resultBody

	if grabbedSlot {
		session.BackChannelSlots.Release(slotID, true)
		cb.hasSlot = false
	}
	return RetryActionDone, nil
}

func (e *executor) findSessionWithSlots() (*Session, *SlotTable, bool) {
	lookup := e.cr.sessionLookup()
	if lookup == nil {
		return nil, nil, false
	}
	for _, s := range lookup() {
		if s.BackChannelSlots != nil && s.Backchannel() != nil {
			return s, s.BackChannelSlots, true
		}
	}
	return nil, nil, false
}

// decodeOpStatusAndBody reads the remainder of a CB_COMPOUND reply (the
// final operation's result struct, which every op result in this
// package leads with its own nfsstat4 status field) and returns that
// status alongside the full struct bytes for the caller's own op-specific
// Decode method.
func decodeOpStatusAndBody(r io.Reader, opCode uint32) (uint32, []byte, error) {
	rest, err := io.ReadAll(r)
	if err != nil {
		return 0, nil, fmt.Errorf("read op %d result: %w", opCode, err)
	}
	if len(rest) < 4 {
		return 0, nil, fmt.Errorf("op %d result too short", opCode)
	}
	return binary.BigEndian.Uint32(rest[:4]), rest, nil
}

// callbackTimeout derives the per-call RPC timeout from the client's
// lease length: max(lease/10, 1 second).
func callbackTimeout(lease time.Duration) time.Duration {
	t := lease / 10
	if t < minCallbackTimeout {
		t = minCallbackTimeout
	}
	return t
}
