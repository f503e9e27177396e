package state

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfs4cb/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfs4cb/internal/protocol/xdr"
)

// ============================================================================
// Fake v4.1+ backchannel: a ConnWriter-driven stand-in for a real client,
// scripted per test to answer CB_COMPOUND calls with a specific reply.
// ============================================================================

// testCall is one decoded CB_COMPOUND request the fake client observed.
type testCall struct {
	xid       uint32
	seq       *types.CbSequenceArgs // nil only if the op stream had no CB_SEQUENCE
	opCode    uint32
	opPayload []byte
}

// fakeClient plays the role of the NFSv4 client on the other end of a
// bound back channel connection: every write is decoded into a testCall
// and handed to handler, whose return value (a full RPC reply body, sans
// record mark) is delivered back to the waiting executor.
type fakeClient struct {
	mu      sync.Mutex
	pending *PendingCBReplies
	calls   []testCall
	handler func(callNum int, call testCall) []byte
}

func newFakeClient(handler func(callNum int, call testCall) []byte) (*fakeClient, *PendingCBReplies) {
	pending := NewPendingCBReplies()
	return &fakeClient{pending: pending, handler: handler}, pending
}

func (f *fakeClient) writer(data []byte) error {
	_, fragLen := splitRecordMarkForTest(binary.BigEndian.Uint32(data[:4]))
	body := data[4 : 4+fragLen]
	call := decodeTestCall(body)

	f.mu.Lock()
	f.calls = append(f.calls, call)
	callNum := len(f.calls) - 1
	f.mu.Unlock()

	reply := f.handler(callNum, call)
	f.pending.Deliver(call.xid, reply)
	return nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) callAt(i int) testCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func splitRecordMarkForTest(header uint32) (bool, uint32) {
	return header&0x80000000 != 0, header & 0x7FFFFFFF
}

// decodeTestCall strips the RPC call header (xid, msg type, rpcvers,
// program, version, proc, credential, verifier) and the CB_COMPOUND
// envelope down to the first operation, decoding CB_SEQUENCE's args when
// present so tests can assert on slot/seq without re-deriving it.
func decodeTestCall(body []byte) testCall {
	r := bytes.NewReader(body)
	var xid uint32
	_ = binary.Read(r, binary.BigEndian, &xid)
	skipUint32s(r, 5) // msgtype, rpcvers, program, version, proc
	skipOpaqueAuth(r)
	skipOpaqueAuth(r)

	_, _ = xdr.DecodeString(r) // tag
	skipUint32s(r, 2)          // minorversion, callback_ident
	opCount, _ := xdr.DecodeUint32(r)

	tc := testCall{xid: xid}
	if opCount == 0 {
		return tc
	}
	opCode, _ := xdr.DecodeUint32(r)
	if opCode == types.OP_CB_SEQUENCE {
		var seq types.CbSequenceArgs
		_ = seq.Decode(r)
		tc.seq = &seq
		if opCount > 1 {
			opCode2, _ := xdr.DecodeUint32(r)
			tc.opCode = opCode2
			rest, _ := readAllForTest(r)
			tc.opPayload = rest
		}
		return tc
	}
	tc.opCode = opCode
	rest, _ := readAllForTest(r)
	tc.opPayload = rest
	return tc
}

func skipUint32s(r *bytes.Reader, n int) {
	for i := 0; i < n; i++ {
		var v uint32
		_ = binary.Read(r, binary.BigEndian, &v)
	}
}

func skipOpaqueAuth(r *bytes.Reader) {
	var flavor, length uint32
	_ = binary.Read(r, binary.BigEndian, &flavor)
	_ = binary.Read(r, binary.BigEndian, &length)
	buf := make([]byte, length)
	_, _ = r.Read(buf)
	pad := (4 - (length % 4)) % 4
	if pad > 0 {
		_, _ = r.Seek(int64(pad), 1)
	}
}

func readAllForTest(r *bytes.Reader) ([]byte, error) {
	buf := make([]byte, r.Len())
	_, err := r.Read(buf)
	return buf, err
}

// buildReply assembles a complete, record-mark-free RPC accepted reply
// carrying a CB_COMPOUND4res with compoundStatus and, when present, a
// CB_SEQUENCE result followed by the named op's result bytes.
func buildReply(xid uint32, compoundStatus uint32, seqRes *types.CbSequenceRes, opCode uint32, opResult []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, xid)
	_ = binary.Write(&buf, binary.BigEndian, uint32(1)) // REPLY
	_ = binary.Write(&buf, binary.BigEndian, uint32(0)) // MSG_ACCEPTED
	_ = binary.Write(&buf, binary.BigEndian, uint32(0)) // verifier flavor AUTH_NULL
	_ = binary.Write(&buf, binary.BigEndian, uint32(0)) // verifier length
	_ = binary.Write(&buf, binary.BigEndian, uint32(0)) // accept_stat SUCCESS

	opCount := uint32(0)
	if seqRes != nil {
		opCount++
	}
	if opCode != 0 || opResult != nil {
		opCount++
	}
	_ = binary.Write(&buf, binary.BigEndian, compoundStatus)
	_ = xdr.WriteXDRString(&buf, "")
	_ = binary.Write(&buf, binary.BigEndian, opCount)

	if seqRes != nil {
		_ = binary.Write(&buf, binary.BigEndian, types.OP_CB_SEQUENCE)
		_ = seqRes.Encode(&buf)
	}
	if opResult != nil {
		_ = binary.Write(&buf, binary.BigEndian, opCode)
		buf.Write(opResult)
	}
	return buf.Bytes()
}

func encodeRecallRes(status uint32) []byte {
	var buf bytes.Buffer
	res := types.CbRecallRes{Status: status}
	_ = res.Encode(&buf)
	return buf.Bytes()
}

// newV41TestClient builds a ClientRecord + single Session wired to a
// fake v4.1+ backchannel driven by handler.
func newV41TestClient(t *testing.T, maxSlots uint32, handler func(callNum int, call testCall) []byte) (*ClientRecord, *Session, *fakeClient) {
	t.Helper()
	cr := NewClientRecord(0xC1, "client-1", 1, 90*time.Second)
	t.Cleanup(cr.executor.stop)

	session, err := NewSession(cr.ClientID, types.ChannelAttrs{MaxRequests: maxSlots}, types.CREATE_SESSION4_FLAG_CONN_BACK_CHAN, 0x40000000)
	require.NoError(t, err)

	fc, pending := newFakeClient(handler)
	conn := NewBackchannelV41(0x40000000, fc.writer, pending)
	session.BindBackchannel(conn)

	cr.SetSessionLookup(func() []*Session { return []*Session{session} })
	return cr, session, fc
}

func recallCallback() *Callback {
	var buf bytes.Buffer
	args := types.CbRecallArgs{Stateid: types.Stateid4{Seqid: 1}, Truncate: false, FH: []byte{1, 2, 3, 4}}
	_ = args.Encode(&buf)
	return NewCallback(types.OP_CB_RECALL, buf.Bytes())
}

// ============================================================================
// Scenario 1: simple recall, v4.1
// ============================================================================

func TestScenarioSimpleRecallV41(t *testing.T) {
	cr, session, fc := newV41TestClient(t, 1, func(callNum int, call testCall) []byte {
		require.NotNil(t, call.seq)
		require.Equal(t, session.SessionID, call.seq.SessionID)
		require.Equal(t, uint32(1), call.seq.SequenceID)
		require.Equal(t, uint32(0), call.seq.SlotID)
		require.Equal(t, uint32(0), call.seq.HighestSlotID)
		require.False(t, call.seq.CacheThis)
		require.Empty(t, call.seq.ReferringCallLists)

		seqRes := &types.CbSequenceRes{
			Status: types.NFS4_OK,
			OK: &types.CbSequenceResOK{
				SessionID: session.SessionID, SequenceID: 1, SlotID: 0, HighestSlotID: 0, TargetHighestSlotID: 0,
			},
		}
		return buildReply(call.xid, types.NFS4_OK, seqRes, types.OP_CB_RECALL, encodeRecallRes(types.NFS4_OK))
	})

	cb := recallCallback()
	require.True(t, cr.RunCB(cb))
	require.NoError(t, cb.Wait(context.Background()))

	require.Equal(t, 1, fc.callCount())
	require.Equal(t, uint32(2), session.BackChannelSlots.SeqID(0), "a successful CB_SEQUENCE advances seq[0] from 1 to 2")
	require.False(t, session.BackChannelSlots.HasInFlightRequests(), "the slot must be released after success")
	require.Equal(t, ChannelUp, cr.ChannelState())
}

// ============================================================================
// Scenario 2: slot contention
// ============================================================================

func TestScenarioSlotContention(t *testing.T) {
	release := make(chan struct{})
	var firstStarted sync.WaitGroup
	firstStarted.Add(1)

	var once sync.Once
	cr, session, fc := newV41TestClient(t, 1, func(callNum int, call testCall) []byte {
		if callNum == 0 {
			once.Do(firstStarted.Done)
			<-release // hold the slot open until the test releases it
		}
		seqRes := &types.CbSequenceRes{
			Status: types.NFS4_OK,
			OK: &types.CbSequenceResOK{
				SessionID: session.SessionID, SequenceID: call.seq.SequenceID, SlotID: call.seq.SlotID, HighestSlotID: 0, TargetHighestSlotID: 0,
			},
		}
		return buildReply(call.xid, types.NFS4_OK, seqRes, types.OP_CB_RECALL, encodeRecallRes(types.NFS4_OK))
	})

	cb1 := recallCallback()
	cb2 := recallCallback()
	require.True(t, cr.RunCB(cb1))
	firstStarted.Wait()

	require.True(t, cr.RunCB(cb2))
	// cb2 cannot make progress: it waits in the client's single-threaded
	// executor queue behind cb1, whose attempt still holds the only slot.
	// Give it a moment to prove it never reaches the wire.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, fc.callCount(), "second callback must not reach the wire while the only slot is held")

	close(release)
	require.NoError(t, cb1.Wait(context.Background()))
	require.NoError(t, cb2.Wait(context.Background()))

	require.Equal(t, 2, fc.callCount())
	require.Equal(t, uint32(3), session.BackChannelSlots.SeqID(0), "two successful uses of slot 0 advance seq from 1 to 3")
}

// ============================================================================
// Scenario 3: DELAY retry
// ============================================================================

func TestScenarioDelayRetry(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	var seen []types.CbSequenceArgs

	cr, session, fc := newV41TestClient(t, 1, func(callNum int, call testCall) []byte {
		mu.Lock()
		attempts++
		n := attempts
		seen = append(seen, *call.seq)
		mu.Unlock()

		if n == 1 {
			return buildReply(call.xid, types.NFS4_OK, &types.CbSequenceRes{Status: types.NFS4ERR_DELAY}, 0, nil)
		}
		seqRes := &types.CbSequenceRes{
			Status: types.NFS4_OK,
			OK: &types.CbSequenceResOK{
				SessionID: session.SessionID, SequenceID: call.seq.SequenceID, SlotID: call.seq.SlotID, HighestSlotID: 0,
			},
		}
		return buildReply(call.xid, types.NFS4_OK, seqRes, types.OP_CB_RECALL, encodeRecallRes(types.NFS4_OK))
	})

	start := time.Now()
	cb := recallCallback()
	require.True(t, cr.RunCB(cb))
	require.NoError(t, cb.Wait(context.Background()))
	elapsed := time.Since(start)

	require.Equal(t, 2, fc.callCount(), "DELAY must provoke exactly one retry before success")
	require.GreaterOrEqual(t, elapsed, delayRetryInterval, "the retry must wait out the DELAY backoff")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, seen[0].SlotID, seen[1].SlotID, "DELAY retries the same slot")
	require.Equal(t, seen[0].SequenceID, seen[1].SequenceID, "DELAY must not advance the sequence id before retrying")
	require.Equal(t, uint32(2), session.BackChannelSlots.SeqID(0), "only the eventual success advances the sequence id")
}

// ============================================================================
// Scenario 4: BADSLOT leak
// ============================================================================

func TestScenarioBadSlotLeaksSlot(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	var seenSlots []uint32

	cr, session, fc := newV41TestClient(t, 2, func(callNum int, call testCall) []byte {
		mu.Lock()
		attempts++
		n := attempts
		seenSlots = append(seenSlots, call.seq.SlotID)
		mu.Unlock()

		if n == 1 {
			return buildReply(call.xid, types.NFS4_OK, &types.CbSequenceRes{Status: types.NFS4ERR_BADSLOT}, 0, nil)
		}
		seqRes := &types.CbSequenceRes{
			Status: types.NFS4_OK,
			OK: &types.CbSequenceResOK{
				SessionID: session.SessionID, SequenceID: call.seq.SequenceID, SlotID: call.seq.SlotID, HighestSlotID: call.seq.HighestSlotID,
			},
		}
		return buildReply(call.xid, types.NFS4_OK, seqRes, types.OP_CB_RECALL, encodeRecallRes(types.NFS4_OK))
	})

	cb := recallCallback()
	require.True(t, cr.RunCB(cb))
	require.NoError(t, cb.Wait(context.Background()))

	require.Equal(t, 2, fc.callCount())
	require.NotEqual(t, seenSlots[0], seenSlots[1], "BADSLOT must force the retry onto a different slot")
	require.Equal(t, ChannelUp, cr.ChannelState(), "the eventual success on the new slot restores channel state")

	// The abandoned slot must never come back from Grab.
	for i := 0; i < 4; i++ {
		slotID, _, ok := session.BackChannelSlots.Grab()
		if ok {
			require.NotEqual(t, seenSlots[0], slotID, "the leaked slot must never be handed out again")
			session.BackChannelSlots.Release(slotID, false)
		}
	}
}

// ============================================================================
// Scenario 5: backchannel reconstruction
// ============================================================================

func TestScenarioBackchannelReconstructionOnUpdate(t *testing.T) {
	cr, session, fc := newV41TestClient(t, 1, func(callNum int, call testCall) []byte {
		seqRes := &types.CbSequenceRes{
			Status: types.NFS4_OK,
			OK: &types.CbSequenceResOK{
				SessionID: session.SessionID, SequenceID: call.seq.SequenceID, SlotID: call.seq.SlotID, HighestSlotID: 0,
			},
		}
		return buildReply(call.xid, types.NFS4_OK, seqRes, types.OP_CB_RECALL, encodeRecallRes(types.NFS4_OK))
	})

	cb1 := recallCallback()
	require.True(t, cr.RunCB(cb1))
	require.NoError(t, cb1.Wait(context.Background()))
	require.NotNil(t, cr.held, "the first attempt must cache a backchannel handle")

	cr.SetFlag(CBUpdate)
	require.Equal(t, ChannelUnknown, cr.ChannelState(), "raising CB_UPDATE forces channel state back to UNKNOWN")

	cb2 := recallCallback()
	require.True(t, cr.RunCB(cb2))
	require.NoError(t, cb2.Wait(context.Background()))

	require.Equal(t, 2, fc.callCount())
	require.Equal(t, ChannelUp, cr.ChannelState())
}

// ============================================================================
// Scenario 6: referring-call dedup
// ============================================================================

func TestScenarioReferringCallDedup(t *testing.T) {
	s1 := types.SessionId4{1}
	s2 := types.SessionId4{2}

	entries := []ReferringCallEntry{
		{SessionID: s1, SlotID: 0, SequenceID: 5},
		{SessionID: s1, SlotID: 0, SequenceID: 5},
		{SessionID: s1, SlotID: 0, SequenceID: 5},
		{SessionID: s1, SlotID: 1, SequenceID: 5},
		{SessionID: s2, SlotID: 0, SequenceID: 5},
	}

	lists := CbReferringCall(entries)
	require.Len(t, lists, 2, "entries for two distinct sessions fold into two lists")

	var s1List, s2List *types.ReferringCallTriple
	for i := range lists {
		switch lists[i].SessionID {
		case s1:
			s1List = &lists[i]
		case s2:
			s2List = &lists[i]
		}
	}
	require.NotNil(t, s1List)
	require.NotNil(t, s2List)

	require.Len(t, s1List.ReferringCalls, 2, "duplicate (session,slot,seq) triples fold into one entry")
	require.Len(t, s2List.ReferringCalls, 1)
}

// ============================================================================
// Scenario 7: courtesy client never receives traffic
// ============================================================================

func TestScenarioCourtesyClientSkipsDelivery(t *testing.T) {
	cr, _, fc := newV41TestClient(t, 1, func(callNum int, call testCall) []byte {
		t.Fatalf("a courtesy client must never receive a callback")
		return nil
	})
	cr.SetCourtesy(true)

	cb := recallCallback()
	require.True(t, cr.RunCB(cb))
	require.ErrorIs(t, cb.Wait(context.Background()), ErrClientCourtesy)
	require.Equal(t, 0, fc.callCount())
}
