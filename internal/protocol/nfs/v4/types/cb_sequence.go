// Package types - CB_SEQUENCE callback operation types (RFC 8881 Section 20.9).
//
// CB_SEQUENCE is the mandatory first operation of every CB_COMPOUND issued
// over a minorversion >= 1 backchannel. It identifies the session, slot,
// and sequence number the server is using for this callback attempt, and
// carries the referring-call list that lets the client order this callback
// against its own prior forward calls.
package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/nfs4cb/internal/protocol/xdr"
)

// ============================================================================
// CB_SEQUENCE4args (RFC 8881 Section 20.9.1)
// ============================================================================

// CbSequenceArgs represents CB_SEQUENCE4args:
//
//	struct CB_SEQUENCE4args {
//	    sessionid4           csa_sessionid;
//	    sequenceid4          csa_sequenceid;
//	    slotid4              csa_slotid;
//	    slotid4              csa_highest_slotid;
//	    bool                 csa_cachethis;
//	    referring_call_list4 csa_referring_call_lists<>;
//	};
type CbSequenceArgs struct {
	SessionID         SessionId4
	SequenceID        uint32
	SlotID            uint32
	HighestSlotID     uint32
	CacheThis         bool
	ReferringCallLists []ReferringCallTriple
}

// Encode writes the CB_SEQUENCE args in XDR format.
func (a *CbSequenceArgs) Encode(buf *bytes.Buffer) error {
	a.SessionID.Encode(buf)
	if err := xdr.WriteUint32(buf, a.SequenceID); err != nil {
		return fmt.Errorf("encode cb_sequence sequenceid: %w", err)
	}
	if err := xdr.WriteUint32(buf, a.SlotID); err != nil {
		return fmt.Errorf("encode cb_sequence slotid: %w", err)
	}
	if err := xdr.WriteUint32(buf, a.HighestSlotID); err != nil {
		return fmt.Errorf("encode cb_sequence highest_slotid: %w", err)
	}
	if err := xdr.WriteBool(buf, a.CacheThis); err != nil {
		return fmt.Errorf("encode cb_sequence cachethis: %w", err)
	}
	if err := xdr.WriteUint32(buf, uint32(len(a.ReferringCallLists))); err != nil {
		return fmt.Errorf("encode cb_sequence referring count: %w", err)
	}
	for i := range a.ReferringCallLists {
		if err := a.ReferringCallLists[i].Encode(buf); err != nil {
			return fmt.Errorf("encode cb_sequence referring[%d]: %w", i, err)
		}
	}
	return nil
}

// Decode reads the CB_SEQUENCE args from XDR format.
func (a *CbSequenceArgs) Decode(r io.Reader) error {
	sid, err := DecodeSessionId4(r)
	if err != nil {
		return fmt.Errorf("decode cb_sequence sessionid: %w", err)
	}
	a.SessionID = sid
	if a.SequenceID, err = xdr.DecodeUint32(r); err != nil {
		return fmt.Errorf("decode cb_sequence sequenceid: %w", err)
	}
	if a.SlotID, err = xdr.DecodeUint32(r); err != nil {
		return fmt.Errorf("decode cb_sequence slotid: %w", err)
	}
	if a.HighestSlotID, err = xdr.DecodeUint32(r); err != nil {
		return fmt.Errorf("decode cb_sequence highest_slotid: %w", err)
	}
	if a.CacheThis, err = xdr.DecodeBool(r); err != nil {
		return fmt.Errorf("decode cb_sequence cachethis: %w", err)
	}
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode cb_sequence referring count: %w", err)
	}
	if count > MaxCBCompoundOps {
		return fmt.Errorf("decode cb_sequence: referring list count %d exceeds max %d", count, MaxCBCompoundOps)
	}
	a.ReferringCallLists = make([]ReferringCallTriple, count)
	for i := range a.ReferringCallLists {
		triple, err := DecodeReferringCallTriple(r)
		if err != nil {
			return fmt.Errorf("decode cb_sequence referring[%d]: %w", i, err)
		}
		a.ReferringCallLists[i] = *triple
	}
	return nil
}

// String returns a human-readable representation.
func (a *CbSequenceArgs) String() string {
	return fmt.Sprintf("CbSequenceArgs{session=%s, seq=%d, slot=%d, highest=%d, cache=%t, referring_lists=%d}",
		a.SessionID, a.SequenceID, a.SlotID, a.HighestSlotID, a.CacheThis, len(a.ReferringCallLists))
}

// ============================================================================
// CB_SEQUENCE4res (RFC 8881 Section 20.9.2)
// ============================================================================

// CbSequenceResOK is the csr_resok4 arm of CB_SEQUENCE4res:
//
//	struct CB_SEQUENCE4resok {
//	    sessionid4      csr_sessionid;
//	    sequenceid4     csr_sequenceid;
//	    slotid4         csr_slotid;
//	    slotid4         csr_highest_slotid;
//	    slotid4         csr_target_highest_slotid;
//	};
type CbSequenceResOK struct {
	SessionID           SessionId4
	SequenceID          uint32
	SlotID              uint32
	HighestSlotID       uint32
	TargetHighestSlotID uint32
}

// CbSequenceRes represents CB_SEQUENCE4res, a discriminated union on status.
type CbSequenceRes struct {
	Status uint32
	OK     *CbSequenceResOK // non-nil only when Status == NFS4_OK
}

// Encode writes the CB_SEQUENCE result in XDR format.
func (res *CbSequenceRes) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, res.Status); err != nil {
		return fmt.Errorf("encode cb_sequence status: %w", err)
	}
	if res.Status != NFS4_OK {
		return nil
	}
	if res.OK == nil {
		return fmt.Errorf("encode cb_sequence: status OK requires OK result")
	}
	res.OK.SessionID.Encode(buf)
	for _, v := range []uint32{res.OK.SequenceID, res.OK.SlotID, res.OK.HighestSlotID, res.OK.TargetHighestSlotID} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return fmt.Errorf("encode cb_sequence resok: %w", err)
		}
	}
	return nil
}

// Decode reads the CB_SEQUENCE result from XDR format.
func (res *CbSequenceRes) Decode(r io.Reader) error {
	status, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode cb_sequence status: %w", err)
	}
	res.Status = status
	if status != NFS4_OK {
		res.OK = nil
		return nil
	}
	sid, err := DecodeSessionId4(r)
	if err != nil {
		return fmt.Errorf("decode cb_sequence resok sessionid: %w", err)
	}
	ok := &CbSequenceResOK{SessionID: sid}
	fields := []*uint32{&ok.SequenceID, &ok.SlotID, &ok.HighestSlotID, &ok.TargetHighestSlotID}
	for _, f := range fields {
		v, err := xdr.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("decode cb_sequence resok: %w", err)
		}
		*f = v
	}
	res.OK = ok
	return nil
}

// String returns a human-readable representation.
func (res *CbSequenceRes) String() string {
	if res.OK == nil {
		return fmt.Sprintf("CbSequenceRes{status=%d}", res.Status)
	}
	return fmt.Sprintf("CbSequenceRes{status=%d, session=%s, seq=%d, slot=%d, highest=%d, target_highest=%d}",
		res.Status, res.OK.SessionID, res.OK.SequenceID, res.OK.SlotID, res.OK.HighestSlotID, res.OK.TargetHighestSlotID)
}
