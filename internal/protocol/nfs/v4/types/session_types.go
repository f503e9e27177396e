package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/marmos91/nfs4cb/internal/protocol/xdr"
)

// ============================================================================
// SessionId4
// ============================================================================

// SessionId4Len is the fixed size of a session id (sessionid4), RFC 8881
// Section 2.10.2.
const SessionId4Len = 16

// SessionId4 is a 16-byte session identifier, fixed-length opaque per
// RFC 8881:
//
//	typedef opaque sessionid4[16];
type SessionId4 [SessionId4Len]byte

// Encode writes the session id as fixed opaque (no length prefix, no
// padding needed since 16 is already a multiple of 4).
func (s SessionId4) Encode(buf *bytes.Buffer) {
	buf.Write(s[:])
}

// DecodeSessionId4 reads a fixed 16-byte session id.
func DecodeSessionId4(r io.Reader) (SessionId4, error) {
	var s SessionId4
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return s, fmt.Errorf("decode sessionid4: %w", err)
	}
	return s, nil
}

func (s SessionId4) String() string {
	return hex.EncodeToString(s[:])
}

// ============================================================================
// Bitmap4
// ============================================================================

// Bitmap4MaxWords bounds the number of words accepted when decoding a
// bitmap4, guarding against a hostile length field.
const Bitmap4MaxWords = 256

// Bitmap4 is a variable-length bitmap (bitmap4), RFC 8881 Section 2.11:
//
//	typedef uint32_t bitmap4<>;
type Bitmap4 []uint32

// IsSet reports whether bit n is set across the bitmap's words.
func (b Bitmap4) IsSet(n uint32) bool {
	word := n / 32
	if int(word) >= len(b) {
		return false
	}
	return b[word]&(1<<(n%32)) != 0
}

// Encode writes the bitmap as a length-prefixed array of u32 words.
func (b Bitmap4) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, uint32(len(b))); err != nil {
		return err
	}
	for _, w := range b {
		if err := xdr.WriteUint32(buf, w); err != nil {
			return err
		}
	}
	return nil
}

// DecodeBitmap4 reads a length-prefixed bitmap4.
func DecodeBitmap4(r io.Reader) (Bitmap4, error) {
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decode bitmap4 count: %w", err)
	}
	if count > Bitmap4MaxWords {
		return nil, fmt.Errorf("decode bitmap4: count %d exceeds max %d", count, Bitmap4MaxWords)
	}
	words := make(Bitmap4, count)
	for i := range words {
		w, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("decode bitmap4 word %d: %w", i, err)
		}
		words[i] = w
	}
	return words, nil
}

// ============================================================================
// ChannelAttrs (channel_attrs4, RFC 8881 Section 18.35.3)
// ============================================================================

// ChannelAttrs negotiates the resource limits of a session channel.
//
//	struct channel_attrs4 {
//	    count4		ca_headerpadsize;
//	    count4		ca_maxrequestsize;
//	    count4		ca_maxresponsesize;
//	    count4		ca_maxresponsesize_cached;
//	    count4		ca_maxoperations;
//	    count4		ca_maxrequests;
//	    uint32_t		ca_rdma_ird<1>;
//	};
type ChannelAttrs struct {
	HeaderPadSize         uint32
	MaxRequestSize        uint32
	MaxResponseSize       uint32
	MaxResponseSizeCached uint32
	MaxOperations         uint32
	MaxRequests           uint32
	RdmaIrd               []uint32 // at most 1 element
}

// Encode writes a channel_attrs4.
func (c *ChannelAttrs) Encode(buf *bytes.Buffer) error {
	for _, v := range []uint32{
		c.HeaderPadSize, c.MaxRequestSize, c.MaxResponseSize,
		c.MaxResponseSizeCached, c.MaxOperations, c.MaxRequests,
	} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return err
		}
	}
	if err := xdr.WriteUint32(buf, uint32(len(c.RdmaIrd))); err != nil {
		return err
	}
	for _, v := range c.RdmaIrd {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeChannelAttrs reads a channel_attrs4.
func DecodeChannelAttrs(r io.Reader) (ChannelAttrs, error) {
	var c ChannelAttrs
	fields := []*uint32{
		&c.HeaderPadSize, &c.MaxRequestSize, &c.MaxResponseSize,
		&c.MaxResponseSizeCached, &c.MaxOperations, &c.MaxRequests,
	}
	for _, f := range fields {
		v, err := xdr.DecodeUint32(r)
		if err != nil {
			return c, fmt.Errorf("decode channel_attrs4: %w", err)
		}
		*f = v
	}
	irdCount, err := xdr.DecodeUint32(r)
	if err != nil {
		return c, fmt.Errorf("decode channel_attrs4 rdma_ird count: %w", err)
	}
	if irdCount > 1 {
		return c, fmt.Errorf("decode channel_attrs4: rdma_ird count %d exceeds max 1", irdCount)
	}
	c.RdmaIrd = make([]uint32, irdCount)
	for i := range c.RdmaIrd {
		v, err := xdr.DecodeUint32(r)
		if err != nil {
			return c, fmt.Errorf("decode channel_attrs4 rdma_ird[%d]: %w", i, err)
		}
		c.RdmaIrd[i] = v
	}
	return c, nil
}

// ============================================================================
// ClientOwner4 / ServerOwner4 / NfsImplId4
// ============================================================================

// ClientOwner4 identifies the client instance that created a session's
// owning client id (client_owner4, RFC 8881 Section 2.4).
type ClientOwner4 struct {
	Verifier [8]byte
	OwnerID  []byte
}

// ServerOwner4 identifies the server instance behind a session
// (server_owner4, RFC 8881 Section 2.10.3); used to detect trunking.
type ServerOwner4 struct {
	MinorID uint64
	MajorID []byte
}

// NfsImplId4 carries free-form implementation identification
// (nfs_impl_id4, RFC 8881 Section 2.10.4).
type NfsImplId4 struct {
	Domain string
	Name   string
	Date   NFS4Time
}

// ============================================================================
// State Protection (state_protect4_a / state_protect4_r, RFC 8881 18.35)
// ============================================================================

// StateProtect4A is the client's requested state-protection mode sent in
// EXCHANGE_ID/CREATE_SESSION.
type StateProtect4A struct {
	How uint32 // SP4_NONE, SP4_MACH_CRED, or SP4_SSV

	// MachOpsEnforce and MachOpsAllow are only meaningful for
	// SP4_MACH_CRED and are stored as raw op-bitmaps (we never negotiate SSV in this
	// engine, but still round-trip the wire shape for SP4_MACH_CRED).
	MachOpsEnforce   Bitmap4
	MachOpsAllow     Bitmap4
}

// StateProtect4R is the server's corresponding response union member.
type StateProtect4R struct {
	How uint32

	MachOpsEnforce Bitmap4
	MachOpsAllow   Bitmap4
}

func encodeStateProtectOps(buf *bytes.Buffer, enforce, allow Bitmap4) error {
	if err := enforce.Encode(buf); err != nil {
		return err
	}
	return allow.Encode(buf)
}

func decodeStateProtectOps(r io.Reader) (Bitmap4, Bitmap4, error) {
	enforce, err := DecodeBitmap4(r)
	if err != nil {
		return nil, nil, err
	}
	allow, err := DecodeBitmap4(r)
	if err != nil {
		return nil, nil, err
	}
	return enforce, allow, nil
}

// Encode writes the state_protect4_a union.
func (s *StateProtect4A) Encode(buf *bytes.Buffer) error {
	if err := xdr.EncodeUnionDiscriminant(buf, s.How); err != nil {
		return err
	}
	switch s.How {
	case SP4_NONE:
		return nil
	case SP4_MACH_CRED:
		return encodeStateProtectOps(buf, s.MachOpsEnforce, s.MachOpsAllow)
	case SP4_SSV:
		return fmt.Errorf("state_protect4_a: SP4_SSV is not supported")
	default:
		return fmt.Errorf("state_protect4_a: unknown how %d", s.How)
	}
}

// DecodeStateProtect4A reads a state_protect4_a union.
func DecodeStateProtect4A(r io.Reader) (*StateProtect4A, error) {
	how, err := xdr.DecodeUnionDiscriminant(r)
	if err != nil {
		return nil, fmt.Errorf("decode state_protect4_a: %w", err)
	}
	s := &StateProtect4A{How: how}
	switch how {
	case SP4_NONE:
	case SP4_MACH_CRED:
		s.MachOpsEnforce, s.MachOpsAllow, err = decodeStateProtectOps(r)
		if err != nil {
			return nil, err
		}
	case SP4_SSV:
		return nil, fmt.Errorf("decode state_protect4_a: SP4_SSV is not supported")
	default:
		return nil, fmt.Errorf("decode state_protect4_a: unknown how %d", how)
	}
	return s, nil
}

// ============================================================================
// Callback Security Parameters (callback_sec_parms4, RFC 8881 Section 18.34)
// ============================================================================

// AuthSysParms mirrors the AUTH_SYS credential body (RFC 5531 Section 9.1)
// carried inside a CallbackSecParms4 with CbSecFlavor == RPCAUTH_SYS.
type AuthSysParms struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// CallbackSecParms4 is the security flavor and credential the client
// offers for the server's backchannel, supplied in CREATE_SESSION or
// BACKCHANNEL_CTL:
//
//	union callback_sec_parms4 switch (rpc_sec_auth) {
//	case AUTH_NONE:
//	    void;
//	case AUTH_SYS:
//	    struct authsys_parms cbsp_sys_cred;
//	case RPCSEC_GSS:
//	    rpc_gss_parms4 cbsp_gss_parms;
//	};
type CallbackSecParms4 struct {
	CbSecFlavor uint32
	AuthSys     *AuthSysParms
	GSSData     []byte // opaque rpc_gss_parms4 body; GSS not implemented.
}

// Encode writes a callback_sec_parms4 union.
func (c *CallbackSecParms4) Encode(buf *bytes.Buffer) error {
	if err := xdr.EncodeUnionDiscriminant(buf, c.CbSecFlavor); err != nil {
		return err
	}
	switch c.CbSecFlavor {
	case AUTH_NONE:
		return nil
	case RPCAUTH_SYS:
		if c.AuthSys == nil {
			return fmt.Errorf("callback_sec_parms4: AUTH_SYS flavor requires AuthSys")
		}
		if err := xdr.WriteUint32(buf, c.AuthSys.Stamp); err != nil {
			return err
		}
		if err := xdr.WriteXDRString(buf, c.AuthSys.MachineName); err != nil {
			return err
		}
		if err := xdr.WriteUint32(buf, c.AuthSys.UID); err != nil {
			return err
		}
		if err := xdr.WriteUint32(buf, c.AuthSys.GID); err != nil {
			return err
		}
		if err := xdr.WriteUint32(buf, uint32(len(c.AuthSys.GIDs))); err != nil {
			return err
		}
		for _, g := range c.AuthSys.GIDs {
			if err := xdr.WriteUint32(buf, g); err != nil {
				return err
			}
		}
		return nil
	case RPCSEC_GSS:
		return xdr.WriteXDROpaque(buf, c.GSSData)
	default:
		return fmt.Errorf("callback_sec_parms4: unknown flavor %d", c.CbSecFlavor)
	}
}

// DecodeCallbackSecParms4 reads a callback_sec_parms4 union.
func DecodeCallbackSecParms4(r io.Reader) (*CallbackSecParms4, error) {
	flavor, err := xdr.DecodeUnionDiscriminant(r)
	if err != nil {
		return nil, fmt.Errorf("decode callback_sec_parms4: %w", err)
	}
	c := &CallbackSecParms4{CbSecFlavor: flavor}
	switch flavor {
	case AUTH_NONE:
	case RPCAUTH_SYS:
		stamp, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("decode callback_sec_parms4 stamp: %w", err)
		}
		name, err := xdr.DecodeString(r)
		if err != nil {
			return nil, fmt.Errorf("decode callback_sec_parms4 machine name: %w", err)
		}
		uid, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("decode callback_sec_parms4 uid: %w", err)
		}
		gid, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("decode callback_sec_parms4 gid: %w", err)
		}
		gidCount, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("decode callback_sec_parms4 gid count: %w", err)
		}
		if gidCount > 16 {
			return nil, fmt.Errorf("decode callback_sec_parms4: gid count %d exceeds max 16", gidCount)
		}
		gids := make([]uint32, gidCount)
		for i := range gids {
			gids[i], err = xdr.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("decode callback_sec_parms4 gid[%d]: %w", i, err)
			}
		}
		c.AuthSys = &AuthSysParms{Stamp: stamp, MachineName: name, UID: uid, GID: gid, GIDs: gids}
	case RPCSEC_GSS:
		data, err := xdr.DecodeOpaque(r)
		if err != nil {
			return nil, fmt.Errorf("decode callback_sec_parms4 gss data: %w", err)
		}
		c.GSSData = data
	default:
		return nil, fmt.Errorf("decode callback_sec_parms4: unknown flavor %d", flavor)
	}
	return c, nil
}

// ============================================================================
// Referring Call List (referring_call4 / referring_call_list4, RFC 8881 20.2)
// ============================================================================

// ReferringCall4 names a single (sequenceid, slotid) point a prior forward
// call reached.
type ReferringCall4 struct {
	SequenceID uint32
	SlotID     uint32
}

// ReferringCallTriple groups referring calls by the forward session they
// belong to:
//
//	struct referring_call_list4 {
//	    sessionid4      rcl_sessionid;
//	    referring_call4 rcl_referring_calls<>;
//	};
type ReferringCallTriple struct {
	SessionID      SessionId4
	ReferringCalls []ReferringCall4
}

// MaxReferringCallsPerSession bounds the number of (seq, slot) pairs
// carried for a single session in one CB_SEQUENCE.
const MaxReferringCallsPerSession = 1024

// Encode writes a referring_call_list4.
func (rc *ReferringCallTriple) Encode(buf *bytes.Buffer) error {
	rc.SessionID.Encode(buf)
	if err := xdr.WriteUint32(buf, uint32(len(rc.ReferringCalls))); err != nil {
		return err
	}
	for _, c := range rc.ReferringCalls {
		if err := xdr.WriteUint32(buf, c.SequenceID); err != nil {
			return err
		}
		if err := xdr.WriteUint32(buf, c.SlotID); err != nil {
			return err
		}
	}
	return nil
}

// DecodeReferringCallTriple reads a referring_call_list4.
func DecodeReferringCallTriple(r io.Reader) (*ReferringCallTriple, error) {
	sid, err := DecodeSessionId4(r)
	if err != nil {
		return nil, err
	}
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decode referring_call_list4 count: %w", err)
	}
	if count > MaxReferringCallsPerSession {
		return nil, fmt.Errorf("decode referring_call_list4: count %d exceeds max %d", count, MaxReferringCallsPerSession)
	}
	calls := make([]ReferringCall4, count)
	for i := range calls {
		seq, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("decode referring_call4[%d] seq: %w", i, err)
		}
		slot, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("decode referring_call4[%d] slot: %w", i, err)
		}
		calls[i] = ReferringCall4{SequenceID: seq, SlotID: slot}
	}
	return &ReferringCallTriple{SessionID: sid, ReferringCalls: calls}, nil
}
