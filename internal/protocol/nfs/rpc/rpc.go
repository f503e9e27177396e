// Package rpc implements the ONC RPC (SUN-RPC) message framing the
// callback engine needs to both issue CB_COMPOUND calls toward a client
// and parse the reply: record marking, call/reply headers, and the
// AUTH_UNIX credential body. It does not implement a general RPC server;
// it is scoped to what building and reading a callback RPC requires.
package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ============================================================================
// RPC Message Types (RFC 5531 Section 8)
// ============================================================================

const (
	// RPCCall identifies a Call message.
	RPCCall uint32 = 0
	// RPCReply identifies a Reply message.
	RPCReply uint32 = 1
)

// ============================================================================
// Reply Status (RFC 5531 Section 8, reply_stat)
// ============================================================================

const (
	// RPCMsgAccepted means the RPC was accepted by the server for processing.
	RPCMsgAccepted uint32 = 0
	// RPCMsgDenied means the server rejected the RPC outright (bad RPC
	// version or bad auth).
	RPCMsgDenied uint32 = 1
)

// ============================================================================
// Accept Status (RFC 5531 Section 8, accept_stat)
// ============================================================================

const (
	RPCSuccess      uint32 = 0 // RPC executed successfully
	RPCProgUnavail  uint32 = 1 // remote hasn't exported program
	RPCProgMismatch uint32 = 2 // remote can't support version
	RPCProcUnavail  uint32 = 3 // program can't support procedure
	RPCGarbageArgs  uint32 = 4 // procedure can't decode params
	RPCSystemErr    uint32 = 5 // server error other than above
)

// ============================================================================
// Auth Flavors (RFC 5531 Section 9.1)
// ============================================================================

const (
	AuthNull  uint32 = 0
	AuthUnix  uint32 = 1
	AuthShort uint32 = 2
	AuthDES   uint32 = 3
)

// RPCVersion2 is the only ONC RPC protocol version in deployment.
const RPCVersion2 uint32 = 2

// ============================================================================
// Record Marking (RFC 5531 Section 11)
// ============================================================================

// maxFragmentSize bounds a single record-marked fragment the engine will
// accept when reading a callback reply.
const maxFragmentSize = 1 << 20 // 1 MiB

// AddRecordMark prepends a 4-byte fragment header to msg: the high bit
// set means this is the last (and, here, only) fragment of the record;
// the low 31 bits carry the fragment length.
func AddRecordMark(msg []byte, lastFragment bool) []byte {
	var header uint32 = uint32(len(msg))
	if lastFragment {
		header |= 0x80000000
	}
	out := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(out[0:4], header)
	copy(out[4:], msg)
	return out
}

// SplitRecordMark decodes a 4-byte record-marking fragment header value
// into whether it is the record's last fragment and the declared
// fragment length.
func SplitRecordMark(header uint32) (lastFragment bool, length uint32) {
	lastFragment = header&0x80000000 != 0
	length = header & 0x7FFFFFFF
	return lastFragment, length
}

// MaxFragmentSize is the largest single fragment this package will parse.
func MaxFragmentSize() int { return maxFragmentSize }

// ============================================================================
// UnixAuth (AUTH_UNIX credential body, RFC 5531 Section 9.1)
// ============================================================================

// maxMachineNameLen bounds auth_unix's machine name field.
const maxMachineNameLen = 255

// maxGIDs bounds auth_unix's supplementary group list (NGROUPS_MAX on most
// systems is 16, which RFC 5531's own reference implementation mirrors).
const maxGIDs = 16

// UnixAuth is the decoded body of an AUTH_UNIX credential:
//
//	struct auth_unix {
//	    unsigned int stamp;
//	    string       machinename<255>;
//	    unsigned int uid;
//	    unsigned int gid;
//	    unsigned int gids<16>;
//	};
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// ParseUnixAuth decodes an AUTH_UNIX credential body.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("parse auth_unix: empty credential body")
	}

	r := bytes.NewReader(body)

	var stamp uint32
	if err := binary.Read(r, binary.BigEndian, &stamp); err != nil {
		return nil, fmt.Errorf("parse auth_unix: read stamp: %w", err)
	}

	var nameLen uint32
	if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
		return nil, fmt.Errorf("parse auth_unix: read machine name length: %w", err)
	}
	if nameLen > maxMachineNameLen {
		return nil, fmt.Errorf("parse auth_unix: machine name too long (%d > %d)", nameLen, maxMachineNameLen)
	}
	nameBytes := make([]byte, nameLen)
	if _, err := readFull(r, nameBytes); err != nil {
		return nil, fmt.Errorf("parse auth_unix: read machine name: %w", err)
	}
	if err := skipPadding(r, nameLen); err != nil {
		return nil, fmt.Errorf("parse auth_unix: skip machine name padding: %w", err)
	}

	var uid, gid uint32
	if err := binary.Read(r, binary.BigEndian, &uid); err != nil {
		return nil, fmt.Errorf("parse auth_unix: read uid: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &gid); err != nil {
		return nil, fmt.Errorf("parse auth_unix: read gid: %w", err)
	}

	var gidCount uint32
	if err := binary.Read(r, binary.BigEndian, &gidCount); err != nil {
		return nil, fmt.Errorf("parse auth_unix: read gid count: %w", err)
	}
	if gidCount > maxGIDs {
		return nil, fmt.Errorf("parse auth_unix: too many gids (%d > %d)", gidCount, maxGIDs)
	}
	gids := make([]uint32, gidCount)
	for i := range gids {
		if err := binary.Read(r, binary.BigEndian, &gids[i]); err != nil {
			return nil, fmt.Errorf("parse auth_unix: read gid[%d]: %w", i, err)
		}
	}

	return &UnixAuth{
		Stamp:       stamp,
		MachineName: string(nameBytes),
		UID:         uid,
		GID:         gid,
		GIDs:        gids,
	}, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func skipPadding(r *bytes.Reader, dataLen uint32) error {
	padding := (4 - (dataLen % 4)) % 4
	if padding == 0 {
		return nil
	}
	_, err := r.Seek(int64(padding), 1)
	return err
}

// String returns a human-readable representation.
func (a *UnixAuth) String() string {
	return fmt.Sprintf("UnixAuth{machine=%q, uid=%d, gid=%d, gids=%v}", a.MachineName, a.UID, a.GID, a.GIDs)
}

// EncodeUnixAuth writes an AUTH_UNIX credential body (the inverse of
// ParseUnixAuth), used when the callback engine builds credentials toward
// a v4.0 client from the client's own forward-direction principal.
func EncodeUnixAuth(a *UnixAuth) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, a.Stamp)

	nameLen := uint32(len(a.MachineName))
	_ = binary.Write(&buf, binary.BigEndian, nameLen)
	buf.WriteString(a.MachineName)
	for i := uint32(0); i < (4-(nameLen%4))%4; i++ {
		buf.WriteByte(0)
	}

	_ = binary.Write(&buf, binary.BigEndian, a.UID)
	_ = binary.Write(&buf, binary.BigEndian, a.GID)

	_ = binary.Write(&buf, binary.BigEndian, uint32(len(a.GIDs)))
	for _, g := range a.GIDs {
		_ = binary.Write(&buf, binary.BigEndian, g)
	}
	return buf.Bytes()
}

// ============================================================================
// Opaque Auth (RFC 5531 Section 8.2)
// ============================================================================

// OpaqueAuth is the generic {flavor, body} pair carried as both the
// credential and verifier of every RPC call and reply.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

func (a OpaqueAuth) encode(buf *bytes.Buffer) {
	_ = binary.Write(buf, binary.BigEndian, a.Flavor)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(a.Body)))
	buf.Write(a.Body)
	padding := (4 - (uint32(len(a.Body)) % 4)) % 4
	for i := uint32(0); i < padding; i++ {
		buf.WriteByte(0)
	}
}

// NullAuth is the zero-length AUTH_NULL opaque_auth value.
func NullAuth() OpaqueAuth { return OpaqueAuth{Flavor: AuthNull} }

// ============================================================================
// Call Message (RFC 5531 Section 8, call_body)
// ============================================================================

// CallHeader is the fixed portion of an RPC call_body, not including the
// procedure-specific arguments that follow it.
type CallHeader struct {
	XID         uint32
	Program     uint32
	Version     uint32
	Procedure   uint32
	Credential  OpaqueAuth
	Verifier    OpaqueAuth
}

// EncodeCall builds a full RPC call message: record mark + call_body +
// the caller's already-XDR-encoded procedure arguments.
func EncodeCall(h CallHeader, args []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, h.XID)
	_ = binary.Write(&buf, binary.BigEndian, RPCCall)
	_ = binary.Write(&buf, binary.BigEndian, RPCVersion2)
	_ = binary.Write(&buf, binary.BigEndian, h.Program)
	_ = binary.Write(&buf, binary.BigEndian, h.Version)
	_ = binary.Write(&buf, binary.BigEndian, h.Procedure)
	h.Credential.encode(&buf)
	h.Verifier.encode(&buf)
	buf.Write(args)
	return AddRecordMark(buf.Bytes(), true)
}

// ============================================================================
// Reply Message (RFC 5531 Section 8, reply_body)
// ============================================================================

// AcceptedReplyHeader is the fixed portion of a successfully-accepted
// reply, before the procedure-specific result.
type AcceptedReplyHeader struct {
	XID        uint32
	Verifier   OpaqueAuth
	AcceptStat uint32
}

// ParseAcceptedReplyHeader reads an RPC reply up through accept_stat,
// validating that it is a Reply/MSG_ACCEPTED message. The returned
// remaining bytes start at whatever accept_stat dictates (procedure
// result on RPCSuccess; mismatch_info on RPCProgMismatch; nothing on the
// other failure statuses).
func ParseAcceptedReplyHeader(body []byte) (*AcceptedReplyHeader, []byte, error) {
	r := bytes.NewReader(body)

	var xid, msgType uint32
	if err := binary.Read(r, binary.BigEndian, &xid); err != nil {
		return nil, nil, fmt.Errorf("parse rpc reply: read xid: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &msgType); err != nil {
		return nil, nil, fmt.Errorf("parse rpc reply: read msg_type: %w", err)
	}
	if msgType != RPCReply {
		return nil, nil, fmt.Errorf("parse rpc reply: expected msg_type REPLY, got %d", msgType)
	}

	var replyStat uint32
	if err := binary.Read(r, binary.BigEndian, &replyStat); err != nil {
		return nil, nil, fmt.Errorf("parse rpc reply: read reply_stat: %w", err)
	}
	if replyStat != RPCMsgAccepted {
		return nil, nil, fmt.Errorf("parse rpc reply: message denied (reply_stat=%d)", replyStat)
	}

	verifier, err := decodeOpaqueAuth(r)
	if err != nil {
		return nil, nil, fmt.Errorf("parse rpc reply: read verifier: %w", err)
	}

	var acceptStat uint32
	if err := binary.Read(r, binary.BigEndian, &acceptStat); err != nil {
		return nil, nil, fmt.Errorf("parse rpc reply: read accept_stat: %w", err)
	}

	remaining := body[len(body)-r.Len():]
	return &AcceptedReplyHeader{XID: xid, Verifier: verifier, AcceptStat: acceptStat}, remaining, nil
}

func decodeOpaqueAuth(r *bytes.Reader) (OpaqueAuth, error) {
	var flavor, length uint32
	if err := binary.Read(r, binary.BigEndian, &flavor); err != nil {
		return OpaqueAuth{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return OpaqueAuth{}, err
	}
	body := make([]byte, length)
	if _, err := readFull(r, body); err != nil {
		return OpaqueAuth{}, err
	}
	if err := skipPadding(r, length); err != nil {
		return OpaqueAuth{}, err
	}
	return OpaqueAuth{Flavor: flavor, Body: body}, nil
}

// ============================================================================
// MakeProgMismatchReply (RFC 5531 Section 8, accept_stat PROG_MISMATCH)
// ============================================================================

// MakeProgMismatchReply builds a complete, record-marked RPC reply
// reporting PROG_MISMATCH with the given [low, high] supported version
// range. The callback engine only ever plays the client role, but it
// composes this reply when acting as the backchannel's RPC *server* for
// CB_NULL-style trial probes some clients send before CB_COMPOUND.
func MakeProgMismatchReply(xid, low, high uint32) ([]byte, error) {
	if low > high {
		return nil, fmt.Errorf("invalid version range: low (%d) > high (%d)", low, high)
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, xid)
	_ = binary.Write(&buf, binary.BigEndian, RPCReply)
	_ = binary.Write(&buf, binary.BigEndian, RPCMsgAccepted)
	NullAuth().encode(&buf)
	_ = binary.Write(&buf, binary.BigEndian, RPCProgMismatch)
	_ = binary.Write(&buf, binary.BigEndian, low)
	_ = binary.Write(&buf, binary.BigEndian, high)

	return AddRecordMark(buf.Bytes(), true), nil
}
