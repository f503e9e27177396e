// Package state -- backchannel connection construction and the wire-level
// CB_COMPOUND call/reply exchange.
//
// Two shapes of backchannel exist, mirroring RFC 7530 Section 16.33 (v4.0)
// and RFC 8881 Section 2.10.3.1 (v4.1+):
//
//   - v4.0: the client registered a cb_client4 (program, netid, universal
//     address) at SETCLIENTID. The engine dials out to it for every call.
//   - v4.1+: the back channel rides an existing connection the client
//     bound to the session (CREATE_SESSION or BIND_CONN_TO_SESSION). The
//     engine never dials; it writes to whatever connection is bound and
//     reads the reply back off that same connection's read loop.
package state

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/nfs4cb/internal/protocol/nfs/rpc"
	"github.com/marmos91/nfs4cb/internal/protocol/nfs/v4/types"
)

// ============================================================================
// Universal Address Parsing (RFC 5665 Section 5.2.3.3)
// ============================================================================

// ParseUniversalAddr parses an NFSv4 universal address (uaddr) into host
// and port: "h1.h2.h3.h4.p1.p2" for tcp, "h1:h2::h3.p1.p2" for tcp6, where
// p1*256+p2 is the port and the rest is the host.
func ParseUniversalAddr(netid, uaddr string) (string, int, error) {
	lastDot := strings.LastIndex(uaddr, ".")
	if lastDot < 0 {
		return "", 0, fmt.Errorf("malformed universal address %q: no dots found", uaddr)
	}
	p2Str := uaddr[lastDot+1:]
	rest := uaddr[:lastDot]

	secondLastDot := strings.LastIndex(rest, ".")
	if secondLastDot < 0 {
		return "", 0, fmt.Errorf("malformed universal address %q: need at least host.p1.p2", uaddr)
	}
	p1Str := rest[secondLastDot+1:]
	host := rest[:secondLastDot]
	if host == "" {
		return "", 0, fmt.Errorf("malformed universal address %q: empty host", uaddr)
	}

	p1, err := strconv.Atoi(p1Str)
	if err != nil {
		return "", 0, fmt.Errorf("malformed universal address %q: invalid p1 %q: %w", uaddr, p1Str, err)
	}
	p2, err := strconv.Atoi(p2Str)
	if err != nil {
		return "", 0, fmt.Errorf("malformed universal address %q: invalid p2 %q: %w", uaddr, p2Str, err)
	}
	if p1 < 0 || p1 > 255 {
		return "", 0, fmt.Errorf("malformed universal address %q: p1=%d out of range 0-255", uaddr, p1)
	}
	if p2 < 0 || p2 > 255 {
		return "", 0, fmt.Errorf("malformed universal address %q: p2=%d out of range 0-255", uaddr, p2)
	}
	return host, p1*256 + p2, nil
}

// ============================================================================
// Pending Reply Routing (v4.1+ shared connections)
// ============================================================================

// ConnWriter writes a framed message to a connection already bound as a
// session's back channel. Implementations must serialize writes against
// the connection's fore-channel reply traffic.
type ConnWriter func(data []byte) error

// PendingCBReplies routes a v4.1+ connection's inbound RPC REPLY traffic
// back to whichever executor is waiting on a given XID. The connection's
// ordinary read loop calls Deliver when it sees msg_type == REPLY for an
// XID it doesn't recognize as one of its own fore-channel calls.
type PendingCBReplies struct {
	mu      sync.Mutex
	waiters map[uint32]chan []byte
}

// NewPendingCBReplies creates an empty reply router.
func NewPendingCBReplies() *PendingCBReplies {
	return &PendingCBReplies{waiters: make(map[uint32]chan []byte)}
}

// Register reserves xid and returns the channel its reply will arrive on.
func (p *PendingCBReplies) Register(xid uint32) chan []byte {
	ch := make(chan []byte, 1)
	p.mu.Lock()
	p.waiters[xid] = ch
	p.mu.Unlock()
	return ch
}

// Deliver hands reply to the waiter registered for xid. Returns false if
// nothing is waiting (a reply that arrived after the caller gave up).
func (p *PendingCBReplies) Deliver(xid uint32, reply []byte) bool {
	p.mu.Lock()
	ch, ok := p.waiters[xid]
	if ok {
		delete(p.waiters, xid)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- reply
	return true
}

// Cancel removes a waiter without delivering, used when the caller times out.
func (p *PendingCBReplies) Cancel(xid uint32) {
	p.mu.Lock()
	delete(p.waiters, xid)
	p.mu.Unlock()
}

// ============================================================================
// backchannelConn -- one constructed backchannel, either shape
// ============================================================================

// backchannelConn is the live handle the executor calls through to issue
// one CB_COMPOUND and receive its raw reply bytes. It is rebuilt whenever
// CB_UPDATE fires or the prior handle faults.
type backchannelConn struct {
	program uint32
	nextXID atomic.Uint32

	// v4.0 shape: dial out per call.
	v40  *callbackInfoTarget
	cred *rpc.UnixAuth // nil means AUTH_NULL

	// v4.1+ shape: write to a bound connection, read the reply back via
	// the connection's own read loop delivering into pending.
	writer  ConnWriter
	pending *PendingCBReplies
}

type callbackInfoTarget struct {
	netID string
	addr  string
}

// NewBackchannelV40 constructs a dial-out backchannel from the cb_client4
// the client registered at SETCLIENTID. cred is nil to send AUTH_NULL, or
// an AUTH_UNIX credential built from the principal that created the state
// being recalled.
func NewBackchannelV40(info CallbackInfo, cred *rpc.UnixAuth) *backchannelConn {
	return &backchannelConn{
		program: info.Program,
		v40:     &callbackInfoTarget{netID: info.NetID, addr: info.Addr},
		cred:    cred,
	}
}

// NewBackchannelV41 constructs a backchannel riding an already-bound
// session connection.
func NewBackchannelV41(program uint32, writer ConnWriter, pending *PendingCBReplies) *backchannelConn {
	return &backchannelConn{
		program: program,
		writer:  writer,
		pending: pending,
	}
}

// IsV41 reports whether this handle rides a bound connection rather than
// dialing out.
func (c *backchannelConn) IsV41() bool { return c.writer != nil }

// Call sends one CB_COMPOUND request and returns the raw reply body (the
// bytes immediately following the record-mark fragment header) for the
// caller to parse. minorVersion/callbackIdent are written into the
// compound envelope as CB_COMPOUND4args requires.
func (c *backchannelConn) Call(ctx context.Context, minorVersion, callbackIdent uint32, ops []types.CBCompoundOp, timeout time.Duration) ([]byte, error) {
	args, err := types.EncodeCBCompoundArgs(minorVersion, callbackIdent, ops)
	if err != nil {
		return nil, fmt.Errorf("encode cb_compound: %w", err)
	}

	xid := c.nextXID.Add(1)
	var cred, verf rpc.OpaqueAuth
	if c.cred != nil {
		cred = rpc.OpaqueAuth{Flavor: rpc.AuthUnix, Body: rpc.EncodeUnixAuth(c.cred)}
	}
	callMsg := rpc.EncodeCall(rpc.CallHeader{
		XID:        xid,
		Program:    c.program,
		Version:    types.NFS4_CALLBACK_VERSION,
		Procedure:  types.CB_PROC_COMPOUND,
		Credential: cred,
		Verifier:   verf,
	}, args)

	if c.IsV41() {
		return c.callBound(xid, callMsg, timeout)
	}
	return c.callDialed(ctx, callMsg, timeout)
}

// Ping sends CB_NULL (RPC procedure 0, no arguments) to verify the
// channel is reachable without touching the slot table.
func (c *backchannelConn) Ping(ctx context.Context, timeout time.Duration) error {
	xid := c.nextXID.Add(1)
	callMsg := rpc.EncodeCall(rpc.CallHeader{
		XID:       xid,
		Program:   c.program,
		Version:   types.NFS4_CALLBACK_VERSION,
		Procedure: types.CB_PROC_NULL,
	}, nil)

	var replyBody []byte
	var err error
	if c.IsV41() {
		replyBody, err = c.callBound(xid, callMsg, timeout)
	} else {
		replyBody, err = c.callDialed(ctx, callMsg, timeout)
	}
	if err != nil {
		return err
	}
	_, _, err = rpc.ParseAcceptedReplyHeader(replyBody)
	return err
}

func (c *backchannelConn) callBound(xid uint32, callMsg []byte, timeout time.Duration) ([]byte, error) {
	replyCh := c.pending.Register(xid)
	if err := c.writer(callMsg); err != nil {
		c.pending.Cancel(xid)
		return nil, fmt.Errorf("write to bound backchannel connection: %w", err)
	}
	select {
	case body := <-replyCh:
		return body, nil
	case <-time.After(timeout):
		c.pending.Cancel(xid)
		return nil, fmt.Errorf("backchannel call timed out after %s", timeout)
	}
}

func (c *backchannelConn) callDialed(ctx context.Context, callMsg []byte, timeout time.Duration) ([]byte, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	host, port, err := ParseUniversalAddr(c.v40.netID, c.v40.addr)
	if err != nil {
		return nil, fmt.Errorf("parse callback address: %w", err)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial callback address %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := dialCtx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	if _, err := conn.Write(callMsg); err != nil {
		return nil, fmt.Errorf("write call: %w", err)
	}

	return readFragment(conn)
}

// ============================================================================
// RPC Fragment I/O
// ============================================================================

func readFragment(conn net.Conn) ([]byte, error) {
	var headerBuf [4]byte
	if _, err := readFull(conn, headerBuf[:]); err != nil {
		return nil, fmt.Errorf("read reply fragment header: %w", err)
	}
	_, fragLen := rpc.SplitRecordMark(binary.BigEndian.Uint32(headerBuf[:]))
	if int(fragLen) > rpc.MaxFragmentSize() {
		return nil, fmt.Errorf("reply fragment too large: %d", fragLen)
	}
	body := make([]byte, fragLen)
	if _, err := readFull(conn, body); err != nil {
		return nil, fmt.Errorf("read reply body: %w", err)
	}
	return body, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// parseCBReply parses the RPC-level envelope of a CB_COMPOUND reply and
// returns the bytes of the CB_COMPOUND4res body (status onward) for the
// caller to decode with DecodeCBCompoundHeader.
func parseCBReply(replyBody []byte) ([]byte, error) {
	hdr, rest, err := rpc.ParseAcceptedReplyHeader(replyBody)
	if err != nil {
		return nil, err
	}
	switch hdr.AcceptStat {
	case rpc.RPCSuccess:
		return rest, nil
	case rpc.RPCProgMismatch:
		return nil, fmt.Errorf("callback target rejected program/version (PROG_MISMATCH)")
	default:
		return nil, fmt.Errorf("callback RPC not successful: accept_stat=%d", hdr.AcceptStat)
	}
}
