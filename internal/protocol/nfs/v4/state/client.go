// Package state implements the server-side NFSv4 client record and the
// callback engine that rides on top of it: per-client backchannel state,
// the single-threaded executor, and session bookkeeping the executor reads.
package state

import (
	"errors"
	"sync"
	"time"
)

// ============================================================================
// Error Types
// ============================================================================

// ErrStaleClientID indicates the client ID is not recognized by the server.
// Maps to NFS4ERR_STALE_CLIENTID (10022).
var ErrStaleClientID = errors.New("stale client ID")

// ErrClientIDInUse indicates the client ID string is already confirmed
// by a different principal/address and the callback check failed.
// Maps to NFS4ERR_CLID_INUSE (10017).
var ErrClientIDInUse = errors.New("client ID in use")

// ErrClientTornDown indicates CB_KILL was already raised when a callback
// was submitted; the callback never runs.
var ErrClientTornDown = errors.New("client torn down")

// ErrClientCourtesy indicates the client is being held as a courtesy
// client (its lease expired but its state is kept around in case it
// reconnects): the callback engine must not send it traffic, so the
// callback is destroyed without attempting I/O.
var ErrClientCourtesy = errors.New("client is a courtesy client")

// ChannelState is the callback channel's outward health signal, per
// RFC 8881 Section 20. It drives the server's delegation/layout
// revocation policy but carries no client-side meaning.
type ChannelState int32

const (
	// ChannelUnknown is the initial state, and the state forced whenever
	// CB_UPDATE is raised pending reconstruction.
	ChannelUnknown ChannelState = iota
	// ChannelUp means the last probe or callback succeeded.
	ChannelUp
	// ChannelDown means the transport is unreachable; retriable.
	ChannelDown
	// ChannelFault means the client and server disagree about session
	// state (a CB_SEQUENCE protocol mismatch); the client must destroy
	// and recreate its session.
	ChannelFault
)

func (s ChannelState) String() string {
	switch s {
	case ChannelUnknown:
		return "UNKNOWN"
	case ChannelUp:
		return "UP"
	case ChannelDown:
		return "DOWN"
	case ChannelFault:
		return "FAULT"
	default:
		return "INVALID"
	}
}

// Client flag bits. Forward-path callers may only set these bits; only
// the executor clears them.
const (
	// CBUpdate marks that the backchannel needs reconstruction.
	CBUpdate uint32 = 1 << 0
	// CBKill marks that the client is being torn down.
	CBKill uint32 = 1 << 1
)

// ============================================================================
// Client Record
// ============================================================================

// ClientRecord represents the server-side state for a single NFSv4 client:
// its identity and lease bookkeeping (RFC 7530 Section 9.1.1), plus the
// callback-engine fields described in the data model: minor version,
// backchannel state, the CB_UPDATE/CB_KILL flags, the inflight counter,
// and the per-client executor.
//
// All mutation of held (the live backchannel handle and credential)
// happens only inside the executor (runOne/resolveBackchannel); forward-path code reaches the client
// only through RunCB, ProbeCallback, ChangeCallback, and ShutdownCallback.
type ClientRecord struct {
	// ClientID is the server-assigned 64-bit client identifier.
	// Generated using boot epoch (high 32) + sequence counter (low 32).
	ClientID uint64

	// ClientIDString is the client-provided opaque identifier (nfs_client_id4.id).
	// This is the stable identity that persists across reboots.
	ClientIDString string

	// Verifier is the client-provided 8-byte value that changes on reboot.
	// Used to detect client restarts.
	Verifier [8]byte

	// ConfirmVerifier is the server-generated 8-byte verifier returned
	// by SETCLIENTID and validated by SETCLIENTID_CONFIRM.
	// Generated using crypto/rand for unpredictability.
	ConfirmVerifier [8]byte

	// Confirmed indicates whether SETCLIENTID_CONFIRM has been called.
	Confirmed bool

	// Callback holds the client's callback information for delegations
	// (the v4.0 cb_client4 the client gave us at SETCLIENTID).
	Callback CallbackInfo

	// ClientAddr is the network address of the client.
	ClientAddr string

	// CreatedAt is when this record was created.
	CreatedAt time.Time

	// LastRenewal is the most recent lease renewal time.
	// Updated by RENEW, OPEN, and any implicit lease renewal.
	LastRenewal time.Time

	// LeaseDuration is the negotiated lease length. The callback engine
	// derives its RPC timeout from it: max(LeaseDuration/10, 1 second).
	LeaseDuration time.Duration

	// MinorVersion is the client's negotiated minor version: 0 has no
	// sessions and uses cb_ident-based callbacks; >=1 uses the session's
	// slot table.
	MinorVersion uint32

	// SessionIDs lists the client's sessions, most-recently-created last.
	// The executor walks this to find a bound backchannel connection for
	// minor version >= 1.
	SessionIDs []SessionKey

	mu sync.Mutex

	// channelState is the callback channel's outward health signal.
	channelState ChannelState

	// flags holds CBUpdate/CBKill. Forward-path code may only set bits;
	// only the executor clears them.
	flags uint32

	// inflight counts callbacks that have been RunCB-submitted and have
	// not yet completed release. ShutdownCallback blocks until it is 0.
	inflight int

	// courtesy marks a client whose lease has expired but whose state
	// the server is keeping around in case the client reconnects
	// (RFC 8881's courtesy-client allowance). The executor destroys
	// every callback for a courtesy client without sending it traffic.
	courtesy bool

	// quiescentCh is created by waitQuiesced and closed (then cleared)
	// when inflight reaches zero; see waitQuiesced.
	quiescentCh chan struct{}

	// executor is this client's single-threaded work queue.
	executor *executor

	// conn is the connection handle the server has bound to the
	// backchannel for this client. Read-only after set; replaced
	// atomically under mu.
	conn *ConnParams

	// held is the backchannel's live RPC client handle and credential,
	// mutated only inside the executor.
	held *backchannelConn

	probe *CallbackProbe

	// sessions looks up this client's sessions, most-recently-bound last,
	// so the executor can find a v4.1+ bound back channel connection.
	// Supplied by the session directory via SetSessionLookup; nil until
	// then (a v4.0-only client never needs it).
	sessions SessionLookup
}

// SessionLookup returns a client's current sessions. Supplied by
// whichever component owns the session table, since the callback engine
// itself does not maintain one.
type SessionLookup func() []*Session

// SessionKey identifies a session by its 16-byte ID for lookups the
// executor performs when searching for a bound backchannel connection.
type SessionKey [16]byte

// NewClientRecord creates a ClientRecord with its executor and state
// fields initialized. leaseDuration is the negotiated lease length used
// to derive the callback RPC timeout.
func NewClientRecord(clientID uint64, clientIDString string, minorVersion uint32, leaseDuration time.Duration) *ClientRecord {
	cr := &ClientRecord{
		ClientID:       clientID,
		ClientIDString: clientIDString,
		MinorVersion:   minorVersion,
		LeaseDuration:  leaseDuration,
		CreatedAt:      time.Now(),
		channelState:   ChannelUnknown,
	}
	cr.executor = newExecutor(cr)
	cr.executor.start()
	cr.probe = newCallbackProbe(cr)
	return cr
}

// SetSessionLookup installs the function the executor uses to find this
// client's bound back channel connection for minor version >= 1.
func (cr *ClientRecord) SetSessionLookup(fn SessionLookup) {
	cr.mu.Lock()
	cr.sessions = fn
	cr.mu.Unlock()
}

// connParams returns the currently installed backchannel connection
// parameters, or nil if ChangeCallback has never been called.
func (cr *ClientRecord) connParams() *ConnParams {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.conn
}

// sessionLookup returns the installed SessionLookup, or nil if
// SetSessionLookup has never been called.
func (cr *ClientRecord) sessionLookup() SessionLookup {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.sessions
}

// VerifierMatches returns true if the given verifier matches this client's verifier.
func (cr *ClientRecord) VerifierMatches(v [8]byte) bool {
	return cr.Verifier == v
}

// ChannelState returns the callback channel's current health signal.
func (cr *ClientRecord) ChannelState() ChannelState {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.channelState
}

// setChannelState is normally called only from the executor goroutine;
// ProbeCallbackSync is the one external caller, forcing ChannelUnknown
// before a probe the way ChangeCallback forces CB_UPDATE.
func (cr *ClientRecord) setChannelState(s ChannelState) {
	cr.mu.Lock()
	cr.channelState = s
	cr.mu.Unlock()
}

// SetCourtesy marks or unmarks this client as a courtesy client. While
// set, the executor destroys every queued callback without attempting
// a backchannel send (RFC 8881 Section 2.10.13.1's courtesy-client
// allowance: the server keeps the client's state but must not assume
// its callback channel is reachable).
func (cr *ClientRecord) SetCourtesy(courtesy bool) {
	cr.mu.Lock()
	cr.courtesy = courtesy
	cr.mu.Unlock()
}

// IsCourtesy reports whether this client is currently held as a
// courtesy client.
func (cr *ClientRecord) IsCourtesy() bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.courtesy
}

// SetFlag sets bits in the client's flags. Forward-path callers may only
// call this to set CBUpdate/CBKill; they must never clear bits.
func (cr *ClientRecord) SetFlag(bit uint32) {
	cr.mu.Lock()
	cr.flags |= bit
	if bit&CBUpdate != 0 {
		cr.channelState = ChannelUnknown
	}
	cr.mu.Unlock()
}

// loadAndClearFlags reads the current flags and clears CBUpdate; CBKill
// stays set once raised so every later run and submit sees it. Only the
// executor calls this.
func (cr *ClientRecord) loadAndClearFlags() uint32 {
	cr.mu.Lock()
	f := cr.flags
	cr.flags &= CBKill
	cr.mu.Unlock()
	return f
}

func (cr *ClientRecord) hasFlag(f, bit uint32) bool {
	return f&bit != 0
}

// incInflight increments the inflight counter. Returns the new value.
func (cr *ClientRecord) incInflight() int {
	cr.mu.Lock()
	cr.inflight++
	n := cr.inflight
	cr.mu.Unlock()
	return n
}

// decInflight decrements the inflight counter and wakes any waiter
// parked in waitQuiesced once it reaches zero.
func (cr *ClientRecord) decInflight() {
	cr.mu.Lock()
	cr.inflight--
	var ch chan struct{}
	if cr.inflight == 0 {
		ch = cr.quiescentCh
		cr.quiescentCh = nil
	}
	cr.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Inflight returns the current inflight callback count.
func (cr *ClientRecord) Inflight() int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.inflight
}

// waitQuiesced blocks until the inflight counter reaches zero.
func (cr *ClientRecord) waitQuiesced() {
	for {
		cr.mu.Lock()
		if cr.inflight == 0 {
			cr.mu.Unlock()
			return
		}
		if cr.quiescentCh == nil {
			cr.quiescentCh = make(chan struct{})
		}
		ch := cr.quiescentCh
		cr.mu.Unlock()
		<-ch
	}
}

// ConnParams are the pending backchannel connection parameters installed
// by ChangeCallback. Read-only after set; replaced atomically under the
// client lock.
type ConnParams struct {
	// Program is the callback RPC program number for this connection.
	Program uint32

	// NetID/Addr identify the client's advertised v4.0 callback address
	// (universal address format). Empty for v4.1+, where the connection
	// is instead reached through a bound session connection.
	NetID string
	Addr  string
}

// ============================================================================
// Callback Info
// ============================================================================

// CallbackInfo holds the client's callback program information
// for delegation recall and other server-initiated callbacks.
//
// Per RFC 7530 Section 16.33 (cb_client4):
//
//	struct cb_client4 {
//	    unsigned int cb_program;
//	    netaddr4     cb_location;
//	};
type CallbackInfo struct {
	// Program is the RPC program number for callbacks.
	Program uint32

	// NetID is the transport protocol ("tcp", "tcp6", etc.).
	NetID string

	// Addr is the callback address in universal address format.
	Addr string

	// Ident is the opaque callback_ident the client supplied at
	// SETCLIENTID, echoed in every v4.0 CB_COMPOUND4args so the client
	// can tell which of its registered programs a call belongs to.
	Ident uint32
}

// ============================================================================
// SetClientID Result
// ============================================================================

// SetClientIDResult contains the values needed for the SETCLIENTID
// response.
type SetClientIDResult struct {
	// ClientID is the server-assigned 64-bit client identifier.
	ClientID uint64

	// ConfirmVerifier is the server-generated verifier for SETCLIENTID_CONFIRM.
	ConfirmVerifier [8]byte
}
