package state

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/nfs4cb/internal/protocol/nfs/v4/types"
)

// Session represents the slice of an NFSv4.1 session (RFC 8881 Section
// 2.10) the callback engine reads: its id, the client that owns it, the
// back channel's slot table and negotiated attributes, and whichever
// connection is currently bound as its back channel.
//
// Fore-channel slot accounting, request caching, and the rest of the
// session's forward-path bookkeeping belong to the component that
// creates sessions from CREATE_SESSION -- this type only carries what
// CB_SEQUENCE and the executor need.
type Session struct {
	// SessionID is the unique 16-byte session identifier (crypto/rand generated).
	SessionID types.SessionId4

	// ClientID is the server-assigned client ID that owns this session.
	ClientID uint64

	// BackChannelSlots is the slot table for back channel (server -> client).
	// nil if no back channel was requested.
	BackChannelSlots *SlotTable

	// BackChannelAttrs holds the negotiated back channel attributes.
	BackChannelAttrs types.ChannelAttrs

	// Flags holds the CREATE_SESSION flags (e.g., CREATE_SESSION4_FLAG_CONN_BACK_CHAN).
	Flags uint32

	// CbProgram is the callback RPC program number from CREATE_SESSION.
	CbProgram uint32

	// CreatedAt is when this session was created.
	CreatedAt time.Time

	// BackchannelSecParms stores the callback security parameters from
	// BACKCHANNEL_CTL. Updated when the client sends BACKCHANNEL_CTL.
	BackchannelSecParms []types.CallbackSecParms4

	mu sync.Mutex

	// conn is the connection currently bound as this session's back
	// channel (via CREATE_SESSION or BIND_CONN_TO_SESSION). nil until a
	// connection has bound back, or after it drops.
	conn *backchannelConn
}

// NewSession creates a new Session with a crypto/rand-generated session
// ID and, when flags includes CREATE_SESSION4_FLAG_CONN_BACK_CHAN, a back
// channel slot table sized from backAttrs.MaxRequests.
//
// This constructor does not register the session with any directory;
// registration is the CREATE_SESSION handler's responsibility.
func NewSession(clientID uint64, backAttrs types.ChannelAttrs, flags, cbProgram uint32) (*Session, error) {
	var sid types.SessionId4

	// Session IDs are protocol-visible identifiers; predictable values
	// could allow session hijacking, so generation failure is fatal
	// rather than falling back to a weaker source.
	if _, err := rand.Read(sid[:]); err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	s := &Session{
		SessionID:        sid,
		ClientID:         clientID,
		BackChannelAttrs: backAttrs,
		Flags:            flags,
		CbProgram:        cbProgram,
		CreatedAt:        time.Now(),
	}

	if flags&types.CREATE_SESSION4_FLAG_CONN_BACK_CHAN != 0 {
		s.BackChannelSlots = NewSlotTable(backAttrs.MaxRequests)
	}

	return s, nil
}

// HasInFlightRequests returns true if the session's back channel slot
// table has any slot currently granted out.
func (s *Session) HasInFlightRequests() bool {
	if s.BackChannelSlots == nil {
		return false
	}
	return s.BackChannelSlots.HasInFlightRequests()
}

// BindBackchannel installs conn as this session's back channel
// connection, replacing whatever was previously bound.
func (s *Session) BindBackchannel(conn *backchannelConn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Backchannel returns the currently bound back channel connection, or
// nil if none is bound.
func (s *Session) Backchannel() *backchannelConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
