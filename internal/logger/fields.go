package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the callback engine.
// Use these keys consistently so downstream log aggregation/querying stays
// consistent regardless of which component emitted the line.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry-style trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry-style span ID for operation tracking

	// ========================================================================
	// Protocol & Operation
	// ========================================================================
	KeyProtocol  = "protocol"   // Protocol type: nfs4, nfs41
	KeyProcedure = "procedure"  // CB_* operation name: CB_RECALL, CB_SEQUENCE, etc.
	KeyHandle    = "handle"     // File handle (opaque identifier)
	KeyStatus    = "status"     // nfsstat4 code
	KeyStatusMsg = "status_msg" // Human-readable status message

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyClientIP = "client_ip" // Client IP address
	KeyUID      = "uid"       // User ID (AUTH_SYS)
	KeyGID      = "gid"       // Group ID (AUTH_SYS)

	// ========================================================================
	// Session & Callback Channel
	// ========================================================================
	KeySessionID    = "session_id"    // NFSv4.1 session identifier (hex)
	KeyClientID     = "client_id"     // NFSv4 server-assigned client ID
	KeyConnectionID = "connection_id" // Backchannel connection identifier
	KeyRequestID    = "xid"           // RPC transaction ID
	KeySlotID       = "slot_id"       // Back-channel slot index
	KeySeqID        = "seq_id"        // Slot sequence ID
	KeyHighestSlot  = "highest_slot"  // ca_maxrequests-derived highest slot
	KeyCbProgram    = "cb_program"    // Client-assigned callback RPC program number
	KeyChannelState = "channel_state" // UP, DOWN, FAULT

	// ========================================================================
	// Callback Task / Retry
	// ========================================================================
	KeyTaskID     = "task_id"     // Callback task identifier
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyRecallType = "recall_type" // CB_RECALL / CB_RECALL_ANY / CB_LAYOUTRECALL

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Numeric error code
	KeyOperation  = "operation"   // Sub-operation type
)

// TraceID returns a slog.Attr for the trace ID.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for the span ID.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// Protocol returns a slog.Attr for the protocol type.
func Protocol(proto string) slog.Attr { return slog.String(KeyProtocol, proto) }

// Procedure returns a slog.Attr for the operation/procedure name.
func Procedure(name string) slog.Attr { return slog.String(KeyProcedure, name) }

// Handle returns a slog.Attr for a file handle (formatted as hex).
func Handle(h []byte) slog.Attr { return slog.String(KeyHandle, fmt.Sprintf("%x", h)) }

// Status returns a slog.Attr for an nfsstat4 code.
func Status(code uint32) slog.Attr { return slog.Any(KeyStatus, code) }

// StatusMsg returns a slog.Attr for a human-readable status message.
func StatusMsg(msg string) slog.Attr { return slog.String(KeyStatusMsg, msg) }

// ClientIP returns a slog.Attr for the client IP address.
func ClientIP(addr string) slog.Attr { return slog.String(KeyClientIP, addr) }

// UID returns a slog.Attr for the user ID.
func UID(uid uint32) slog.Attr { return slog.Any(KeyUID, uid) }

// GID returns a slog.Attr for the group ID.
func GID(gid uint32) slog.Attr { return slog.Any(KeyGID, gid) }

// SessionID returns a slog.Attr for a session identifier already formatted as hex.
func SessionID(id string) slog.Attr { return slog.String(KeySessionID, id) }

// ClientID returns a slog.Attr for the server-assigned client ID.
func ClientID(id uint64) slog.Attr { return slog.Uint64(KeyClientID, id) }

// ConnectionID returns a slog.Attr for a backchannel connection identifier.
func ConnectionID(id string) slog.Attr { return slog.String(KeyConnectionID, id) }

// XID returns a slog.Attr for the RPC transaction ID.
func XID(xid uint32) slog.Attr { return slog.Any(KeyRequestID, xid) }

// SlotID returns a slog.Attr for a back-channel slot index.
func SlotID(id uint32) slog.Attr { return slog.Any(KeySlotID, id) }

// SeqID returns a slog.Attr for a slot sequence ID.
func SeqID(id uint32) slog.Attr { return slog.Any(KeySeqID, id) }

// HighestSlot returns a slog.Attr for the highest slot ID.
func HighestSlot(id uint32) slog.Attr { return slog.Any(KeyHighestSlot, id) }

// CbProgram returns a slog.Attr for the client's callback RPC program number.
func CbProgram(prog uint32) slog.Attr { return slog.Any(KeyCbProgram, prog) }

// ChannelState returns a slog.Attr for the backchannel state (UP, DOWN, FAULT).
func ChannelState(state string) slog.Attr { return slog.String(KeyChannelState, state) }

// TaskID returns a slog.Attr for a callback task identifier.
func TaskID(id uint64) slog.Attr { return slog.Uint64(KeyTaskID, id) }

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// MaxRetries returns a slog.Attr for the maximum retry attempts.
func MaxRetries(n int) slog.Attr { return slog.Int(KeyMaxRetries, n) }

// RecallType returns a slog.Attr for the recall operation kind.
func RecallType(t string) slog.Attr { return slog.String(KeyRecallType, t) }

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code.
func ErrorCode(code int) slog.Attr { return slog.Int(KeyErrorCode, code) }

// Operation returns a slog.Attr for a sub-operation type.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }
