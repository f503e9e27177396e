// Package types - CB_COMPOUND framing (RFC 3530 Section 15, RFC 8881 Section 20).
//
// CB_COMPOUND bundles one or more callback operations into a single RPC.
// For minorversion >= 1 the first operation is always CB_SEQUENCE; for
// minorversion 0 there is no CB_SEQUENCE and the callback ident field
// instead identifies which of the client's registered callback programs
// this call belongs to.
package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/nfs4cb/internal/protocol/xdr"
)

// CBCompoundOp is one already-XDR-encoded operation body paired with its
// opcode, ready to be packed into a CB_COMPOUND request.
type CBCompoundOp struct {
	OpCode  uint32
	Payload []byte // XDR-encoded op-specific args, opcode already excluded
}

// EncodeCBCompoundArgs builds a full CB_COMPOUND4args message: empty tag,
// minorversion, callback ident (v4.0 only), and the patched op count
// followed by each operation's opcode and payload.
//
//	struct CB_COMPOUND4args {
//	    utf8str_cs          tag;
//	    uint32_t            minorversion;
//	    uint32_t            callback_ident;
//	    CB_COMPOUND4args_ops argarray<>;
//	};
func EncodeCBCompoundArgs(minorVersion, callbackIdent uint32, ops []CBCompoundOp) ([]byte, error) {
	if len(ops) > MaxCBCompoundOps {
		return nil, fmt.Errorf("encode cb_compound: %d ops exceeds max %d", len(ops), MaxCBCompoundOps)
	}
	var buf bytes.Buffer
	if err := xdr.WriteXDRString(&buf, ""); err != nil {
		return nil, fmt.Errorf("encode cb_compound tag: %w", err)
	}
	if err := xdr.WriteUint32(&buf, minorVersion); err != nil {
		return nil, fmt.Errorf("encode cb_compound minorversion: %w", err)
	}
	if err := xdr.WriteUint32(&buf, callbackIdent); err != nil {
		return nil, fmt.Errorf("encode cb_compound callback_ident: %w", err)
	}
	if err := xdr.WriteUint32(&buf, uint32(len(ops))); err != nil {
		return nil, fmt.Errorf("encode cb_compound op count: %w", err)
	}
	for i, op := range ops {
		if err := xdr.WriteUint32(&buf, op.OpCode); err != nil {
			return nil, fmt.Errorf("encode cb_compound op[%d] opcode: %w", i, err)
		}
		buf.Write(op.Payload)
	}
	return buf.Bytes(), nil
}

// CBCompoundHeader is the decoded envelope of a CB_COMPOUND4res, before
// any per-operation result bodies are read.
//
//	struct CB_COMPOUND4res {
//	    nfsstat4            status;
//	    utf8str_cs          tag;
//	    CB_COMPOUND4res_ops resarray<>;
//	};
type CBCompoundHeader struct {
	Status  uint32
	OpCount uint32
}

// DecodeCBCompoundHeader reads the status, skips the tag, and returns the
// operation count so the caller can then decode each op's opnum and its
// own result struct (which starts with its own status field) in turn.
func DecodeCBCompoundHeader(r io.Reader) (*CBCompoundHeader, error) {
	status, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decode cb_compound status: %w", err)
	}
	if _, err := xdr.DecodeString(r); err != nil {
		return nil, fmt.Errorf("decode cb_compound tag: %w", err)
	}
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decode cb_compound op count: %w", err)
	}
	if count > MaxCBCompoundOps {
		return nil, fmt.Errorf("decode cb_compound: op count %d exceeds max %d", count, MaxCBCompoundOps)
	}
	return &CBCompoundHeader{Status: status, OpCount: count}, nil
}

// DecodeCBCompoundOpHeader reads one op's opnum and verifies it matches
// what the caller expected to see next; the op's own result struct
// (starting with its own status field) follows immediately in the stream
// and must be decoded by the caller.
func DecodeCBCompoundOpHeader(r io.Reader, expectedOp uint32) error {
	opcode, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode cb_compound op opcode: %w", err)
	}
	if opcode != expectedOp {
		return fmt.Errorf("decode cb_compound op: got opcode %d, expected %d", opcode, expectedOp)
	}
	return nil
}
