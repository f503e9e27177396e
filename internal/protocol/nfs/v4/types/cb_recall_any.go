// Package types - CB_RECALL_ANY callback operation types (RFC 8881 Section 20.6).
//
// CB_RECALL_ANY asks a client to return some of its recallable state (read
// or write delegations, directory delegations, file or block layouts) when
// the client is holding more than the server wants to track; the bitmap
// names which categories are being targeted for recall.
package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/nfs4cb/internal/protocol/xdr"
)

// ============================================================================
// CB_RECALL_ANY4args (RFC 8881 Section 20.6.1)
// ============================================================================

// CbRecallAnyArgs represents CB_RECALL_ANY4args:
//
//	struct CB_RECALL_ANY4args {
//	    uint32_t craa_objects_to_keep;
//	    bitmap4  craa_type_mask;
//	};
type CbRecallAnyArgs struct {
	ObjectsToKeep uint32
	TypeMask      Bitmap4
}

// Encode writes the CB_RECALL_ANY args in XDR format.
func (a *CbRecallAnyArgs) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, a.ObjectsToKeep); err != nil {
		return fmt.Errorf("encode cb_recall_any objects_to_keep: %w", err)
	}
	if err := a.TypeMask.Encode(buf); err != nil {
		return fmt.Errorf("encode cb_recall_any type_mask: %w", err)
	}
	return nil
}

// Decode reads the CB_RECALL_ANY args from XDR format.
func (a *CbRecallAnyArgs) Decode(r io.Reader) error {
	objects, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode cb_recall_any objects_to_keep: %w", err)
	}
	a.ObjectsToKeep = objects
	mask, err := DecodeBitmap4(r)
	if err != nil {
		return fmt.Errorf("decode cb_recall_any type_mask: %w", err)
	}
	a.TypeMask = mask
	return nil
}

// String returns a human-readable representation.
func (a *CbRecallAnyArgs) String() string {
	return fmt.Sprintf("CbRecallAnyArgs{objects_to_keep=%d, type_mask=%v}", a.ObjectsToKeep, a.TypeMask)
}

// ============================================================================
// CB_RECALL_ANY4res (RFC 8881 Section 20.6.2)
// ============================================================================

// CbRecallAnyRes represents CB_RECALL_ANY4res:
//
//	struct CB_RECALL_ANY4res {
//	    nfsstat4 crar_status;
//	};
type CbRecallAnyRes struct {
	Status uint32
}

// Encode writes the CB_RECALL_ANY result in XDR format.
func (res *CbRecallAnyRes) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, res.Status); err != nil {
		return fmt.Errorf("encode cb_recall_any status: %w", err)
	}
	return nil
}

// Decode reads the CB_RECALL_ANY result from XDR format.
func (res *CbRecallAnyRes) Decode(r io.Reader) error {
	status, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode cb_recall_any status: %w", err)
	}
	res.Status = status
	return nil
}

// String returns a human-readable representation.
func (res *CbRecallAnyRes) String() string {
	return fmt.Sprintf("CbRecallAnyRes{status=%d}", res.Status)
}
