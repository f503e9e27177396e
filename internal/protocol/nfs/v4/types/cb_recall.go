// Package types - CB_RECALL callback operation types (RFC 8881 Section 20.2).
//
// CB_RECALL asks a client to return a delegation it holds, identified by
// its stateid and the delegated file's handle.
package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/nfs4cb/internal/protocol/xdr"
)

// ============================================================================
// CB_RECALL4args (RFC 8881 Section 20.2.1)
// ============================================================================

// CbRecallArgs represents CB_RECALL4args:
//
//	struct CB_RECALL4args {
//	    stateid4        stateid;
//	    bool            truncate;
//	    nfs_fh4         fh;
//	};
type CbRecallArgs struct {
	Stateid  Stateid4
	Truncate bool
	FH       []byte
}

// Encode writes the CB_RECALL args in XDR format.
func (a *CbRecallArgs) Encode(buf *bytes.Buffer) error {
	EncodeStateid4(buf, &a.Stateid)
	if err := xdr.WriteBool(buf, a.Truncate); err != nil {
		return fmt.Errorf("encode cb_recall truncate: %w", err)
	}
	if err := xdr.WriteXDROpaque(buf, a.FH); err != nil {
		return fmt.Errorf("encode cb_recall fh: %w", err)
	}
	return nil
}

// Decode reads the CB_RECALL args from XDR format.
func (a *CbRecallArgs) Decode(r io.Reader) error {
	sid, err := DecodeStateid4(r)
	if err != nil {
		return fmt.Errorf("decode cb_recall stateid: %w", err)
	}
	a.Stateid = *sid
	if a.Truncate, err = xdr.DecodeBool(r); err != nil {
		return fmt.Errorf("decode cb_recall truncate: %w", err)
	}
	if a.FH, err = xdr.DecodeOpaque(r); err != nil {
		return fmt.Errorf("decode cb_recall fh: %w", err)
	}
	if len(a.FH) > NFS4_FHSIZE {
		return fmt.Errorf("decode cb_recall: fh length %d exceeds max %d", len(a.FH), NFS4_FHSIZE)
	}
	return nil
}

// String returns a human-readable representation.
func (a *CbRecallArgs) String() string {
	return fmt.Sprintf("CbRecallArgs{stateid=%+v, truncate=%t, fh_len=%d}", a.Stateid, a.Truncate, len(a.FH))
}

// ============================================================================
// CB_RECALL4res (RFC 8881 Section 20.2.2)
// ============================================================================

// CbRecallRes represents CB_RECALL4res:
//
//	struct CB_RECALL4res {
//	    nfsstat4 status;
//	};
type CbRecallRes struct {
	Status uint32
}

// Encode writes the CB_RECALL result in XDR format.
func (res *CbRecallRes) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, res.Status); err != nil {
		return fmt.Errorf("encode cb_recall status: %w", err)
	}
	return nil
}

// Decode reads the CB_RECALL result from XDR format.
func (res *CbRecallRes) Decode(r io.Reader) error {
	status, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode cb_recall status: %w", err)
	}
	res.Status = status
	return nil
}

// String returns a human-readable representation.
func (res *CbRecallRes) String() string {
	return fmt.Sprintf("CbRecallRes{status=%d}", res.Status)
}
