// Package types - CB_OFFLOAD callback operation types (RFC 8881 Section 20.10).
//
// CB_OFFLOAD reports the outcome of a server-to-server copy offload back to
// the client that initiated it. On success it carries a write_response4
// (bytes written, the stability level used, and a write verifier); on
// failure it carries only the number of bytes copied so far.
package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/nfs4cb/internal/protocol/xdr"
)

// WriteVerf4Len is the size of a write verifier (verifier4).
const WriteVerf4Len = 8

// ============================================================================
// CB_OFFLOAD4args (RFC 8881 Section 20.10.1)
// ============================================================================

// WriteResponse4 mirrors write_response4:
//
//	struct write_response4 {
//	    stateid4      wr_callback_id<1>;
//	    length4       wr_count;
//	    stable_how4   wr_committed;
//	    verifier4     wr_writeverf;
//	};
//
// wr_callback_id is only populated for async WRITE replies; CB_OFFLOAD
// always sends it empty (the callback itself names the operation).
type WriteResponse4 struct {
	BytesWritten uint64
	Committed    uint32 // stable_how4: UNSTABLE4, DATA_SYNC4, or FILE_SYNC4
	WriteVerf    [WriteVerf4Len]byte
}

// CbOffloadArgs represents CB_OFFLOAD4args:
//
//	struct CB_OFFLOAD4args {
//	    nfs_fh4       coa_fh;
//	    stateid4      coa_stateid;
//	    offload_info4 coa_offload_info;
//	};
//
//	union offload_info4 switch (nfsstat4 coa_status) {
//	case NFS4_OK:
//	    write_response4 coa_resok4;
//	default:
//	    length4         coa_bytes_copied;
//	};
type CbOffloadArgs struct {
	FH      []byte
	Stateid Stateid4

	Status      uint32
	OK          *WriteResponse4 // non-nil only when Status == NFS4_OK
	BytesCopied uint64          // filled by Decode when Status != NFS4_OK; Encode ignores it and writes 0 in that arm
}

// Encode writes the CB_OFFLOAD args in XDR format.
func (a *CbOffloadArgs) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteXDROpaque(buf, a.FH); err != nil {
		return fmt.Errorf("encode cb_offload fh: %w", err)
	}
	EncodeStateid4(buf, &a.Stateid)
	if err := xdr.EncodeUnionDiscriminant(buf, a.Status); err != nil {
		return fmt.Errorf("encode cb_offload status: %w", err)
	}
	if a.Status == NFS4_OK {
		if a.OK == nil {
			return fmt.Errorf("encode cb_offload: status OK requires OK result")
		}
		// wr_callback_id<1>: always empty.
		if err := xdr.WriteUint32(buf, 0); err != nil {
			return fmt.Errorf("encode cb_offload callback_id: %w", err)
		}
		if err := xdr.WriteUint64(buf, a.OK.BytesWritten); err != nil {
			return fmt.Errorf("encode cb_offload bytes_written: %w", err)
		}
		if err := xdr.WriteUint32(buf, a.OK.Committed); err != nil {
			return fmt.Errorf("encode cb_offload committed: %w", err)
		}
		buf.Write(a.OK.WriteVerf[:])
		return nil
	}
	// Failure arm: bytes-copied is always written as 0.
	if err := xdr.WriteUint64(buf, 0); err != nil {
		return fmt.Errorf("encode cb_offload bytes_copied: %w", err)
	}
	return nil
}

// Decode reads the CB_OFFLOAD args from XDR format.
func (a *CbOffloadArgs) Decode(r io.Reader) error {
	fh, err := xdr.DecodeOpaque(r)
	if err != nil {
		return fmt.Errorf("decode cb_offload fh: %w", err)
	}
	a.FH = fh
	sid, err := DecodeStateid4(r)
	if err != nil {
		return fmt.Errorf("decode cb_offload stateid: %w", err)
	}
	a.Stateid = *sid
	status, err := xdr.DecodeUnionDiscriminant(r)
	if err != nil {
		return fmt.Errorf("decode cb_offload status: %w", err)
	}
	a.Status = status
	if status == NFS4_OK {
		cbIDCount, err := xdr.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("decode cb_offload callback_id count: %w", err)
		}
		if cbIDCount > 1 {
			return fmt.Errorf("decode cb_offload: callback_id count %d exceeds max 1", cbIDCount)
		}
		for i := uint32(0); i < cbIDCount; i++ {
			if _, err := DecodeStateid4(r); err != nil {
				return fmt.Errorf("decode cb_offload callback_id[%d]: %w", i, err)
			}
		}
		ok := &WriteResponse4{}
		if ok.BytesWritten, err = xdr.DecodeUint64(r); err != nil {
			return fmt.Errorf("decode cb_offload bytes_written: %w", err)
		}
		if ok.Committed, err = xdr.DecodeUint32(r); err != nil {
			return fmt.Errorf("decode cb_offload committed: %w", err)
		}
		if _, err := io.ReadFull(r, ok.WriteVerf[:]); err != nil {
			return fmt.Errorf("decode cb_offload writeverf: %w", err)
		}
		a.OK = ok
		return nil
	}
	bytesCopied, err := xdr.DecodeUint64(r)
	if err != nil {
		return fmt.Errorf("decode cb_offload bytes_copied: %w", err)
	}
	a.BytesCopied = bytesCopied
	return nil
}

// String returns a human-readable representation.
func (a *CbOffloadArgs) String() string {
	if a.OK != nil {
		return fmt.Sprintf("CbOffloadArgs{status=%d, bytes_written=%d, committed=%d}", a.Status, a.OK.BytesWritten, a.OK.Committed)
	}
	return fmt.Sprintf("CbOffloadArgs{status=%d, bytes_copied=%d}", a.Status, a.BytesCopied)
}

// ============================================================================
// CB_OFFLOAD4res (RFC 8881 Section 20.10.2)
// ============================================================================

// CbOffloadRes represents CB_OFFLOAD4res:
//
//	struct CB_OFFLOAD4res {
//	    nfsstat4 cor_status;
//	};
type CbOffloadRes struct {
	Status uint32
}

// Encode writes the CB_OFFLOAD result in XDR format.
func (res *CbOffloadRes) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, res.Status); err != nil {
		return fmt.Errorf("encode cb_offload result status: %w", err)
	}
	return nil
}

// Decode reads the CB_OFFLOAD result from XDR format.
func (res *CbOffloadRes) Decode(r io.Reader) error {
	status, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode cb_offload result status: %w", err)
	}
	res.Status = status
	return nil
}

// String returns a human-readable representation.
func (res *CbOffloadRes) String() string {
	return fmt.Sprintf("CbOffloadRes{status=%d}", res.Status)
}
