// Package types - CB_GETATTR callback operation types (RFC 8881 Section 20.1).
//
// CB_GETATTR asks a client holding a write delegation for the attributes it
// is caching, so the server can answer a conflicting GETATTR without first
// recalling the delegation. The server requests at minimum SIZE; if it does
// not yet know the delegation has been modified, it also requests CHANGE;
// for delegations with delegated timestamps it additionally requests
// TIME_DELEG_ACCESS and TIME_DELEG_MODIFY.
package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/nfs4cb/internal/protocol/xdr"
)

// MaxCBGetattrAttrLen bounds the CB_GETATTR response's attrlen field
// against a maximum plausible payload (four optional values: two uint64
// and two nfstime4).
const MaxCBGetattrAttrLen = 4 * 12

// ============================================================================
// CB_GETATTR4args (RFC 8881 Section 20.1.1)
// ============================================================================

// CbGetattrArgs represents CB_GETATTR4args:
//
//	struct CB_GETATTR4args {
//	    nfs_fh4  fh;
//	    bitmap4  attr_request;
//	};
type CbGetattrArgs struct {
	FH          []byte
	AttrRequest Bitmap4
}

// Encode writes the CB_GETATTR args in XDR format.
func (a *CbGetattrArgs) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteXDROpaque(buf, a.FH); err != nil {
		return fmt.Errorf("encode cb_getattr fh: %w", err)
	}
	if err := a.AttrRequest.Encode(buf); err != nil {
		return fmt.Errorf("encode cb_getattr attr_request: %w", err)
	}
	return nil
}

// Decode reads the CB_GETATTR args from XDR format.
func (a *CbGetattrArgs) Decode(r io.Reader) error {
	fh, err := xdr.DecodeOpaque(r)
	if err != nil {
		return fmt.Errorf("decode cb_getattr fh: %w", err)
	}
	a.FH = fh
	mask, err := DecodeBitmap4(r)
	if err != nil {
		return fmt.Errorf("decode cb_getattr attr_request: %w", err)
	}
	a.AttrRequest = mask
	return nil
}

// String returns a human-readable representation.
func (a *CbGetattrArgs) String() string {
	return fmt.Sprintf("CbGetattrArgs{fh_len=%d, attr_request=%v}", len(a.FH), a.AttrRequest)
}

// ============================================================================
// CB_GETATTR4res (RFC 8881 Section 20.1.2)
// ============================================================================

// CbGetattrAttrs holds the decoded attribute values a client returned,
// each only meaningful when the corresponding Has* flag is true.
type CbGetattrAttrs struct {
	HasChange bool
	Change    uint64

	HasSize bool
	Size    uint64

	HasTimeDelegAccess bool
	TimeDelegAccess    NFS4Time

	HasTimeDelegModify bool
	TimeDelegModify    NFS4Time
}

// CbGetattrResOK is the ok arm of CB_GETATTR4res:
//
//	struct CB_GETATTR4resok {
//	    fattr4 obj_attributes;
//	};
type CbGetattrResOK struct {
	AttrMask Bitmap4
	Attrs    CbGetattrAttrs
}

// CbGetattrRes represents CB_GETATTR4res, a discriminated union on status.
type CbGetattrRes struct {
	Status uint32
	OK     *CbGetattrResOK // non-nil only when Status == NFS4_OK
}

// Encode writes the CB_GETATTR result in XDR format.
func (res *CbGetattrRes) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, res.Status); err != nil {
		return fmt.Errorf("encode cb_getattr status: %w", err)
	}
	if res.Status != NFS4_OK {
		return nil
	}
	if res.OK == nil {
		return fmt.Errorf("encode cb_getattr: status OK requires OK result")
	}
	if err := res.OK.AttrMask.Encode(buf); err != nil {
		return fmt.Errorf("encode cb_getattr attrmask: %w", err)
	}

	var body bytes.Buffer
	a := res.OK.Attrs
	if a.HasChange {
		if err := xdr.WriteUint64(&body, a.Change); err != nil {
			return fmt.Errorf("encode cb_getattr change: %w", err)
		}
	}
	if a.HasSize {
		if err := xdr.WriteUint64(&body, a.Size); err != nil {
			return fmt.Errorf("encode cb_getattr size: %w", err)
		}
	}
	if a.HasTimeDelegAccess {
		if err := a.TimeDelegAccess.Encode(&body); err != nil {
			return fmt.Errorf("encode cb_getattr time_deleg_access: %w", err)
		}
	}
	if a.HasTimeDelegModify {
		if err := a.TimeDelegModify.Encode(&body); err != nil {
			return fmt.Errorf("encode cb_getattr time_deleg_modify: %w", err)
		}
	}
	if err := xdr.WriteXDROpaque(buf, body.Bytes()); err != nil {
		return fmt.Errorf("encode cb_getattr attrlen+attrs: %w", err)
	}
	return nil
}

// Decode reads the CB_GETATTR result from XDR format.
func (res *CbGetattrRes) Decode(r io.Reader) error {
	status, err := xdr.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("decode cb_getattr status: %w", err)
	}
	res.Status = status
	if status != NFS4_OK {
		res.OK = nil
		return nil
	}

	mask, err := DecodeBitmap4(r)
	if err != nil {
		return fmt.Errorf("decode cb_getattr attrmask: %w", err)
	}

	body, err := xdr.DecodeOpaque(r)
	if err != nil {
		return fmt.Errorf("decode cb_getattr attrlen+attrs: %w", err)
	}
	if len(body) > MaxCBGetattrAttrLen {
		return fmt.Errorf("decode cb_getattr: attrlen %d exceeds max %d", len(body), MaxCBGetattrAttrLen)
	}

	br := bytes.NewReader(body)
	var attrs CbGetattrAttrs
	if mask.IsSet(FATTR4_CHANGE) {
		attrs.Change, err = xdr.DecodeUint64(br)
		if err != nil {
			return fmt.Errorf("decode cb_getattr change: %w", err)
		}
		attrs.HasChange = true
	}
	if mask.IsSet(FATTR4_SIZE) {
		attrs.Size, err = xdr.DecodeUint64(br)
		if err != nil {
			return fmt.Errorf("decode cb_getattr size: %w", err)
		}
		attrs.HasSize = true
	}
	if mask.IsSet(FATTR4_TIME_DELEG_ACCESS) {
		attrs.TimeDelegAccess, err = DecodeNFS4Time(br)
		if err != nil {
			return fmt.Errorf("decode cb_getattr time_deleg_access: %w", err)
		}
		attrs.HasTimeDelegAccess = true
	}
	if mask.IsSet(FATTR4_TIME_DELEG_MODIFY) {
		attrs.TimeDelegModify, err = DecodeNFS4Time(br)
		if err != nil {
			return fmt.Errorf("decode cb_getattr time_deleg_modify: %w", err)
		}
		attrs.HasTimeDelegModify = true
	}

	res.OK = &CbGetattrResOK{AttrMask: mask, Attrs: attrs}
	return nil
}

// String returns a human-readable representation.
func (res *CbGetattrRes) String() string {
	if res.OK == nil {
		return fmt.Sprintf("CbGetattrRes{status=%d}", res.Status)
	}
	return fmt.Sprintf("CbGetattrRes{status=%d, attrmask=%v}", res.Status, res.OK.AttrMask)
}
