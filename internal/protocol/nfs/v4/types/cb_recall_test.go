package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCbRecallArgsRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		args CbRecallArgs
	}{
		{"truncate false, small fh", CbRecallArgs{Stateid: ValidStateid(), Truncate: false, FH: []byte{1, 2, 3, 4}}},
		{"truncate true, empty fh", CbRecallArgs{Stateid: ValidStateid(), Truncate: true, FH: []byte{}}},
		{"max size fh", CbRecallArgs{Stateid: ValidStateid(), Truncate: false, FH: bytes.Repeat([]byte{0xAB}, NFS4_FHSIZE)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tc.args.Encode(&buf))

			var decoded CbRecallArgs
			require.NoError(t, decoded.Decode(bytes.NewReader(buf.Bytes())))

			require.Equal(t, tc.args.Stateid, decoded.Stateid)
			require.Equal(t, tc.args.Truncate, decoded.Truncate)
			require.Equal(t, tc.args.FH, decoded.FH)
		})
	}
}

func TestCbRecallArgsDecodeRejectsOversizeFH(t *testing.T) {
	args := CbRecallArgs{Stateid: ValidStateid(), FH: bytes.Repeat([]byte{0xCD}, NFS4_FHSIZE+4)}
	var buf bytes.Buffer
	require.NoError(t, args.Encode(&buf))

	var decoded CbRecallArgs
	require.Error(t, decoded.Decode(bytes.NewReader(buf.Bytes())))
}

func TestCbRecallResRoundTrip(t *testing.T) {
	for _, status := range []uint32{NFS4_OK, NFS4ERR_BADSESSION, 0xFFFFFFFF} {
		res := CbRecallRes{Status: status}
		var buf bytes.Buffer
		require.NoError(t, res.Encode(&buf))

		var decoded CbRecallRes
		require.NoError(t, decoded.Decode(bytes.NewReader(buf.Bytes())))
		require.Equal(t, status, decoded.Status)
	}
}
