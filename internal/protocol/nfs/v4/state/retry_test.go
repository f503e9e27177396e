package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfs4cb/internal/protocol/nfs/v4/types"
)

func TestClassifySeqStatus(t *testing.T) {
	cases := []struct {
		name      string
		seqStatus uint32
		delivered bool
		want      RetryAction
	}{
		{"ok", types.NFS4_OK, true, RetryActionDone},
		{"never delivered", 1, false, RetryActionFault},
		{"bad session", types.NFS4ERR_BADSESSION, true, RetryActionFault},
		{"delay", types.NFS4ERR_DELAY, true, RetryActionRetryAfterDelay},
		{"bad slot", types.NFS4ERR_BADSLOT, true, RetryActionAbandonSlot},
		{"seq misordered", types.NFS4ERR_SEQ_MISORDERED, true, RetryActionAbandonSlot},
		{"server fault", types.NFS4ERR_SERVERFAULT, true, RetryActionRetrySameSlot},
		{"unrecognized status", 0x7fffffff, true, RetryActionRetrySameSlot},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, classifySeqStatus(tc.seqStatus, tc.delivered))
		})
	}
}
