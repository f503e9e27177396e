package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotTableGrabReleaseAdvancesSeq(t *testing.T) {
	st := NewSlotTable(1)

	slotID, seqID, ok := st.Grab()
	require.True(t, ok)
	require.Equal(t, uint32(0), slotID)
	require.Equal(t, uint32(1), seqID, "a fresh slot's sequence id starts at 1")

	_, _, ok = st.Grab()
	require.False(t, ok, "single-slot table has no second slot to grab")

	st.Release(slotID, true)
	require.Equal(t, uint32(2), st.SeqID(slotID))

	slotID, seqID, ok = st.Grab()
	require.True(t, ok)
	require.Equal(t, uint32(2), seqID)
	st.Release(slotID, false)
	require.Equal(t, uint32(2), st.SeqID(slotID), "a failed release must not advance the sequence id")
}

func TestSlotTableAbandonLeaksSlotPermanently(t *testing.T) {
	st := NewSlotTable(1)

	slotID, _, ok := st.Grab()
	require.True(t, ok)

	st.Abandon(slotID)

	_, _, ok = st.Grab()
	require.False(t, ok, "an abandoned slot must never be handed out again")
}

func TestSlotTableUpdateTargetResetsSeqToOne(t *testing.T) {
	st := NewSlotTable(1)
	slotID, _, _ := st.Grab()
	st.Release(slotID, true)
	require.Equal(t, uint32(2), st.SeqID(slotID))

	st.UpdateTarget(4)
	require.Equal(t, uint32(4), st.MaxSlots())
	for i := uint32(0); i < st.MaxSlots(); i++ {
		require.Equal(t, uint32(1), st.SeqID(i))
	}
}

func TestSlotTableHasInFlightRequests(t *testing.T) {
	st := NewSlotTable(1)
	require.False(t, st.HasInFlightRequests())

	slotID, _, _ := st.Grab()
	require.True(t, st.HasInFlightRequests())

	st.Release(slotID, true)
	require.False(t, st.HasInFlightRequests())
}
