package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
)

func entryAt(ts float64) types.HistoryEntry {
	return types.HistoryEntry{Packet: types.Packet{Timestamp: ts}}
}

func TestRing_PushAndSnapshotAll_OldestFirst(t *testing.T) {
	r := New(3)
	r.Push(entryAt(1))
	r.Push(entryAt(2))
	r.Push(entryAt(3))

	all := r.SnapshotAll()
	require.Len(t, all, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{all[0].Packet.Timestamp, all[1].Packet.Timestamp, all[2].Packet.Timestamp})
}

func TestRing_EvictsOldestWhenFull(t *testing.T) {
	r := New(2)
	r.Push(entryAt(1))
	r.Push(entryAt(2))
	r.Push(entryAt(3))

	assert.Equal(t, 2, r.Len())
	all := r.SnapshotAll()
	assert.Equal(t, float64(2), all[0].Packet.Timestamp)
	assert.Equal(t, float64(3), all[1].Packet.Timestamp)
}

func TestRing_SnapshotLast_NewestFirst(t *testing.T) {
	r := New(5)
	for i := 1; i <= 5; i++ {
		r.Push(entryAt(float64(i)))
	}
	last3 := r.SnapshotLast(3)
	require.Len(t, last3, 3)
	assert.Equal(t, []float64{5, 4, 3}, []float64{last3[0].Packet.Timestamp, last3[1].Packet.Timestamp, last3[2].Packet.Timestamp})
}

func TestRing_SnapshotLast_ZeroOrEmptyReturnsNil(t *testing.T) {
	r := New(5)
	assert.Nil(t, r.SnapshotLast(0))

	r.Push(entryAt(1))
	assert.Nil(t, r.SnapshotLast(0))
}

func TestRing_CapDefaultsWhenNonPositive(t *testing.T) {
	r := New(0)
	assert.Equal(t, 60, r.Cap())
}
