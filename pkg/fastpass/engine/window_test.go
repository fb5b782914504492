package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOutstandingWindowBasicCycle exercises scenario S1 from spec.md §8 literally.
func TestOutstandingWindowBasicCycle(t *testing.T) {
	const w = 128
	ow := newOutstandingWindow(w, 10007)

	for i := 0; i < 128; i++ {
		pd := &PktDesc{SentTimestamp: 1_000_000 + uint64(i)}
		ow.add(pd)
	}

	require.Equal(t, uint32(128), ow.numUnacked)
	require.Equal(t, uint64(10007), ow.earliestUnacked())

	first := ow.pop(10007)
	require.NotNil(t, first)
	require.Equal(t, uint64(10007), first.Seqno)
	require.Equal(t, uint64(10008), ow.earliestUnacked())

	require.Equal(t, int64(-1), ow.atOrBefore(10007))
	require.Equal(t, int64(0), ow.atOrBefore(10008))

	ow.pop(10009)
	require.Equal(t, uint64(10008), ow.earliestUnacked())
	require.Equal(t, int64(1), ow.atOrBefore(10009))
}

func TestOutstandingWindowInvariants(t *testing.T) {
	const w = 16
	ow := newOutstandingWindow(w, 1000)
	for i := 0; i < 16; i++ {
		ow.add(&PktDesc{SentTimestamp: uint64(i)})
	}
	popcount := uint32(0)
	for i := uint32(0); i < w; i++ {
		require.Equal(t, ow.mask.test(i), ow.mask.test(i+w), "mirror bits differ at %d", i)
		if ow.mask.test(i) {
			popcount++
		}
	}
	require.Equal(t, ow.numUnacked, popcount)
}

func TestOutstandingWindowAddPopRoundTrip(t *testing.T) {
	const w = 8
	ow := newOutstandingWindow(w, 0)
	var added []*PktDesc
	for i := 0; i < 8; i++ {
		pd := &PktDesc{SentTimestamp: uint64(i)}
		ow.add(pd)
		added = append(added, pd)
	}
	require.Equal(t, uint64(8), ow.nextSeqno)
	for _, pd := range added {
		got := ow.pop(pd.Seqno)
		require.Same(t, pd, got)
	}
	require.True(t, ow.empty())
	require.Equal(t, uint64(8), ow.nextSeqno)
}

func TestOutstandingWindowFallOff(t *testing.T) {
	const w = 4
	ow := newOutstandingWindow(w, 0)
	for i := 0; i < 4; i++ {
		ow.add(&PktDesc{SentTimestamp: uint64(i)})
	}
	require.True(t, ow.isUnacked(0))
	evicted := ow.pop(0)
	require.NotNil(t, evicted)
	require.Equal(t, uint64(0), evicted.Seqno)

	ow.add(&PktDesc{SentTimestamp: 4})
	for s := uint64(1); s <= 4; s++ {
		require.True(t, ow.isUnacked(s), "seqno %d should be unacked after fall-off cycle", s)
	}
}

func TestOutstandingWindowReset(t *testing.T) {
	const w = 32
	ow := newOutstandingWindow(w, 500)
	for i := 0; i < 20; i++ {
		ow.add(&PktDesc{SentTimestamp: uint64(i)})
	}
	freed := ow.reset()
	require.Len(t, freed, 20)
	require.True(t, ow.empty())
	for i := range freed[:len(freed)-1] {
		require.Greater(t, freed[i].Seqno, freed[i+1].Seqno, "reset should free in descending seqno order")
	}
}
