package kmeridx

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func incrementAll(s IDSet, n uint32) []int32 {
	counts := make([]int32, n)
	off := s.Increment(counts)
	for i := range counts {
		counts[i] += off
	}
	return counts
}

func TestBitmap(t *testing.T) {
	b := NewBitmap(100)
	for _, id := range []uint32{0, 7, 8, 63, 99} {
		b.PushBack(id)
	}
	expect.EQ(t, b.Count(), 5)
	expect.True(t, b.Get(63))
	expect.False(t, b.Get(64))

	counts := incrementAll(b, 100)
	expect.EQ(t, counts[0], int32(1))
	expect.EQ(t, counts[1], int32(0))
	expect.EQ(t, counts[99], int32(1))
}

func TestVLIMapBasic(t *testing.T) {
	ids := []uint32{0, 1, 5, 127, 128, 300, 70000}
	m := NewVLIMap(100000)
	for _, id := range ids {
		m.PushBack(id)
	}
	expect.EQ(t, m.Count(), len(ids))
	expect.EQ(t, m.IDs(), ids)

	counts := incrementAll(m, 100000)
	for _, id := range ids {
		expect.EQ(t, counts[id], int32(1), "id=%d", id)
	}
	expect.EQ(t, counts[2], int32(0))
}

func TestVLIMapInvert(t *testing.T) {
	m := NewVLIMap(10)
	for _, id := range []uint32{0, 1, 2, 3, 4, 5, 6, 8} {
		m.PushBack(id)
	}
	m.Invert()
	expect.True(t, m.Inverted())
	expect.EQ(t, m.IDs(), []uint32{7, 9})

	// counting semantics survive inversion
	counts := incrementAll(m, 10)
	want := []int32{1, 1, 1, 1, 1, 1, 1, 0, 1, 0}
	expect.EQ(t, counts, want)
}

func TestVLIMapRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n = 2000
	var ids []uint32
	last := uint32(0)
	for i := 0; i < 200; i++ {
		last += uint32(rng.Intn(50)) + 1
		if last >= n {
			break
		}
		ids = append(ids, last)
	}
	m := NewVLIMap(n)
	for _, id := range ids {
		m.PushBack(id)
	}
	require.Equal(t, ids, m.IDs())

	m.Invert()
	counts := incrementAll(m, n)
	present := map[uint32]bool{}
	for _, id := range ids {
		present[id] = true
	}
	for i := uint32(0); i < n; i++ {
		want := int32(0)
		if present[i] {
			want = 1
		}
		expect.EQ(t, counts[i], want, "i=%d", i)
	}
}

func TestVarint(t *testing.T) {
	for _, val := range []uint32{0, 1, 127, 128, 16383, 16384, 1 << 28, 1<<32 - 1} {
		m := NewVLIMap(0)
		m.appendVarint(val)
		expect.True(t, len(m.data) <= 5)
		got, n := decodeVarint(m.data)
		expect.EQ(t, got, val)
		expect.EQ(t, n, len(m.data))
	}
}
