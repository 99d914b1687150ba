package refstore

import (
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/rnalign/seq"
)

func TestNewStatsWeights(t *testing.T) {
	// column 0: conserved, 1: variable, 2: insufficient coverage
	cols := []Freqs{
		{NA: 100, NMutations: 0},
		{NA: 50, NG: 50, NMutations: 50},
		{NA: 10},
	}
	s := NewStats("test", 100, 3, cols, nil)
	w := s.Weights()
	require.Len(t, w, 3)
	// conserved column: rate clamps small, weight near the 20 cap
	expect.True(t, w[0] > w[1])
	expect.True(t, w[0] >= 1 && w[0] <= 20)
	expect.True(t, w[1] >= 1 && w[1] <= 20)
	// insufficient coverage defaults to 1
	expect.EQ(t, w[2], float32(1))
}

func TestEmptyStats(t *testing.T) {
	s := EmptyStats()
	expect.EQ(t, s.Width(), uint32(0))
	m := s.SubstMatrix(0.9)
	// diagonal must be cheaper than off-diagonal under minimization
	expect.True(t, m[0] < m[1])
}

func TestSubstMatrixSymmetricFreqs(t *testing.T) {
	s := EmptyStats()
	m := s.SubstMatrix(0.8)
	n := int(seq.NumBases)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			expect.EQ(t, m[i*n+j], m[j*n+i], "i=%d j=%d", i, j)
		}
	}
}

func TestComputeStats(t *testing.T) {
	var seqs []*seq.CSeq
	for _, data := range []string{"AGCU", "AGCU", "AGAU", "CGCU"} {
		c, err := seq.NewCSeq("", data)
		require.NoError(t, err)
		seqs = append(seqs, c)
	}
	s := ComputeStats("computed", 4, seqs, nil)
	cols := s.ColumnFreqs()
	require.Len(t, cols, 4)
	expect.EQ(t, cols[0].NA, uint32(3))
	expect.EQ(t, cols[0].NC, uint32(1))
	expect.EQ(t, cols[0].NMutations, uint32(1))
	// C->A is a transversion
	expect.EQ(t, cols[0].NTransversions, uint32(1))
	expect.EQ(t, cols[1].NMutations, uint32(0))
	expect.EQ(t, s.NTaxa(), uint32(4))
}
