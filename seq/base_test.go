package seq

import (
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
)

func TestParseBase(t *testing.T) {
	for _, ch := range []byte("AGCTUagctuRYMKWSBDHVNrymkwsbdhvn") {
		b, err := ParseBase(ch)
		assert.NoError(t, err, "char %q", ch)
		assert.NotZero(t, b)
	}
	for _, ch := range []byte("-.") {
		_, err := ParseBase(ch)
		assert.Error(t, err)
		expect.True(t, IsGapChar(ch))
	}
	_, err := ParseBase('X')
	assert.Error(t, err)
	assert.IsType(t, BadCharError{}, err)
}

func TestAmbiguity(t *testing.T) {
	expect.EQ(t, MustParseBase('A').Ambiguity(), 1)
	expect.EQ(t, MustParseBase('R').Ambiguity(), 2)
	expect.EQ(t, MustParseBase('B').Ambiguity(), 3)
	expect.EQ(t, MustParseBase('N').Ambiguity(), 4)
	expect.False(t, MustParseBase('g').IsAmbiguous())
	expect.True(t, MustParseBase('y').IsAmbiguous())
}

func TestComplement(t *testing.T) {
	pairs := map[byte]byte{'A': 'U', 'U': 'A', 'G': 'C', 'C': 'G', 'N': 'N'}
	for in, want := range pairs {
		expect.EQ(t, MustParseBase(in).Complement().RNA(), want)
	}
	// complement . complement is the identity, case preserved
	for _, ch := range []byte("AGCUagcuRYNrn") {
		b := MustParseBase(ch)
		expect.EQ(t, b.Complement().Complement(), b)
	}
	// case survives complementing
	expect.True(t, MustParseBase('a').Complement().IsLower())
}

func TestCase(t *testing.T) {
	b := MustParseBase('a')
	expect.True(t, b.IsLower())
	expect.False(t, b.ToUpper().IsLower())
	expect.EQ(t, b.ToUpper().RNA(), byte('A'))
	expect.EQ(t, b.ToUpper().ToLower(), b)
}

func TestComp(t *testing.T) {
	expect.True(t, MustParseBase('A').Comp(MustParseBase('A')))
	expect.True(t, MustParseBase('A').Comp(MustParseBase('N')))
	expect.True(t, MustParseBase('R').Comp(MustParseBase('G')))
	expect.False(t, MustParseBase('A').Comp(MustParseBase('C')))
	expect.False(t, MustParseBase('R').Comp(MustParseBase('Y')))

	expect.True(t, MustParseBase('A').CompPessimistic(MustParseBase('A')))
	expect.True(t, MustParseBase('A').CompPessimistic(MustParseBase('a')))
	expect.False(t, MustParseBase('N').CompPessimistic(MustParseBase('A')))
	expect.False(t, MustParseBase('A').CompPessimistic(MustParseBase('N')))
}

func TestRendering(t *testing.T) {
	expect.EQ(t, MustParseBase('T').RNA(), byte('U'))
	expect.EQ(t, MustParseBase('U').DNA(), byte('T'))
	expect.EQ(t, MustParseBase('t').RNA(), byte('u'))
	expect.EQ(t, MustParseBase('N').RNA(), byte('N'))
}

func TestPairScore(t *testing.T) {
	expect.EQ(t, PairScore('C', 'G'), float32(1.5))
	expect.EQ(t, PairScore('G', 'C'), float32(1.5))
	expect.EQ(t, PairScore('g', 'u'), float32(0.9))
	expect.EQ(t, PairScore('A', 'A'), float32(0))
	expect.EQ(t, PairScore('-', 'A'), float32(0))
}
