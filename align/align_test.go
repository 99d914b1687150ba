package align

import (
	"bytes"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/rnalign/pipeline"
	"github.com/grailbio/rnalign/refstore"
	"github.com/grailbio/rnalign/seq"
)

func mustCSeq(t *testing.T, name, data string) *seq.CSeq {
	c, err := seq.NewCSeq(name, data)
	require.NoError(t, err)
	return c
}

func positions(c *seq.CSeq) []int {
	var out []int
	for _, ab := range c.ABases() {
		out = append(out, int(ab.Pos))
	}
	return out
}

func TestMSeqConstruction(t *testing.T) {
	// two references agreeing on column 0, disagreeing on column 2
	a := mustCSeq(t, "a", "A-GU")
	b := mustCSeq(t, "b", "A-CU")
	m, err := NewMSeq([]*seq.CSeq{a, b}, 1)
	require.NoError(t, err)
	// nodes: A(shared), G, C, U(shared)
	expect.EQ(t, m.Size(), 4)
	expect.EQ(t, len(m.Starts()), 1)
	expect.EQ(t, len(m.Ends()), 1)

	// shared node weight reflects both observations: 1/2 + 2/2 = 1.5;
	// private nodes: 1/2 + 1/2 = 1
	expect.EQ(t, m.Column(0).Weight, float32(1.5))
	expect.EQ(t, m.Column(1).Weight, float32(1))

	// node ids are topologically sorted
	for i := int32(0); i < int32(m.Size()); i++ {
		for _, p := range m.Prev(i) {
			expect.True(t, p < i)
		}
	}
}

func TestMSeqWidthMismatch(t *testing.T) {
	a := mustCSeq(t, "a", "AGCU")
	b := mustCSeq(t, "b", "AGCU--")
	_, err := NewMSeq([]*seq.CSeq{a, b}, 1)
	require.Error(t, err)
}

func TestMSeqDuplicateEdges(t *testing.T) {
	// identical sequences may not produce duplicate edges
	a := mustCSeq(t, "a", "AGCU")
	b := mustCSeq(t, "b", "AGCU")
	m, err := NewMSeq([]*seq.CSeq{a, b}, 1)
	require.NoError(t, err)
	expect.EQ(t, m.Size(), 4)
	for i := int32(0); i < int32(m.Size()); i++ {
		prev := m.Prev(i)
		for j := 1; j < len(prev); j++ {
			expect.True(t, prev[j] != prev[j-1])
		}
	}
}

func TestPSeqConstruction(t *testing.T) {
	a := mustCSeq(t, "a", "AG-U")
	b := mustCSeq(t, "b", "AC-U")
	p, err := NewPSeq([]*seq.CSeq{a, b})
	require.NoError(t, err)
	expect.EQ(t, p.Width(), uint32(4))
	// occupied columns 0, 1, 3
	expect.EQ(t, p.Size(), 3)
	c0 := p.Column(0)
	expect.EQ(t, c0.Profile.Bases[seq.IdxA], float32(1))
	c1 := p.Column(1)
	expect.EQ(t, c1.Profile.Bases[seq.IdxG], float32(0.5))
	expect.EQ(t, c1.Profile.Bases[seq.IdxC], float32(0.5))
}

func alignOnce(t *testing.T, refs []string, query string, opts Opts) (*seq.CSeq, backtrackResult) {
	family := make([]*seq.CSeq, len(refs))
	for i, r := range refs {
		family[i] = mustCSeq(t, "ref", r)
	}
	var tpl Template
	var err error
	if opts.NoGraph {
		tpl, err = NewPSeq(family)
	} else {
		tpl, err = NewMSeq(family, 1)
	}
	require.NoError(t, err)
	var scorer Scorer
	if opts.NoGraph {
		scorer = NewProfileScorer(2, -1, 5, 2)
	} else {
		scorer = NewSimpleScorer(2, -1, 5, 2)
	}
	q := mustCSeq(t, "query", query)
	mesh := NewMesh(tpl, q, scorer, opts.Insertion == InsertionForbid)
	out := mustCSeq(t, "query", "")
	var lg bytes.Buffer
	res, err := backtrack(mesh, out, opts.Overhang, opts.Lowercase, opts.Insertion, &lg)
	require.NoError(t, err)
	return out, res
}

func TestAlignIdentity(t *testing.T) {
	out, res := alignOnce(t, []string{"--AGCUAGCU--"}, "AGCUAGCU", DefaultOpts)
	expect.EQ(t, positions(out), []int{2, 3, 4, 5, 6, 7, 8, 9})
	expect.EQ(t, out.Bases(), "AGCUAGCU")
	expect.EQ(t, res.cutoffHead, 0)
	expect.EQ(t, res.cutoffTail, 0)
	expect.True(t, res.score > 0)
}

func TestAlignSubstring(t *testing.T) {
	// the query is the ungapped substring of the reference; its bases must
	// adopt the reference's columns
	out, res := alignOnce(t, []string{"..AG-CU..."}, "GCU", DefaultOpts)
	expect.EQ(t, positions(out), []int{3, 5, 6})
	expect.EQ(t, out.Bases(), "GCU")
	expect.EQ(t, res.cutoffHead, 0)
	expect.EQ(t, res.cutoffTail, 0)
}

func TestAlignMismatchTolerated(t *testing.T) {
	out, _ := alignOnce(t, []string{"--AGCUAGCU--"}, "AGCAAGCU", DefaultOpts)
	expect.EQ(t, positions(out), []int{2, 3, 4, 5, 6, 7, 8, 9})
	expect.EQ(t, out.Bases(), "AGCAAGCU")
}

func TestAlignGraphChoosesBranch(t *testing.T) {
	// the graph offers G and C at column 3; each query picks its branch
	refs := []string{"..AGGU....", "..AGCU...."}
	outG, _ := alignOnce(t, refs, "AGGU", DefaultOpts)
	expect.EQ(t, positions(outG), []int{2, 3, 4, 5})
	outC, _ := alignOnce(t, refs, "AGCU", DefaultOpts)
	expect.EQ(t, positions(outC), []int{2, 3, 4, 5})
	expect.EQ(t, outC.Bases(), "AGCU")
}

func TestOverhangAttach(t *testing.T) {
	opts := DefaultOpts
	opts.Overhang = OverhangAttach
	out, res := alignOnce(t, []string{"....AGC....."}, "UUAGCUU", opts)
	expect.EQ(t, res.cutoffHead, 2)
	expect.EQ(t, res.cutoffTail, 2)
	expect.EQ(t, positions(out), []int{2, 3, 4, 5, 6, 7, 8})
	expect.EQ(t, out.Bases(), "UUAGCUU")
}

func TestOverhangRemove(t *testing.T) {
	opts := DefaultOpts
	opts.Overhang = OverhangRemove
	out, res := alignOnce(t, []string{"....AGC....."}, "UUAGCUU", opts)
	expect.EQ(t, res.cutoffHead, 2)
	expect.EQ(t, res.cutoffTail, 2)
	expect.EQ(t, positions(out), []int{4, 5, 6})
	expect.EQ(t, out.Bases(), "AGC")
}

func TestOverhangEdge(t *testing.T) {
	opts := DefaultOpts
	opts.Overhang = OverhangEdge
	out, _ := alignOnce(t, []string{"....AGC....."}, "UUAGCUU", opts)
	expect.EQ(t, positions(out), []int{0, 1, 4, 5, 6, 10, 11})
	expect.EQ(t, out.Bases(), "UUAGCUU")
}

func TestOverhangLowercase(t *testing.T) {
	opts := DefaultOpts
	opts.Overhang = OverhangAttach
	opts.Lowercase = LowercaseUnaligned
	out, _ := alignOnce(t, []string{"....AGC....."}, "UUAGCUU", opts)
	expect.EQ(t, out.Bases(), "uuAGCuu")
}

func TestInsertionShift(t *testing.T) {
	// two query bases must squeeze into one free reference column; shift
	// spreads them into the neighboring gaps
	opts := DefaultOpts
	out, _ := alignOnce(t, []string{"AG-C--"}, "AGUUC", opts)
	expect.EQ(t, out.Bases(), "AGUUC")
	prev := -1
	for _, p := range positions(out) {
		expect.True(t, prev < p)
		expect.True(t, p < 6)
		prev = p
	}
}

func TestInsertionForbid(t *testing.T) {
	opts := DefaultOpts
	opts.Insertion = InsertionForbid
	out, _ := alignOnce(t, []string{"AG-C--"}, "AGUUC", opts)
	// the insertion-limited DP never emits colliding positions
	prev := -1
	for _, p := range positions(out) {
		expect.True(t, prev < p)
		prev = p
	}
}

func TestCSeqTemplateAlign(t *testing.T) {
	// a single reference sequence works as a linear-chain template
	ref := mustCSeq(t, "ref", "..AG-CU...")
	tpl := NewCSeqTemplate(ref)
	expect.EQ(t, tpl.Size(), 4)
	expect.EQ(t, tpl.Starts(), []int32{0})
	expect.EQ(t, tpl.Ends(), []int32{3})

	q := mustCSeq(t, "query", "AGCU")
	mesh := NewMesh(tpl, q, NewSimpleScorer(2, -1, 5, 2), false)
	out := mustCSeq(t, "query", "")
	var lg bytes.Buffer
	_, err := backtrack(mesh, out, OverhangAttach, LowercaseNone, InsertionShift, &lg)
	require.NoError(t, err)
	expect.EQ(t, positions(out), []int{2, 3, 5, 6})
}

func TestProfileAlignIdentity(t *testing.T) {
	opts := DefaultOpts
	opts.NoGraph = true
	out, _ := alignOnce(t, []string{"--AGCUAGCU--", "--AGCUAGCU--"}, "AGCUAGCU", opts)
	expect.EQ(t, positions(out), []int{2, 3, 4, 5, 6, 7, 8, 9})
}

func emptyTrayStats() *refstore.Stats { return refstore.EmptyStats() }

func TestAlignerCopyPath(t *testing.T) {
	ref := mustCSeq(t, "refX", "--AGCUAGCU--")
	ref.SetAttr(refstore.FnAcc, "X0001")
	tray := &pipeline.Tray{
		SeqNo: 1,
		Input: mustCSeq(t, "query", "AGCUAGCU"),
		Family: []pipeline.FamilyMember{
			{Seq: ref, Score: 1},
		},
		Stats: emptyTrayStats(),
	}
	a := New(DefaultOpts)
	require.NoError(t, a.Process(tray))
	require.NotNil(t, tray.Aligned)
	expect.EQ(t, positions(tray.Aligned), []int{2, 3, 4, 5, 6, 7, 8, 9})
	expect.EQ(t, tray.Aligned.AttrInt(refstore.FnQual), 100)
	expect.EQ(t, tray.Aligned.AttrInt(refstore.FnHead), 0)
	expect.EQ(t, tray.Aligned.AttrInt(refstore.FnTail), 0)
}

func TestAlignerDP(t *testing.T) {
	ref := mustCSeq(t, "refX", "--AGCUAGCU--")
	tray := &pipeline.Tray{
		SeqNo: 1,
		// one mismatch keeps the copy fast path out of the way
		Input: mustCSeq(t, "query", "AGCAAGCU"),
		Family: []pipeline.FamilyMember{
			{Seq: ref, Score: 1},
		},
		Stats: emptyTrayStats(),
	}
	opts := DefaultOpts
	opts.CalcIdty = true
	a := New(opts)
	require.NoError(t, a.Process(tray))
	require.NotNil(t, tray.Aligned)
	expect.EQ(t, positions(tray.Aligned), []int{2, 3, 4, 5, 6, 7, 8, 9})
	expect.True(t, tray.Aligned.AttrFloat(refstore.FnIdty) > 80)
	expect.EQ(t, tray.Aligned.AttrInt(refstore.FnAStart), 2)
	expect.EQ(t, tray.Aligned.AttrInt(refstore.FnAStop), 9)
}

func TestAlignerRealignSkipsWhenFamilyEmpty(t *testing.T) {
	ref := mustCSeq(t, "refX", "--AGCUAGCU--")
	tray := &pipeline.Tray{
		SeqNo:  1,
		Input:  mustCSeq(t, "query", "AGCUAGCU"),
		Family: []pipeline.FamilyMember{{Seq: ref, Score: 1}},
		Stats:  emptyTrayStats(),
	}
	opts := DefaultOpts
	opts.Realign = true
	a := New(opts)
	require.NoError(t, a.Process(tray))
	expect.Nil(t, tray.Aligned)
	expect.True(t, bytes.Contains(tray.Log.Bytes(), []byte("ALL")))
}
