package search

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/rnalign/pipeline"
	"github.com/grailbio/rnalign/refstore"
	"github.com/grailbio/rnalign/seq"
)

func put(t *testing.T, s *refstore.Store, name, data, tax string) {
	c, err := seq.NewCSeq(name, data)
	require.NoError(t, err)
	if tax != "" {
		c.SetAttr("tax_slv", tax)
	}
	require.NoError(t, s.Put(c))
}

const refSeq = "AGCUAGCUAGGCUUAGCAAGCUAGGCAUCGAU"

func variant(i int) string {
	b := []byte(refSeq)
	b[i] = 'A'
	if refSeq[i] == 'A' {
		b[i] = 'G'
	}
	return string(b)
}

func newTestSearch(t *testing.T, opts Opts) (*Search, *refstore.Store) {
	tmp, cleanup := testutil.TempDir(t, "", "search")
	t.Cleanup(cleanup)
	ctx := vcontext.Background()
	s, err := refstore.Open(ctx, filepath.Join(tmp, "refs.rdb"))
	require.NoError(t, err)
	put(t, s, "r1", refSeq, "A;B;C;")
	put(t, s, "r2", refSeq, "A;B;C;")
	put(t, s, "r3", variant(3), "A;B;D;")
	put(t, s, "r4", variant(5), "A;B;D;")
	put(t, s, "r5", variant(7), "A;E;F;")
	opts.SearchAll = true
	srch, err := New(opts, s, nil)
	require.NoError(t, err)
	return srch, s
}

func alignedQuery(t *testing.T) *seq.CSeq {
	c, err := seq.NewCSeq("query", refSeq)
	require.NoError(t, err)
	return c
}

func TestSearchRanksResults(t *testing.T) {
	opts := DefaultOpts
	opts.MinSim = 0.1
	srch, _ := newTestSearch(t, opts)

	tray := &pipeline.Tray{SeqNo: 1, Aligned: alignedQuery(t)}
	require.NoError(t, srch.Process(tray))
	require.NotEmpty(t, tray.SearchResult)
	// exact copies rank first
	expect.EQ(t, tray.SearchResult[0].Score, float32(1.0))
	expect.EQ(t, tray.SearchResult[0].Seq.Name(), "r1")
	expect.EQ(t, tray.SearchResult[1].Seq.Name(), "r2")
	// every result carries more than MinSim identity
	for _, r := range tray.SearchResult {
		expect.True(t, r.Score > opts.MinSim)
	}
	expect.True(t, strings.Contains(
		tray.Aligned.AttrString(refstore.FnNearest), "~1.000"))
}

func TestSearchShortQuerySkipped(t *testing.T) {
	srch, _ := newTestSearch(t, DefaultOpts)
	q, err := seq.NewCSeq("query", "AGCU")
	require.NoError(t, err)
	tray := &pipeline.Tray{SeqNo: 1, Aligned: q}
	require.NoError(t, srch.Process(tray))
	expect.EQ(t, len(tray.SearchResult), 0)
	expect.True(t, strings.Contains(tray.Log.String(), "too short"))
}

func TestSearchLCA(t *testing.T) {
	// taxonomy: A;B;C; x2, A;B;D; x2, A;E;F; x1, quorum 0.7 over 5 results
	// tolerates one outlier per level: classification A;B;
	opts := DefaultOpts
	opts.MinSim = 0.1
	opts.LCAFields = []string{"tax_slv"}
	opts.LCAQuorum = 0.7
	srch, _ := newTestSearch(t, opts)

	tray := &pipeline.Tray{SeqNo: 1, Aligned: alignedQuery(t)}
	require.NoError(t, srch.Process(tray))
	expect.EQ(t, tray.Aligned.AttrString("lca_tax_slv"), "A;B;")
}

func TestSearchLCANoConsensus(t *testing.T) {
	opts := DefaultOpts
	opts.MinSim = 0.1
	opts.LCAFields = []string{"tax_slv"}
	opts.LCAQuorum = 1.0
	srch, _ := newTestSearch(t, opts)

	tray := &pipeline.Tray{SeqNo: 1, Aligned: alignedQuery(t)}
	require.NoError(t, srch.Process(tray))
	// with a full quorum the first disagreeing level ends the walk at A;
	expect.EQ(t, tray.Aligned.AttrString("lca_tax_slv"), "A;")
}

func TestSearchCopyFields(t *testing.T) {
	opts := DefaultOpts
	opts.MinSim = 0.1
	opts.MaxResult = 2
	opts.CopyFields = []string{"tax_slv"}
	srch, _ := newTestSearch(t, opts)

	tray := &pipeline.Tray{SeqNo: 1, Aligned: alignedQuery(t)}
	require.NoError(t, srch.Process(tray))
	require.NotEmpty(t, tray.SearchResult)
	acc := tray.SearchResult[0].Seq.AttrString(refstore.FnAcc)
	expect.EQ(t, tray.Aligned.AttrString("copy_"+acc+"_tax_slv"), "A;B;C;")
}

func TestSearchIgnoreSuper(t *testing.T) {
	opts := DefaultOpts
	opts.MinSim = 0.1
	opts.IgnoreSuper = true
	srch, _ := newTestSearch(t, opts)

	tray := &pipeline.Tray{SeqNo: 1, Aligned: alignedQuery(t)}
	require.NoError(t, srch.Process(tray))
	// r1/r2 contain the query verbatim and are dropped
	for _, r := range tray.SearchResult {
		expect.True(t, r.Seq.Name() != "r1")
		expect.True(t, r.Seq.Name() != "r2")
	}
}
