// Package family implements reference selection: for each query it asks the
// k-mer index for candidate references and composes the family the aligner
// builds its graph from.
package family

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/log"

	"github.com/grailbio/rnalign/kmeridx"
	"github.com/grailbio/rnalign/pipeline"
	"github.com/grailbio/rnalign/refstore"
	"github.com/grailbio/rnalign/seq"
)

// Turn selects the orientation check run on each query.
type Turn int

const (
	// TurnNone disables the check.
	TurnNone Turn = iota
	// TurnRevComp checks the original and reverse-complemented orientations.
	TurnRevComp
	// TurnAll checks all four orientations.
	TurnAll
)

// ParseTurn parses none, revcomp or all.
func ParseTurn(s string) (Turn, error) {
	switch s {
	case "none":
		return TurnNone, nil
	case "revcomp":
		return TurnRevComp, nil
	case "all":
		return TurnAll, nil
	}
	return 0, fmt.Errorf("turn must be one of 'none', 'revcomp' or 'all': %q", s)
}

// Opts configures the family selector.
type Opts struct {
	// Turn selects the orientation check.
	Turn Turn
	// KmerLen is the index k-mer length.
	KmerLen int
	// Fast restricts index matching to the A-prefix k-mer subset.
	Fast bool
	// Min is the number of references kept regardless of score; Max caps
	// the family size.
	Min, Max int
	// MinScore is the fractional identity below which references only
	// count once Min is reached; MaxScore drops references more similar
	// than this (evaluation use; >= 2 disables it).
	MinScore, MaxScore float32
	// Req is the minimum family size for a query to be aligned.
	Req int
	// ReqFull and FullMinLen require a quota of full-length references.
	ReqFull    int
	FullMinLen int
	// ReqGaps drops references with fewer internal gap columns.
	ReqGaps int
	// CoverGene requires references covering each gene end; GeneStart and
	// GeneEnd delimit the gene within the alignment.
	CoverGene          int
	GeneStart, GeneEnd int
	// MinLen drops references shorter than this.
	MinLen int
	// LeaveQueryOut ignores references sharing the query's name
	// (evaluation use).
	LeaveQueryOut bool
	// NoID drops references containing the query verbatim.
	NoID bool
}

// DefaultOpts holds the stock selector parameters.
var DefaultOpts = Opts{
	KmerLen:    10,
	Fast:       true,
	Min:        40,
	Max:        40,
	MinScore:   0.7,
	MaxScore:   2,
	Req:        1,
	ReqFull:    1,
	FullMinLen: 1400,
	ReqGaps:    10,
	MinLen:     150,
}

// Finder is one family-selector worker. Each worker holds its own handle on
// the shared k-mer index; the pipeline runs a small pool of them.
type Finder struct {
	opts  Opts
	store *refstore.Store
	index *kmeridx.Index
	stats []*refstore.Stats
}

// New creates a finder over the store's index, building or loading the
// index as needed.
func New(opts Opts, store *refstore.Store) *Finder {
	return &Finder{
		opts:  opts,
		store: store,
		index: kmeridx.Get(store, opts.KmerLen, opts.Fast),
		stats: store.Stats(),
	}
}

// Index exposes the underlying index (used by the search stage when it
// shares the engine).
func (f *Finder) Index() *kmeridx.Index { return f.index }

// Process implements pipeline.Stage.
func (f *Finder) Process(t *pipeline.Tray) error {
	if t.Input == nil {
		return nil
	}
	c := t.Input
	f.turnCheck(c)

	results := f.match(c)

	// record the family composition on the query
	var fam strings.Builder
	for _, r := range results {
		f.store.LoadKey(r.Seq, refstore.FnAcc)
		f.store.LoadKey(r.Seq, refstore.FnStart)
		start := r.Seq.AttrString(refstore.FnStart)
		if start == "" {
			start = "0"
		}
		fmt.Fprintf(&fam, "%s.%s:%.2f ",
			r.Seq.AttrString(refstore.FnAcc), start, r.Score)
	}
	c.SetAttr(refstore.FnFamilyStr, fam.String())

	// drop references with too few internal gaps
	if f.opts.ReqGaps > 0 {
		kept := results[:0]
		for _, r := range results {
			s := r.Seq
			if s.Size() == 0 ||
				int(s.ByID(s.Size()-1).Pos)-s.Size()+1 < f.opts.ReqGaps {
				continue
			}
			kept = append(kept, r)
		}
		results = kept
	}

	// select the alignment statistics for this query
	if len(f.stats) > 0 {
		t.Stats = f.stats[0]
	} else {
		t.Stats = refstore.EmptyStats()
	}

	if len(results) < f.opts.Req {
		t.Logf("unable to align: too few relatives (%d);", len(results))
		return nil
	}
	t.Family = results
	return nil
}

// turnCheck reorients the query to the best-matching strand and records the
// decision.
func (f *Finder) turnCheck(c *seq.CSeq) {
	if f.opts.Turn == TurnNone {
		c.SetAttr(refstore.FnTurn, "turn-check disabled")
		return
	}
	switch f.index.TurnCheck(c, f.opts.Turn == TurnAll) {
	case kmeridx.OrientNone:
		c.SetAttr(refstore.FnTurn, "none")
	case kmeridx.OrientReversed:
		c.SetAttr(refstore.FnTurn, "reversed")
		c.Reverse()
	case kmeridx.OrientComplemented:
		c.SetAttr(refstore.FnTurn, "complemented")
		c.Complement()
	case kmeridx.OrientReverseComplemented:
		c.SetAttr(refstore.FnTurn, "reversed and complemented")
		c.Reverse()
		c.Complement()
	}
}

// match iteratively widens the candidate request until the family
// composition constraints are met, the index is exhausted, or the size cap
// is hit.
func (f *Finder) match(query *seq.CSeq) []pipeline.FamilyMember {
	o := &f.opts
	queryBases := strings.ToUpper(query.Bases())
	cmp := seq.NewComparator(seq.IUPACOptimistic, seq.DistNone, seq.CoverQuery, false)

	isFull := func(s *seq.CSeq) bool { return s.Size() >= o.FullMinLen }
	isRangeLeft := func(s *seq.CSeq) bool {
		return s.Size() > 0 && int(s.ByID(0).Pos) <= o.GeneStart
	}
	isRangeRight := func(s *seq.CSeq) bool {
		return s.Size() > 0 && int(s.ByID(s.Size()-1).Pos) >= o.GeneEnd
	}

	var have, haveFull, haveCoverLeft, haveCoverRight int
	keep := func(s *seq.CSeq, score float32) bool {
		switch {
		case s.Size() < o.MinLen:
			return false
		case o.LeaveQueryOut && query.Name() == s.Name():
			return false
		case o.NoID && strings.Contains(strings.ToUpper(s.Bases()), queryBases):
			return false
		case o.MaxScore <= 2 && cmp.Compare(query, s) > o.MaxScore:
			return false
		}
		if have >= o.Min &&
			(have >= o.Max || score < o.MinScore) &&
			!(o.ReqFull > 0 && haveFull < o.ReqFull && isFull(s)) &&
			!(o.CoverGene > 0 && haveCoverRight < o.CoverGene && isRangeRight(s)) &&
			!(o.CoverGene > 0 && haveCoverLeft < o.CoverGene && isRangeLeft(s)) {
			return false
		}
		have++
		if o.ReqFull > 0 && isFull(s) {
			haveFull++
		}
		if o.CoverGene > 0 && isRangeRight(s) {
			haveCoverRight++
		}
		if o.CoverGene > 0 && isRangeLeft(s) {
			haveCoverLeft++
		}
		return true
	}

	var family []pipeline.FamilyMember
	maxResults := o.Max + 1
	for {
		family = family[:0]
		have, haveFull, haveCoverLeft, haveCoverRight = 0, 0, 0, 0
		hits := f.index.Find(query, maxResults)
		if len(hits) == 0 {
			return nil
		}
		for _, h := range hits {
			s, err := f.store.Get(h.Name)
			if err != nil {
				log.Error.Printf("family: reference %s: %v", h.Name, err)
				continue
			}
			if keep(s, h.Score) {
				member := pipeline.FamilyMember{Seq: s, Score: h.Score}
				family = append(family, member)
			}
		}
		if have >= o.Max && haveFull >= o.ReqFull &&
			haveCoverLeft >= o.CoverGene && haveCoverRight >= o.CoverGene {
			break
		}
		if maxResults >= f.index.Size() {
			break
		}
		maxResults *= 10
	}
	return family
}
