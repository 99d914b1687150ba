package align

import (
	"fmt"
	"io"

	"github.com/grailbio/rnalign/seq"
)

// Overhang selects where query bases outside the alignable reference region
// are placed.
type Overhang int

const (
	// OverhangAttach puts overhanging bases in the columns adjoining the
	// aligned region.
	OverhangAttach Overhang = iota
	// OverhangRemove drops them.
	OverhangRemove
	// OverhangEdge puts them at the alignment edges.
	OverhangEdge
)

// Lowercase selects the casing of the output.
type Lowercase int

const (
	// LowercaseNone uppercases everything.
	LowercaseNone Lowercase = iota
	// LowercaseOriginal keeps the input casing.
	LowercaseOriginal
	// LowercaseUnaligned lowercases bases placed outside the aligned
	// region (overhang and shifted insertions).
	LowercaseUnaligned
)

// Insertion selects how insertions the reference cannot accommodate are
// handled.
type Insertion int

const (
	// InsertionShift spreads colliding bases into neighboring free columns
	// after backtrack.
	InsertionShift Insertion = iota
	// InsertionForbid bounds insertion runs inside the DP.
	InsertionForbid
	// InsertionRemove drops colliding bases after backtrack.
	InsertionRemove
)

// ParseOverhang parses attach, remove or edge.
func ParseOverhang(s string) (Overhang, error) {
	switch s {
	case "attach":
		return OverhangAttach, nil
	case "remove":
		return OverhangRemove, nil
	case "edge":
		return OverhangEdge, nil
	}
	return 0, fmt.Errorf("overhang must be one of 'attach', 'remove' or 'edge': %q", s)
}

// ParseLowercase parses none, original or unaligned.
func ParseLowercase(s string) (Lowercase, error) {
	switch s {
	case "none":
		return LowercaseNone, nil
	case "original":
		return LowercaseOriginal, nil
	case "unaligned":
		return LowercaseUnaligned, nil
	}
	return 0, fmt.Errorf("lowercase must be one of 'none', 'original' or 'unaligned': %q", s)
}

// ParseInsertion parses shift, forbid or remove.
func ParseInsertion(s string) (Insertion, error) {
	switch s {
	case "shift":
		return InsertionShift, nil
	case "forbid":
		return InsertionForbid, nil
	case "remove":
		return InsertionRemove, nil
	}
	return 0, fmt.Errorf("insertion must be one of 'shift', 'forbid' or 'remove': %q", s)
}

// backtrackResult carries the projection outcome.
type backtrackResult struct {
	score        float32
	cutoffHead   int
	cutoffTail   int
	alignedBases int
}

// backtrack walks the computed mesh from its best end cell to the start,
// rebuilding the query in reference coordinates into out. The sequence is
// emitted in mirrored coordinates and un-mirrored by the final reverse.
func backtrack(m *Mesh, out *seq.CSeq, overhang Overhang, lowercase Lowercase,
	insertion Insertion, lg io.Writer) (backtrackResult, error) {

	var res backtrackResult
	tpl := m.tpl
	width := tpl.Width()
	qBases := m.query.ABases()
	sBegin := int32(0)
	sEnd := int32(len(qBases) - 1)

	startSet := map[int32]bool{}
	for _, id := range tpl.Starts() {
		startSet[id] = true
	}

	// find the best end cell: the last query base against any node, or any
	// query base against an end node
	best := tpl.Ends()[0]
	for mi := int32(0); mi < int32(tpl.Size()); mi++ {
		if m.at(mi, sEnd).value < m.at(best, sEnd).value {
			best = mi
		}
	}
	mi, si := best, sEnd
	for _, me := range tpl.Ends() {
		for s := int32(0); s <= sEnd; s++ {
			if m.at(me, s).value < m.at(mi, si).value {
				mi, si = me, s
			}
		}
	}

	mirror := func(pos uint32) uint32 { return width - 1 - pos }
	markLower := func(b seq.Base) seq.Base {
		if lowercase == LowercaseUnaligned {
			return b.ToLower()
		}
		return b
	}

	// right-hand overhang
	res.cutoffTail = int(sEnd - si)
	if res.cutoffTail > 0 && overhang != OverhangRemove {
		var pos int
		if overhang == OverhangAttach {
			pos = int(mirror(tpl.Column(mi).Pos)) - res.cutoffTail
		} else { // OverhangEdge
			pos = 0
		}
		for i := sEnd; i > si; i-- {
			p := pos
			if p < 0 {
				p = 0
			}
			out.AppendABase(seq.ABase{Pos: uint32(p), Base: markLower(qBases[i].Base)})
			pos++
		}
	}

	raw := m.at(mi, si).value

	var sumWeight float32
	countWeight := func(mIdx, sIdx int32) {
		// score the emitted base as if it were a perfect match so the raw
		// score normalizes to a per-weight quality
		col := tpl.Column(mIdx)
		col.Base = qBases[sIdx].Base
		var prof Profile
		if col.Profile != nil {
			prof = NewBaseProfile(qBases[sIdx].Base)
			col.Profile = &prof
		}
		sumWeight = m.scorer.Match(sumWeight, col, qBases[sIdx].Base)
	}

	pos := mirror(tpl.Column(mi).Pos)
	out.AppendABase(seq.ABase{Pos: pos, Base: qBases[si].Base})
	res.alignedBases++
	countWeight(mi, si)

	for si != sBegin && !startSet[mi] {
		c := m.at(mi, si)
		sNew := c.valueSidx
		mi = c.valueMidx
		// a pure deletion step leaves the query index unchanged; the cell it
		// points to was reached via a match, so follow one more master link
		if sNew == m.at(mi, sNew).valueSidx && sNew != 0 {
			mi = m.at(mi, sNew).valueMidx
		}
		pos = mirror(tpl.Column(mi).Pos)
		for si != sNew {
			si--
			out.AppendABase(seq.ABase{Pos: pos, Base: qBases[si].Base})
			res.alignedBases++
			countWeight(mi, si)
		}
	}

	// left-hand overhang
	if si != sBegin {
		res.cutoffHead = int(si - sBegin)
		switch overhang {
		case OverhangAttach:
			for si > sBegin {
				si--
				p := pos + 1
				if p > width-1 {
					p = width - 1
				}
				pos = p
				out.AppendABase(seq.ABase{Pos: p, Base: markLower(qBases[si].Base)})
			}
		case OverhangRemove:
		case OverhangEdge:
			for n := si - sBegin; n > 0; n-- {
				i := n - 1
				out.AppendABase(seq.ABase{
					Pos:  width - uint32(i) - 1,
					Base: markLower(qBases[i].Base),
				})
			}
		}
	}

	if err := out.SetWidth(width); err != nil {
		return res, err
	}
	out.Reverse()
	if err := out.FixDuplicatePositions(lg, lowercase == LowercaseUnaligned,
		insertion == InsertionRemove); err != nil {
		return res, err
	}
	if out.Width() > width {
		fmt.Fprint(lg, "warning: result sequence too wide!")
	}

	res.score = raw / sumWeight
	fmt.Fprintf(lg, "scoring: raw=%g, weight=%g, query-len=%d, aligned-bases=%d, score=%g; ",
		raw, sumWeight, len(qBases), res.alignedBases, res.score)
	return res, nil
}
