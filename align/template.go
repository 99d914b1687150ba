// Package align implements the core alignment engine: the partial-order
// reference graph built from a family of aligned sequences, the dynamic
// program over (template node x query base) cells, and the backtrack that
// projects the query into the reference coordinate system.
package align

import "github.com/grailbio/rnalign/seq"

// Profile is a per-column base distribution used by the profile template and
// scoring scheme.
type Profile struct {
	Bases     [seq.NumBases]float32
	GapOpen   float32
	GapExtend float32
}

// NewBaseProfile spreads one IUPAC code over its possible bases.
func NewBaseProfile(b seq.Base) Profile {
	var p Profile
	order := b.Ambiguity()
	if order == 0 {
		return p
	}
	val := 1 / float32(order)
	if b.HasA() {
		p.Bases[seq.IdxA] = val
	}
	if b.HasG() {
		p.Bases[seq.IdxG] = val
	}
	if b.HasC() {
		p.Bases[seq.IdxC] = val
	}
	if b.HasTU() {
		p.Bases[seq.IdxTU] = val
	}
	return p
}

// Comp scores this profile against another under match/mismatch/gap
// parameters: the outer product of the two distributions plus gap terms.
func (p *Profile) Comp(o *Profile, match, mismatch, gap, gapExt float32) float32 {
	var res float32
	for i := 0; i < int(seq.NumBases); i++ {
		for j := 0; j < int(seq.NumBases); j++ {
			if i == j {
				res += match * p.Bases[i] * o.Bases[j]
			} else {
				res += mismatch * p.Bases[i] * o.Bases[j]
			}
		}
	}
	return res + gap*p.GapOpen + gapExt*p.GapExtend
}

// CompBase scores the profile against a single IUPAC code.
func (p *Profile) CompBase(b seq.Base, match, mismatch, gap, gapExt float32) float32 {
	bp := NewBaseProfile(b)
	return p.Comp(&bp, match, mismatch, gap, gapExt)
}

// Column is the view of one template node the scoring schemes consume: its
// alignment column, its weight, and either a concrete base (graph and
// single-sequence templates) or a distribution (profile template).
type Column struct {
	Pos     uint32
	Weight  float32
	Base    seq.Base
	Profile *Profile
}

// Template is the capability set the DP requires of its master sequence:
// nodes enumerable in topological order (ids 0..Size()-1), predecessor and
// successor edges, and per-node column data. Implementations: MSeq (graph
// over a family), PSeq (profile vector), CSeqTemplate (single sequence).
type Template interface {
	// Size returns the node count.
	Size() int
	// Width returns the alignment width.
	Width() uint32
	// Column returns node i's column data.
	Column(i int32) Column
	// Prev returns node i's predecessors; empty marks a start node.
	Prev(i int32) []int32
	// Next returns node i's successors; empty marks an end node.
	Next(i int32) []int32
	// Starts returns the nodes without predecessors.
	Starts() []int32
	// Ends returns the nodes without successors.
	Ends() []int32
}

// CSeqTemplate adapts a single aligned sequence to the Template interface:
// a linear chain of its bases.
type CSeqTemplate struct {
	c *seq.CSeq
}

// NewCSeqTemplate wraps c. The sequence must not be mutated while the
// template is in use.
func NewCSeqTemplate(c *seq.CSeq) *CSeqTemplate { return &CSeqTemplate{c} }

func (t *CSeqTemplate) Size() int     { return t.c.Size() }
func (t *CSeqTemplate) Width() uint32 { return t.c.Width() }

func (t *CSeqTemplate) Column(i int32) Column {
	ab := t.c.ByID(int(i))
	return Column{Pos: ab.Pos, Weight: 1, Base: ab.Base}
}

func (t *CSeqTemplate) Prev(i int32) []int32 {
	if i == 0 {
		return nil
	}
	return []int32{i - 1}
}

func (t *CSeqTemplate) Next(i int32) []int32 {
	if int(i) == t.c.Size()-1 {
		return nil
	}
	return []int32{i + 1}
}

func (t *CSeqTemplate) Starts() []int32 {
	if t.c.Size() == 0 {
		return nil
	}
	return []int32{0}
}

func (t *CSeqTemplate) Ends() []int32 {
	if t.c.Size() == 0 {
		return nil
	}
	return []int32{int32(t.c.Size() - 1)}
}
