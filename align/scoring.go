package align

import "github.com/grailbio/rnalign/seq"

// Scorer is the cost model of the dynamic program. Costs are minimized:
// constructors negate the match/mismatch scores on input and gap penalties
// are positive. Each function extends a previous cell value by one
// transition; col is the template node the transition lands on, q the query
// base.
type Scorer interface {
	Insertion(prev float32, col Column, q seq.Base) float32
	InsertionExt(prev float32, col Column, q seq.Base, offset int32) float32
	Deletion(prev float32, col Column, q seq.Base) float32
	DeletionExt(prev float32, col Column, q seq.Base, offset int32) float32
	Match(prev float32, col Column, q seq.Base) float32
}

// SimpleScorer scores with plain constants; matches test IUPAC overlap
// (optimistic) and are scaled by the node weight.
type SimpleScorer struct {
	match, mismatch float32
	gap, gapExt     float32
}

// NewSimpleScorer builds a SimpleScorer from score-convention inputs
// (match positive, mismatch negative, gap penalties positive).
func NewSimpleScorer(match, mismatch, gap, gapExt float32) SimpleScorer {
	return SimpleScorer{match: -match, mismatch: -mismatch, gap: gap, gapExt: gapExt}
}

func (s SimpleScorer) Insertion(prev float32, col Column, q seq.Base) float32 {
	return prev + s.gap
}

func (s SimpleScorer) InsertionExt(prev float32, col Column, q seq.Base, offset int32) float32 {
	return prev + s.gapExt
}

func (s SimpleScorer) Deletion(prev float32, col Column, q seq.Base) float32 {
	return prev + s.gap
}

func (s SimpleScorer) DeletionExt(prev float32, col Column, q seq.Base, offset int32) float32 {
	return prev + s.gapExt
}

func (s SimpleScorer) Match(prev float32, col Column, q seq.Base) float32 {
	if col.Base.Comp(q) {
		return prev + s.match*col.Weight
	}
	return prev + s.mismatch*col.Weight
}

// WeightedScorer is SimpleScorer with every transition scaled by the column
// weight at the relevant position. Insertions land in the column following
// the current one (plus the extension offset); deletions and matches use
// the current column.
type WeightedScorer struct {
	match, mismatch float32
	gap, gapExt     float32
	weights         []float32
}

// NewWeightedScorer builds a WeightedScorer over per-column weights.
func NewWeightedScorer(match, mismatch, gap, gapExt float32, weights []float32) WeightedScorer {
	return WeightedScorer{
		match: -match, mismatch: -mismatch,
		gap: gap, gapExt: gapExt, weights: weights,
	}
}

func (s WeightedScorer) weightAt(pos uint32) float32 {
	if int(pos) >= len(s.weights) {
		return 1
	}
	return s.weights[pos]
}

func (s WeightedScorer) Insertion(prev float32, col Column, q seq.Base) float32 {
	return prev + s.gap*s.weightAt(col.Pos+1)
}

func (s WeightedScorer) InsertionExt(prev float32, col Column, q seq.Base, offset int32) float32 {
	return prev + s.gapExt*s.weightAt(col.Pos+1+uint32(offset))
}

func (s WeightedScorer) Deletion(prev float32, col Column, q seq.Base) float32 {
	return prev + s.gap*s.weightAt(col.Pos)
}

func (s WeightedScorer) DeletionExt(prev float32, col Column, q seq.Base, offset int32) float32 {
	return prev + s.gapExt*s.weightAt(col.Pos)
}

func (s WeightedScorer) Match(prev float32, col Column, q seq.Base) float32 {
	if col.Base.Comp(q) {
		return prev + s.match*s.weightAt(col.Pos)*col.Weight
	}
	return prev + s.mismatch*s.weightAt(col.Pos)*col.Weight
}

// ProfileScorer scores a query base against a column profile: the outer
// product of the distributions plus gap terms weighted by the profile's gap
// rates.
type ProfileScorer struct {
	match, mismatch float32
	gap, gapExt     float32
}

// NewProfileScorer builds a ProfileScorer.
func NewProfileScorer(match, mismatch, gap, gapExt float32) ProfileScorer {
	return ProfileScorer{match: -match, mismatch: -mismatch, gap: gap, gapExt: gapExt}
}

func (s ProfileScorer) Insertion(prev float32, col Column, q seq.Base) float32 {
	return prev + s.gap
}

func (s ProfileScorer) InsertionExt(prev float32, col Column, q seq.Base, offset int32) float32 {
	return prev + s.gapExt
}

func (s ProfileScorer) Deletion(prev float32, col Column, q seq.Base) float32 {
	return prev + s.gap
}

func (s ProfileScorer) DeletionExt(prev float32, col Column, q seq.Base, offset int32) float32 {
	return prev + s.gapExt
}

func (s ProfileScorer) Match(prev float32, col Column, q seq.Base) float32 {
	return prev + col.Profile.CompBase(q, s.match, s.mismatch, s.gap, s.gapExt)
}

// MatrixScorer consults a 4x4 log-odds substitution matrix; gaps are scaled
// by the column weights.
type MatrixScorer struct {
	gap, gapExt float32
	weights     []float32
	matrix      *seq.SubstMatrix
}

// NewMatrixScorer builds a MatrixScorer.
func NewMatrixScorer(gap, gapExt float32, weights []float32, matrix *seq.SubstMatrix) MatrixScorer {
	return MatrixScorer{gap: gap, gapExt: gapExt, weights: weights, matrix: matrix}
}

func (s MatrixScorer) weightAt(pos uint32) float32 {
	if int(pos) >= len(s.weights) {
		return 1
	}
	return s.weights[pos]
}

func (s MatrixScorer) Insertion(prev float32, col Column, q seq.Base) float32 {
	return prev + s.gap*s.weightAt(col.Pos)
}

func (s MatrixScorer) InsertionExt(prev float32, col Column, q seq.Base, offset int32) float32 {
	return prev + s.gapExt*s.weightAt(col.Pos)
}

func (s MatrixScorer) Deletion(prev float32, col Column, q seq.Base) float32 {
	return s.Insertion(prev, col, q)
}

func (s MatrixScorer) DeletionExt(prev float32, col Column, q seq.Base, offset int32) float32 {
	return s.InsertionExt(prev, col, q, offset)
}

func (s MatrixScorer) Match(prev float32, col Column, q seq.Base) float32 {
	return prev + col.Base.CompMatrix(q, s.matrix)*s.weightAt(col.Pos)
}
