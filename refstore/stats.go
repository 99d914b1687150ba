package refstore

import (
	"math"

	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/floats"

	"github.com/grailbio/rnalign/seq"
)

// Freqs holds the per-column (or global) base observation counts of one
// positional-variability filter.
type Freqs struct {
	NA, NG, NC, NU uint32
	NMutations     uint32
	NTransversions uint32
}

func (f *Freqs) add(o Freqs) {
	f.NA += o.NA
	f.NG += o.NG
	f.NC += o.NC
	f.NU += o.NU
	f.NMutations += o.NMutations
	f.NTransversions += o.NTransversions
}

func (f Freqs) total() uint32 { return f.NA + f.NG + f.NC + f.NU }

// Stats holds the column statistics of one filter: base frequencies and
// mutation counts per column, and the positional weights derived from them.
// Columns whose mutation rate can be estimated get a Jukes-Cantor-corrected
// weight in [1, 20]; columns with insufficient coverage weigh 1.
type Stats struct {
	name    string
	nTaxa   uint32
	width   uint32
	cols    []Freqs
	global  Freqs
	pairs   []int
	weights []float32
}

func jukesCantor(in float64) float64 {
	return -3.0 / 4 * math.Log(1.0-4.0/3*in)
}

// NewStats derives positional weights from raw column counts.
func NewStats(name string, nTaxa, width uint32, cols []Freqs, pairs []int) *Stats {
	s := &Stats{
		name:  name,
		nTaxa: nTaxa,
		width: width,
		cols:  cols,
		pairs: pairs,
		global: Freqs{
			NA: 1000, NG: 1000, NC: 1000, NU: 1000,
			NMutations: 20, NTransversions: 10,
		},
	}
	s.weights = make([]float32, width)
	summary := make([]float64, 0, width)
	for i := range s.weights {
		s.weights[i] = 1
	}
	for i, f := range cols {
		s.global.add(f)
		sum := f.total()
		if float64(sum) <= float64(nTaxa)*0.2 {
			continue
		}
		rate := math.Min(float64(f.NMutations)/float64(sum), .95*.75)
		rate = math.Min(jukesCantor(rate), 1)
		weight := .5 - math.Log(rate)
		if weight > 20 {
			log.Error.Printf("extreme weight %g for column %d clamped to 20", weight, i)
			weight = 20
		}
		if weight < 1 {
			weight = 1
		}
		s.weights[i] = float32(weight)
		summary = append(summary, weight)
	}
	if len(summary) > 0 {
		log.Printf("filter %s: %d/%d weighted columns, weight avg=%.2f min=%.2f max=%.2f",
			name, len(summary), int(width)-len(summary),
			floats.Sum(summary)/float64(len(summary)),
			floats.Min(summary), floats.Max(summary))
	}
	return s
}

// EmptyStats returns the all-default statistics used when a database
// carries no filter data: every column weighs 1 and the substitution matrix
// derives from uniform base frequencies.
func EmptyStats() *Stats {
	return &Stats{
		global: Freqs{
			NA: 1000, NG: 1000, NC: 1000, NU: 1000,
			NMutations: 20, NTransversions: 10,
		},
	}
}

// Name returns the filter name.
func (s *Stats) Name() string { return s.name }

// Width returns the number of columns covered; zero for EmptyStats.
func (s *Stats) Width() uint32 { return s.width }

// NTaxa returns the number of sequences the counts were drawn from.
func (s *Stats) NTaxa() uint32 { return s.nTaxa }

// Weights returns the positional weight vector (len == Width).
func (s *Stats) Weights() []float32 { return s.weights }

// ColumnFreqs returns the per-column counts.
func (s *Stats) ColumnFreqs() []Freqs { return s.cols }

// Pairs returns the helix pairing vector, or nil.
func (s *Stats) Pairs() []int { return s.pairs }

// SubstMatrix builds a log-odds substitution matrix for the given expected
// identity from the filter's global base frequencies.
func (s *Stats) SubstMatrix(identity float64) *seq.SubstMatrix {
	total := float64(s.global.total())
	var f [seq.NumBases]float64
	f[seq.IdxA] = float64(s.global.NA) / total
	f[seq.IdxC] = float64(s.global.NC) / total
	f[seq.IdxG] = float64(s.global.NG) / total
	f[seq.IdxTU] = float64(s.global.NU) / total

	var m seq.SubstMatrix
	for i := 0; i < int(seq.NumBases); i++ {
		for j := 0; j < int(seq.NumBases); j++ {
			var p float64
			if i == j {
				p = identity / 4
			} else {
				p = (1 - identity) / 12
			}
			m[i*int(seq.NumBases)+j] = float32(-math.Log(p / (f[i] * f[j])))
		}
	}
	return &m
}

// ComputeStats builds column statistics directly from a set of aligned
// sequences. Mutation counts are taken against the column plurality base;
// transversions count purine/pyrimidine changes. Used when a database
// carries no precomputed filter data.
func ComputeStats(name string, width uint32, seqs []*seq.CSeq, pairs []int) *Stats {
	cols := make([]Freqs, width)
	counts := make([][seq.NumBases]uint32, width)
	for _, c := range seqs {
		for _, ab := range c.ABases() {
			if ab.Pos >= width || ab.Base.IsAmbiguous() {
				continue
			}
			counts[ab.Pos][ab.Base.Index()]++
		}
	}
	purine := func(i seq.BaseIndex) bool { return i == seq.IdxA || i == seq.IdxG }
	for i := range counts {
		f := &cols[i]
		f.NA = counts[i][seq.IdxA]
		f.NG = counts[i][seq.IdxG]
		f.NC = counts[i][seq.IdxC]
		f.NU = counts[i][seq.IdxTU]
		best := seq.IdxA
		for b := seq.IdxA; b < seq.NumBases; b++ {
			if counts[i][b] > counts[i][best] {
				best = b
			}
		}
		for b := seq.IdxA; b < seq.NumBases; b++ {
			if b == best {
				continue
			}
			f.NMutations += counts[i][b]
			if purine(b) != purine(best) {
				f.NTransversions += counts[i][b]
			}
		}
	}
	return NewStats(name, uint32(len(seqs)), width, cols, pairs)
}
