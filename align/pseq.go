package align

import (
	"fmt"

	"github.com/grailbio/rnalign/seq"
)

// PSeq is the profile template: each occupied column collapses to a base
// distribution with gap-open/gap-extend shares. The DP treats it as a
// linear chain. Column sampling follows the family's base positions: runs
// of columns where no family member has a base are skipped, except that
// column 0 is always included.
type PSeq struct {
	width   uint32
	columns []pseqColumn
}

type pseqColumn struct {
	pos     uint32
	profile Profile
}

// ambiguous bases contribute fractional points; 12 divides evenly by the
// possible ambiguity orders 1, 2, 3 and 4.
const profilePoints = 12

// NewPSeq builds the profile from a family of aligned sequences sharing one
// width.
func NewPSeq(family []*seq.CSeq) (*PSeq, error) {
	if len(family) == 0 {
		return nil, fmt.Errorf("pseq: empty family")
	}
	width := family[0].Width()
	for _, c := range family {
		if c.Width() != width {
			return nil, fmt.Errorf("pseq: sequence %s: width %d, expected %d",
				c.Name(), c.Width(), width)
		}
	}
	p := &PSeq{width: width}
	height := len(family)
	cursors := make([]int, height)
	gap := make([]bool, height)
	for i := range gap {
		gap[i] = true
	}

	col := uint32(0)
	for col < width {
		next := width
		var a, g, c, t int
		var gapOpen, gapExtend int
		for row := 0; row < height; row++ {
			bases := family[row].ABases()
			if cursors[row] < len(bases) && bases[cursors[row]].Pos == col {
				b := bases[cursors[row]].Base
				if order := b.Ambiguity(); order > 0 {
					points := profilePoints / order
					if b.HasA() {
						a += points
					}
					if b.HasG() {
						g += points
					}
					if b.HasC() {
						c += points
					}
					if b.HasTU() {
						t += points
					}
					gap[row] = false
				}
				cursors[row]++
			} else {
				if gap[row] {
					gapExtend++
				} else {
					gap[row] = true
					gapOpen++
				}
			}
			if cursors[row] < len(bases) && bases[cursors[row]].Pos < next {
				next = bases[cursors[row]].Pos
			}
		}

		sum := float32(a + g + c + t + gapOpen*profilePoints + gapExtend*profilePoints)
		var prof Profile
		if sum > 0 {
			prof.Bases[seq.IdxA] = float32(a) / sum
			prof.Bases[seq.IdxG] = float32(g) / sum
			prof.Bases[seq.IdxC] = float32(c) / sum
			prof.Bases[seq.IdxTU] = float32(t) / sum
			prof.GapOpen = float32(gapOpen*profilePoints) / sum
			prof.GapExtend = float32(gapExtend*profilePoints) / sum
		}
		p.columns = append(p.columns, pseqColumn{pos: col, profile: prof})
		if next <= col {
			break
		}
		col = next
	}
	if len(p.columns) == 0 {
		return nil, fmt.Errorf("pseq: family contains no bases")
	}
	return p, nil
}

func (p *PSeq) Size() int     { return len(p.columns) }
func (p *PSeq) Width() uint32 { return p.width }

func (p *PSeq) Column(i int32) Column {
	c := &p.columns[i]
	return Column{Pos: c.pos, Weight: 1, Profile: &c.profile}
}

func (p *PSeq) Prev(i int32) []int32 {
	if i == 0 {
		return nil
	}
	return []int32{i - 1}
}

func (p *PSeq) Next(i int32) []int32 {
	if int(i) == len(p.columns)-1 {
		return nil
	}
	return []int32{i + 1}
}

func (p *PSeq) Starts() []int32 { return []int32{0} }
func (p *PSeq) Ends() []int32   { return []int32{int32(len(p.columns) - 1)} }
