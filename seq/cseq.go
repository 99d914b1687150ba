package seq

import (
	"fmt"
	"io"

	"github.com/grailbio/base/log"
)

// ABase is one aligned base: an alignment column index paired with an IUPAC
// code.
type ABase struct {
	Pos  uint32
	Base Base
}

// CSeq is a compressed aligned sequence. Instead of storing gap characters,
// every base carries its alignment column; the column count (width) bounds
// the positions. The base list is kept sorted by position; equal positions
// may occur transiently during alignment and are resolved by
// FixDuplicatePositions.
type CSeq struct {
	name  string
	bases []ABase
	width uint32

	// Score carries the alignment score assigned by the aligner stage.
	Score float32

	attrs map[string]interface{}
}

// NewCSeq creates a sequence from FASTA-style data. Gap characters in data
// advance the column cursor without storing a base.
func NewCSeq(name, data string) (*CSeq, error) {
	c := &CSeq{name: name}
	if data != "" {
		if err := c.Append(data); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Name returns the sequence name.
func (c *CSeq) Name() string { return c.name }

// SetName sets the sequence name.
func (c *CSeq) SetName(n string) { c.name = n }

// Size returns the number of stored bases.
func (c *CSeq) Size() int { return len(c.bases) }

// Width returns the number of alignment columns.
func (c *CSeq) Width() uint32 { return c.width }

// ABases returns the aligned base list. Callers must not modify it.
func (c *CSeq) ABases() []ABase { return c.bases }

// ByID returns the i'th stored base.
func (c *CSeq) ByID(i int) ABase { return c.bases[i] }

// ClearSequence drops all bases and resets the width, keeping name and
// attributes.
func (c *CSeq) ClearSequence() {
	c.bases = c.bases[:0]
	c.width = 0
}

// Append adds FASTA-style data at the current end of the alignment. Gap
// characters ('-', '.') advance the column cursor; whitespace is skipped;
// any other non-IUPAC byte fails with a BadCharError.
func (c *CSeq) Append(data string) error {
	for i := 0; i < len(data); i++ {
		ch := data[i]
		switch ch {
		case ' ', '\t', '\n', '\r':
			continue
		case '-', '.':
			c.width++
			continue
		}
		b, err := ParseBase(ch)
		if err != nil {
			return err
		}
		c.bases = append(c.bases, ABase{c.width, b})
		c.width++
	}
	return nil
}

// AppendABase adds a base at an explicit column. The column must not precede
// the last base; appending at the same column is allowed and left for
// FixDuplicatePositions to resolve. A position before the current width is a
// programmer error: it is logged and the base is placed at the width instead.
func (c *CSeq) AppendABase(ab ABase) {
	if ab.Pos >= c.width || len(c.bases) == 0 {
		c.bases = append(c.bases, ab)
		c.width = ab.Pos
		return
	}
	log.Error.Printf("%s: appended base %v out of order (%d < %d)",
		c.name, ab.Base, ab.Pos, c.width)
	c.bases = append(c.bases, ABase{c.width, ab.Base})
}

// SetWidth sets the column count. Growing (or shrinking within the trailing
// gap region) only adjusts the width. Shrinking below the base count is an
// invariant violation. Otherwise the smallest possible tail of bases is
// shifted left so that every base fits in a column < w.
func (c *CSeq) SetWidth(w uint32) error {
	if len(c.bases) == 0 || w >= c.bases[len(c.bases)-1].Pos+1 {
		c.width = w
		return nil
	}
	n := len(c.bases)
	if w < uint32(n) {
		return fmt.Errorf("%s: cannot shrink alignment width to %d with %d bases",
			c.name, w, n)
	}
	// Find the number of bases from the right for which
	// position + following-base-count no longer exceeds the new width.
	skip := 0
	for ; skip < n; skip++ {
		if c.bases[n-skip-1].Pos+uint32(skip) < w {
			break
		}
	}
	for i := skip; i > 0; i-- {
		c.bases[n-i].Pos = w - uint32(i)
	}
	c.width = w
	return nil
}

// Reverse mirrors the sequence: base order and positions are flipped around
// the alignment center.
func (c *CSeq) Reverse() {
	for i, j := 0, len(c.bases)-1; i < j; i, j = i+1, j-1 {
		c.bases[i], c.bases[j] = c.bases[j], c.bases[i]
	}
	last := c.width - 1
	for i := range c.bases {
		c.bases[i].Pos = last - c.bases[i].Pos
	}
}

// Complement complements every base in place, preserving case.
func (c *CSeq) Complement() {
	for i := range c.bases {
		c.bases[i].Base = c.bases[i].Base.Complement()
	}
}

// UpperCaseAll clears the case flag on every base.
func (c *CSeq) UpperCaseAll() {
	for i := range c.bases {
		c.bases[i].Base = c.bases[i].Base.ToUpper()
	}
}

// Bases returns the unaligned base string in RNA rendering.
func (c *CSeq) Bases() string {
	out := make([]byte, len(c.bases))
	for i, ab := range c.bases {
		out[i] = ab.Base.RNA()
	}
	return string(out)
}

// Aligned renders the sequence with explicit gaps. Leading and trailing gap
// regions use '.' unless nodots is set; dna selects DNA rendering.
func (c *CSeq) Aligned(nodots, dna bool) string {
	out := make([]byte, 0, c.width)
	dot := byte('.')
	if nodots {
		dot = '-'
	}
	cursor := uint32(0)
	for _, ab := range c.bases {
		for ; cursor < ab.Pos; cursor++ {
			out = append(out, dot)
		}
		dot = '-' // only the first gap run renders as dots
		if dna {
			out = append(out, ab.Base.DNA())
		} else {
			out = append(out, ab.Base.RNA())
		}
		cursor = ab.Pos + 1
	}
	if cursor < c.width {
		if !nodots {
			dot = '.'
		}
		for ; cursor < c.width; cursor++ {
			out = append(out, dot)
		}
	}
	return string(out)
}

// At returns the rendered base at the given column, or '-' for a gap.
func (c *CSeq) At(col uint32) byte {
	i := c.searchPos(col)
	if i < len(c.bases) && c.bases[i].Pos == col {
		return c.bases[i].Base.RNA()
	}
	return '-'
}

// searchPos returns the index of the first base at or after col.
func (c *CSeq) searchPos(col uint32) int {
	lo, hi := 0, len(c.bases)
	for lo < hi {
		mid := (lo + hi) / 2
		if c.bases[mid].Pos < col {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// SetABases replaces the base list. Used by the alignment-copy fast path.
func (c *CSeq) SetABases(bases []ABase) {
	c.bases = append(c.bases[:0], bases...)
}

// FixDuplicatePositions resolves runs of bases sharing one column, created
// by insertions during alignment. Each run is spread over the enclosing free
// column range; if the range is too small, neighboring bases are shifted
// into the closest free gap runs on either side. lowercase marks every moved
// base. With remove set, every base that shares its column with the
// preceding base is dropped instead, and the count is noted in the log.
// Fails only when the sequence no longer fits the alignment at all.
func (c *CSeq) FixDuplicatePositions(w io.Writer, lowercase, remove bool) error {
	if remove {
		kept, removed := c.bases[:0], 0
		for i, ab := range c.bases {
			if i > 0 && ab.Pos == kept[len(kept)-1].Pos {
				removed++
				continue
			}
			kept = append(kept, ab)
		}
		c.bases = kept
		fmt.Fprintf(w, "removed %d inserted bases; ", removed)
		return nil
	}
	if len(c.bases) < 2 {
		return nil
	}
	totalInserts, longestInsert, origInserts := 0, 0, 0

	last := 0 // index of last base known to sit alone in its column
	lastIdx := c.bases[last].Pos
	for curr := 1; curr < len(c.bases); curr++ {
		currIdx := c.bases[curr].Pos
		if lastIdx == currIdx {
			if curr+1 != len(c.bases) {
				continue
			}
			curr++ // run reaches the end of the sequence
		}
		numInserts := curr - last - 1
		if numInserts == 0 {
			last = curr
			lastIdx = currIdx
			continue
		}

		// Range of free columns the run may occupy: (pos of last, pos of curr).
		rangeBegin := c.bases[last].Pos + 1
		rangeEnd := c.width
		if curr < len(c.bases) {
			rangeEnd = c.bases[curr].Pos
		}
		last++ // first base to be repositioned
		curr-- // last base to be repositioned

		origInserts = numInserts
		if int(rangeEnd-rangeBegin) < numInserts {
			fmt.Fprintf(w, "shifting bases to fit in %d bases at pos %d to %d;",
				numInserts, rangeBegin, rangeEnd)
			for int(rangeEnd-rangeBegin) < numInserts {
				nextLeftGap, leftBase := c.nextFreeLeft(last, rangeBegin)
				nextRightGap, rightBase := c.nextFreeRight(curr, rangeEnd)
				if nextRightGap < 0 ||
					(nextLeftGap >= 0 &&
						int(rangeBegin)-nextLeftGap <= nextRightGap-int(rangeEnd-1)) {
					if nextLeftGap < 0 {
						return fmt.Errorf(
							"%s: no space left or right, sequence longer than alignment",
							c.name)
					}
					numInserts += last - leftBase
					rangeBegin = uint32(nextLeftGap)
					last = leftBase
				} else {
					numInserts += rightBase - curr
					rangeEnd = uint32(nextRightGap) + 1
					curr = rightBase
				}
			}
		} else {
			rangeBegin = rangeEnd - uint32(numInserts)
		}
		curr++ // first base not repositioned

		for ; last != curr; last++ {
			c.bases[last].Pos = rangeBegin
			rangeBegin++
			if lowercase {
				c.bases[last].Base = c.bases[last].Base.ToLower()
			}
		}

		totalInserts += numInserts
		if numInserts > longestInsert {
			longestInsert = numInserts
		}
		last = curr
		if curr < len(c.bases) {
			lastIdx = c.bases[curr].Pos
		}
	}
	if totalInserts > 0 {
		fmt.Fprintf(w, "total inserted bases=%d;longest insertion=%d;"+
			"total inserted bases before shifting=%d;",
			totalInserts, longestInsert, origInserts)
	}
	return nil
}

// nextFreeLeft locates the first free column left of rangeBegin and the
// index of the base whose position follows it. Returns gap -1 when no free
// column exists.
func (c *CSeq) nextFreeLeft(first int, rangeBegin uint32) (gap, base int) {
	left := first
	if left == 0 {
		if rangeBegin > 0 {
			return int(rangeBegin) - 1, left
		}
		return -1, left
	}
	if c.bases[left-1].Pos+1 < rangeBegin {
		return int(rangeBegin) - 1, left
	}
	left--
	for left != 0 && c.bases[left-1].Pos+1 >= c.bases[left].Pos {
		left--
	}
	return int(c.bases[left].Pos) - 1, left
}

// nextFreeRight locates the first free column at or right of rangeEnd and
// the index of the base preceding it. Returns gap -1 when no free column
// exists.
func (c *CSeq) nextFreeRight(last int, rangeEnd uint32) (gap, base int) {
	right := last
	if right+1 == len(c.bases) {
		if rangeEnd < c.width {
			return int(rangeEnd), right
		}
		return -1, right
	}
	if c.bases[right+1].Pos > rangeEnd {
		return int(rangeEnd), right
	}
	right++
	for right+1 != len(c.bases) && c.bases[right].Pos+1 >= c.bases[right+1].Pos {
		right++
	}
	return int(c.bases[right].Pos) + 1, right
}

// DifferingPart is a column range [Begin, End] in which two alignments of
// the same sequence disagree.
type DifferingPart struct {
	Begin, End uint32
}

// FindDifferingParts compares two aligned sequences and returns the column
// ranges where they differ in base or gap structure, padded by a small
// context.
func (c *CSeq) FindDifferingParts(other *CSeq) []DifferingPart {
	var result []DifferingPart
	l, lEnd := 0, len(c.bases)
	r, rEnd := 0, len(other.bases)
	if lEnd == 0 || rEnd == 0 {
		return nil
	}
	score := 0
	bad := false
	var start uint32

	lpos := c.bases[l].Pos
	rpos := other.bases[r].Pos
	for l != lEnd && r != rEnd {
		if lpos < rpos {
			score = 4
			l++
		} else if rpos < lpos {
			score = 4
			r++
		} else {
			if c.bases[l].Base.RNA() != other.bases[r].Base.RNA() {
				score = 4
			}
			l++
			r++
		}
		if l != lEnd {
			lpos = c.bases[l].Pos
		}
		if r != rEnd {
			rpos = other.bases[r].Pos
		}
		if score > 0 {
			if !bad {
				ctx := r - 2
				if ctx < 0 {
					ctx = 0
				}
				start = minU32(lpos, other.bases[ctx].Pos)
				bad = true
			} else {
				score--
				if score <= 0 && lpos == rpos {
					result = append(result, DifferingPart{start, lpos})
					bad = false
				}
			}
		}
	}
	if bad {
		result = append(result, DifferingPart{start, minU32(lpos, rpos)})
	}
	return result
}

// CalcPairScore sums the helix pair values over all paired columns where
// this sequence has at least one base, normalized by the number of such
// columns. pairs[i] holds the partner column of column i, or 0 for unpaired
// columns.
func (c *CSeq) CalcPairScore(pairs []int) float32 {
	var score float32
	num := 0
	for i, p := range pairs {
		if p == 0 {
			continue
		}
		left := c.At(uint32(i))
		right := c.At(uint32(p))
		if left == '.' || right == '.' || (left == '-' && right == '-') {
			continue
		}
		num++
		score += PairScore(left, right)
	}
	if num == 0 {
		return 0
	}
	return score / float32(num)
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
