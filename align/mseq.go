package align

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/log"

	"github.com/grailbio/rnalign/seq"
)

// MSeq is the partial-order reference graph built from a family of aligned
// sequences sharing one width. Each node is a (column, base) pair; bases of
// different family members falling on the same column with the same code
// collapse into one node. Node ids are assigned in column order, so they
// are topologically sorted.
type MSeq struct {
	nodes  []mseqNode
	prev   [][]int32
	next   [][]int32
	starts []int32
	ends   []int32
	width  uint32
}

type mseqNode struct {
	ab     seq.ABase
	weight float32
}

// NewMSeq builds the graph from the family. familyWeight scales how
// strongly the observed base frequency enters a node's weight:
// w = 1/(familyWeight+1) + familyWeight * count/F.
func NewMSeq(family []*seq.CSeq, familyWeight float32) (*MSeq, error) {
	if len(family) == 0 {
		return nil, fmt.Errorf("mseq: empty family")
	}
	width := family[0].Width()
	for i, c := range family {
		if c.Width() != width {
			return nil, fmt.Errorf(
				"mseq: sequence %s (%d/%d): width %d, expected %d",
				c.Name(), i, len(family), c.Width(), width)
		}
	}
	m := &MSeq{width: width}
	numSeqs := len(family)

	// per-sequence cursors and the last node placed for each sequence
	cursors := make([]int, numSeqs)
	last := make([]int32, numSeqs)
	for i := range last {
		last[i] = -1
	}
	// per-column node registry keyed on the 5-bit base code
	var nodes [32]int32

	link := func(a, b int32) {
		m.prev[b] = append(m.prev[b], a)
		m.next[a] = append(m.next[a], b)
	}

	minNext := uint32(0)
	for col := uint32(0); col < width; col++ {
		if minNext > col {
			continue
		}
		minNext = ^uint32(0)
		for i := range nodes {
			nodes[i] = -1
		}
		for j := 0; j < numSeqs; j++ {
			bases := family[j].ABases()
			if cursors[j] < len(bases) && bases[cursors[j]].Pos == col {
				ab := bases[cursors[j]]
				code := ab.Base & 31
				id := nodes[code]
				if id < 0 {
					id = int32(len(m.nodes))
					m.nodes = append(m.nodes, mseqNode{ab: ab, weight: 1})
					m.prev = append(m.prev, nil)
					m.next = append(m.next, nil)
					nodes[code] = id
				} else {
					m.nodes[id].weight++
				}
				if last[j] >= 0 {
					link(last[j], id)
				}
				last[j] = id
				cursors[j]++
			}
		}
		for j := 0; j < numSeqs; j++ {
			bases := family[j].ABases()
			if cursors[j] < len(bases) && bases[cursors[j]].Pos < minNext {
				minNext = bases[cursors[j]].Pos
			}
		}
		for _, id := range nodes {
			if id >= 0 {
				n := &m.nodes[id]
				n.weight = 1/(familyWeight+1) +
					familyWeight*(n.weight/float32(numSeqs))
			}
		}
	}

	m.reduceEdges()
	for i := range m.nodes {
		if len(m.prev[i]) == 0 {
			m.starts = append(m.starts, int32(i))
		}
		if len(m.next[i]) == 0 {
			m.ends = append(m.ends, int32(i))
		}
	}
	if len(m.nodes) == 0 {
		return nil, fmt.Errorf("mseq: family contains no bases")
	}
	log.Debug.Printf("mseq: %d nodes from %d sequences", len(m.nodes), numSeqs)
	return m, nil
}

// reduceEdges sorts and deduplicates every node's edge lists.
func (m *MSeq) reduceEdges() {
	dedup := func(edges []int32) []int32 {
		if len(edges) < 2 {
			return edges
		}
		sort.Slice(edges, func(a, b int) bool { return edges[a] < edges[b] })
		out := edges[:1]
		for _, e := range edges[1:] {
			if e != out[len(out)-1] {
				out = append(out, e)
			}
		}
		return out
	}
	for i := range m.prev {
		m.prev[i] = dedup(m.prev[i])
		m.next[i] = dedup(m.next[i])
	}
}

func (m *MSeq) Size() int     { return len(m.nodes) }
func (m *MSeq) Width() uint32 { return m.width }

func (m *MSeq) Column(i int32) Column {
	n := m.nodes[i]
	return Column{Pos: n.ab.Pos, Weight: n.weight, Base: n.ab.Base}
}

func (m *MSeq) Prev(i int32) []int32 { return m.prev[i] }
func (m *MSeq) Next(i int32) []int32 { return m.next[i] }
func (m *MSeq) Starts() []int32      { return m.starts }
func (m *MSeq) Ends() []int32        { return m.ends }
