package align

import (
	"github.com/grailbio/rnalign/seq"
)

// The mesh is the 2-D DP table over (template node, query base). Unlike a
// classic alignment matrix the master axis is a DAG: a cell's deletion and
// match transitions come from every predecessor node, so the table is only
// meaningful together with the template's edge lists.

const (
	// cells on the virtual source row/column start at 1 so overhang
	// traversal stays cheap; interior cells start effectively unreachable.
	edgeInit = float32(1)
	bigInit  = float32(1000000)
)

type cell struct {
	value   float32
	gapMVal float32
	gapSVal float32

	valueMidx int32 // predecessor template node of the best path
	valueSidx int32 // predecessor query base of the best path
	gapMIdx   int32 // origin node of an open gap in the query
	gapSIdx   int32 // origin base of an open gap in the template
	gapSMax   int32 // remaining free insertions (insertion-limited mode)
}

func (c *cell) init(edge bool) {
	v := bigInit
	if edge {
		v = edgeInit
	}
	c.value, c.gapMVal, c.gapSVal = v, v, v
	c.valueMidx, c.valueSidx, c.gapMIdx, c.gapSIdx = 0, 0, 0, 0
	c.gapSMax = 0
}

// Mesh holds the filled DP table for one (template, query) pair.
type Mesh struct {
	tpl     Template
	query   *seq.CSeq
	scorer  Scorer
	limited bool // bound insertion runs by the free column distance
	cells   []cell
	qLen    int
}

// NewMesh allocates and computes the table. limited selects the
// insertion-limited transition used by the forbid insertion policy.
func NewMesh(tpl Template, query *seq.CSeq, scorer Scorer, limited bool) *Mesh {
	m := &Mesh{
		tpl:     tpl,
		query:   query,
		scorer:  scorer,
		limited: limited,
		cells:   make([]cell, tpl.Size()*query.Size()),
		qLen:    query.Size(),
	}
	m.compute()
	return m
}

func (m *Mesh) at(mi, si int32) *cell { return &m.cells[int(mi)*m.qLen+int(si)] }

// deletion considers advancing the template while the query stays, opening
// or extending a gap in the query.
func (m *Mesh) deletion(src *cell, d *cell, col Column, qb seq.Base, midx, sidx int32) {
	value := m.scorer.Deletion(src.value, col, qb)
	gapVal := m.scorer.DeletionExt(src.gapMVal, col, qb, 0)

	if value < gapVal {
		d.gapMVal = value
		d.gapMIdx = midx
	} else {
		d.gapMVal = gapVal
		d.gapMIdx = src.gapMIdx
		value = gapVal
		midx = src.gapMIdx
	}
	if value < d.value {
		d.value = value
		d.valueMidx = midx
		d.valueSidx = sidx
	}
}

// insertion considers advancing the query while the template stays, opening
// or extending a gap in the master. In limited mode successive insertions
// are bounded by the free column distance to the next template node.
func (m *Mesh) insertion(src *cell, d *cell, col Column, qb seq.Base, midx, sidx, smax int32) {
	if m.limited {
		if smax < 1 {
			return
		}
		if src.gapSVal != src.value {
			d.gapSVal = m.scorer.Insertion(src.value, col, qb)
			d.gapSIdx = sidx
			d.gapSMax = smax - 1
		} else if src.gapSMax > 0 {
			d.gapSVal = m.scorer.InsertionExt(src.gapSVal, col, qb, sidx-src.gapSIdx)
			d.gapSIdx = src.gapSIdx
			d.gapSMax = src.gapSMax - 1
		} else {
			return
		}
	} else {
		if src.gapSVal != src.value {
			d.gapSVal = m.scorer.Insertion(src.value, col, qb)
			d.gapSIdx = sidx
		} else {
			d.gapSVal = m.scorer.InsertionExt(src.gapSVal, col, qb, sidx-src.gapSIdx)
			d.gapSIdx = src.gapSIdx
		}
	}
	if d.gapSVal <= d.value {
		d.value = d.gapSVal
		d.valueSidx = d.gapSIdx
		d.valueMidx = midx
	}
}

// match considers consuming one template node and one query base.
func (m *Mesh) match(src *cell, d *cell, col Column, qb seq.Base, midx, sidx int32) {
	value := m.scorer.Match(src.value, col, qb)
	if value < d.value {
		d.value = value
		d.valueMidx = midx
		d.valueSidx = sidx
	}
}

// compute fills the table in node id order (topological) by query base.
func (m *Mesh) compute() {
	qBases := m.query.ABases()
	for mi := int32(0); mi < int32(m.tpl.Size()); mi++ {
		col := m.tpl.Column(mi)
		prevs := m.tpl.Prev(mi)

		maxInsert := int32(bigInit)
		if m.limited {
			minNext := uint32(bigInit)
			for _, ni := range m.tpl.Next(mi) {
				if p := m.tpl.Column(ni).Pos; p < minNext {
					minNext = p
				}
			}
			maxInsert = int32(minNext) - int32(col.Pos) - 1
		}

		for si := int32(0); si < int32(m.qLen); si++ {
			qb := qBases[si].Base
			var d cell
			d.init(len(prevs) == 0 || si == 0)

			for _, mp := range prevs {
				m.deletion(m.at(mp, si), &d, col, qb, mp, si)
			}
			if si > 0 {
				m.insertion(m.at(mi, si-1), &d, col, qb, mi, si-1, maxInsert)
				for _, mp := range prevs {
					m.match(m.at(mp, si-1), &d, col, qb, mp, si-1)
				}
			}
			*m.at(mi, si) = d
		}
	}
}
