// Package search ranks reference candidates against an aligned query and
// derives classification data: nearest relatives and per-field
// lowest-common-ancestor taxonomy.
package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/minio/highwayhash"

	"github.com/grailbio/rnalign/kmeridx"
	"github.com/grailbio/rnalign/pipeline"
	"github.com/grailbio/rnalign/refstore"
	"github.com/grailbio/rnalign/seq"
)

// queries below this many bases are skipped with a log entry.
const minQueryLen = 20

// Opts configures the search stage.
type Opts struct {
	// SearchAll scans every cached reference instead of shortlisting via
	// the k-mer index.
	SearchAll bool
	// KmerCandidates is the shortlist size requested from the index.
	KmerCandidates int
	// MinSim drops results whose identity does not exceed this value.
	MinSim float32
	// MaxResult caps the result list.
	MaxResult int
	// IgnoreSuper drops references containing the query.
	IgnoreSuper bool
	// Comparator scores query/reference identity.
	Comparator seq.Comparator
	// LCAFields are the attribute names holding source taxonomy paths.
	LCAFields []string
	// LCAQuorum is the fraction of results that must share a
	// classification level.
	LCAQuorum float32
	// CopyFields are copied from each result onto the query.
	CopyFields []string
}

// DefaultOpts holds the stock search parameters.
var DefaultOpts = Opts{
	KmerCandidates: 1000,
	MinSim:         0.7,
	MaxResult:      10,
	LCAQuorum:      0.7,
	Comparator:     seq.NewComparator(seq.IUPACOptimistic, seq.DistNone, seq.CoverQuery, false),
}

// Search is the search-and-classify stage.
type Search struct {
	opts  Opts
	store *refstore.Store
	index *kmeridx.Index

	// exhaustive mode: all references, with duplicate alignments collapsed
	// so the comparator runs once per unique sequence
	cached [][]*seq.CSeq
}

// New creates the stage. index may be nil when opts.SearchAll is set.
func New(opts Opts, store *refstore.Store, index *kmeridx.Index) (*Search, error) {
	s := &Search{opts: opts, store: store, index: index}
	if opts.SearchAll {
		seqs, err := store.LoadCache()
		if err != nil {
			return nil, err
		}
		var key [32]byte
		groups := map[[highwayhash.Size]byte]int{}
		for _, c := range seqs {
			h := highwayhash.Sum([]byte(c.Aligned(true, false)), key[:])
			if gi, ok := groups[h]; ok {
				s.cached[gi] = append(s.cached[gi], c)
				continue
			}
			groups[h] = len(s.cached)
			s.cached = append(s.cached, []*seq.CSeq{c})
		}
		log.Printf("search: cached %d sequences (%d unique alignments)",
			len(seqs), len(s.cached))
	}
	return s, nil
}

type scored struct {
	seq   *seq.CSeq
	score float32
}

// Process implements pipeline.Stage.
func (s *Search) Process(t *pipeline.Tray) error {
	c := t.Aligned
	if c == nil {
		t.Logf("search: no sequence?!;")
		return nil
	}
	if c.Size() < minQueryLen {
		t.Logf("search: sequence too short (<%d bases);", minQueryLen)
		return nil
	}

	var results []scored
	if s.opts.SearchAll {
		results = s.scanAll(c)
	} else {
		results = s.scanIndex(c)
	}

	if s.opts.IgnoreSuper {
		kept := results[:0]
		for _, r := range results {
			if !containsAligned(r.seq, c) {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].seq.Name() < results[j].seq.Name()
	})
	if len(results) > s.opts.MaxResult {
		results = results[:s.opts.MaxResult]
	}
	for len(results) > 0 && results[len(results)-1].score <= s.opts.MinSim {
		results = results[:len(results)-1]
	}

	t.SearchResult = make([]pipeline.SearchResult, 0, len(results))
	for _, r := range results {
		t.SearchResult = append(t.SearchResult,
			pipeline.SearchResult{Seq: r.seq, Score: r.score})
	}

	s.annotate(c, results)
	return nil
}

// scanIndex shortlists candidates with the k-mer index, then rescores them
// with the configured comparator.
func (s *Search) scanIndex(c *seq.CSeq) []scored {
	hits := s.index.Find(c, s.opts.KmerCandidates)
	results := make([]scored, 0, len(hits))
	for _, h := range hits {
		r, err := s.store.Get(h.Name)
		if err != nil {
			log.Error.Printf("search: reference %s: %v", h.Name, err)
			continue
		}
		results = append(results, scored{seq: r, score: s.opts.Comparator.Compare(c, r)})
	}
	return results
}

// scanAll compares the query against every unique cached alignment and fans
// the score out to the duplicates.
func (s *Search) scanAll(c *seq.CSeq) []scored {
	var results []scored
	for _, group := range s.cached {
		score := s.opts.Comparator.Compare(c, group[0])
		for _, r := range group {
			results = append(results, scored{seq: r, score: score})
		}
	}
	return results
}

// containsAligned reports whether the reference's bases contain the query's
// bases as a contiguous run under optimistic IUPAC comparison. Column
// positions are not compared.
func containsAligned(ref, query *seq.CSeq) bool {
	rb, qb := ref.ABases(), query.ABases()
	if len(qb) == 0 || len(rb) < len(qb) {
		return false
	}
	for off := 0; off+len(qb) <= len(rb); off++ {
		ok := true
		for i := range qb {
			if !rb[off+i].Base.Comp(qb[i].Base) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// annotate writes the nearest-relative list, per-field LCA classification
// and copied fields onto the query.
func (s *Search) annotate(c *seq.CSeq, results []scored) {
	var nearest strings.Builder
	groupNames := map[string][][]string{}
	for _, r := range results {
		ref := r.seq
		for _, key := range []string{refstore.FnAcc, refstore.FnVersion,
			refstore.FnStart, refstore.FnStop} {
			s.store.LoadKey(ref, key)
		}
		for _, field := range s.opts.LCAFields {
			s.store.LoadKey(ref, field)
			taxPath := ref.AttrString(field)
			if taxPath == "Unclassified;" {
				continue
			}
			names := strings.Split(taxPath, ";")
			for len(names) > 0 {
				lastName := strings.TrimSpace(names[len(names)-1])
				if lastName != "" {
					break
				}
				names = names[:len(names)-1]
			}
			groupNames[field] = append(groupNames[field], names)
		}
		fmt.Fprintf(&nearest, "%s.%s.%s.%s~%.3f ",
			ref.AttrString(refstore.FnAcc), ref.AttrString(refstore.FnVersion),
			ref.AttrString(refstore.FnStart), ref.AttrString(refstore.FnStop),
			r.score)

		acc := ref.AttrString(refstore.FnAcc)
		for _, field := range s.opts.CopyFields {
			s.store.LoadKey(ref, field)
			c.SetAttr("copy_"+acc+"_"+field, ref.AttrString(field))
		}
	}
	c.SetAttr(refstore.FnNearest, nearest.String())

	for _, field := range s.opts.LCAFields {
		c.SetAttr("lca_"+field, s.lca(groupNames[field], len(results)))
	}
}

// lca walks the taxonomy paths level by level from the root and keeps a
// name as long as the quorum of results agrees, tolerating the configured
// share of outliers.
func (s *Search) lca(paths [][]string, nResults int) string {
	// reverse each path so the root ends up last and can be popped cheaply
	work := make([][]string, len(paths))
	for i, p := range paths {
		r := make([]string, len(p))
		for j, name := range p {
			r[len(p)-1-j] = name
		}
		work[i] = r
	}

	var result strings.Builder
	outliers := int(float32(nResults) * (1 - s.opts.LCAQuorum))
	for outliers >= 0 && len(work) > 0 {
		if len(work[0]) == 0 {
			work = work[1:]
			outliers--
			continue
		}
		name := work[0][len(work[0])-1]
		differs := -1
		for i := 1; i < len(work); i++ {
			if len(work[i]) == 0 || work[i][len(work[i])-1] != name {
				differs = i
				break
			}
		}
		if differs >= 0 {
			work = append(work[:differs], work[differs+1:]...)
			outliers--
			continue
		}
		for i := range work {
			work[i] = work[i][:len(work[i])-1]
		}
		result.WriteString(name)
		result.WriteString(";")
	}
	res := result.String()
	if res == "" || res == ";" {
		return "Unclassified;"
	}
	return res
}
