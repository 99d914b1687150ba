package kmeridx

import (
	"github.com/grailbio/base/log"

	"github.com/grailbio/rnalign/seq"
)

// Kmer is the 2-bit packed encoding of k consecutive unambiguous bases.
type Kmer uint32

// Kmerizer produces the k-mer stream of a base list with a rolling window.
// Ambiguous bases reset the window. Optional filters restrict the stream to
// k-mers carrying a fixed prefix and to the first occurrence of each value.
type Kmerizer struct {
	k    int
	mask Kmer
	val  Kmer
	good int

	// prefix filter; pLen == 0 disables it
	pMask, pVal Kmer

	// unique filter; nil disables it
	seen *Bitmap

	bases []seq.ABase
	next  int
}

// NewKmerizer returns a kmerizer for plain k-mer enumeration.
func NewKmerizer(k int) *Kmerizer {
	if k < 1 || 2*k > 32 {
		log.Panicf("unsupported kmer length %d", k)
	}
	return &Kmerizer{k: k, mask: Kmer(1)<<uint(2*k) - 1}
}

// WithPrefix restricts the stream to k-mers whose leading pLen bases equal
// pVal (a base index, e.g. seq.IdxA for prefix "A").
func (km *Kmerizer) WithPrefix(pLen int, pVal seq.BaseIndex) *Kmerizer {
	km.pMask = (Kmer(1)<<uint(2*pLen) - 1) << uint(2*(km.k-pLen))
	km.pVal = Kmer(pVal) << uint(2*(km.k-pLen))
	return km
}

// WithUnique restricts the stream to the first occurrence of each k-mer.
func (km *Kmerizer) WithUnique() *Kmerizer {
	km.seen = NewBitmap(uint32(1) << uint(2*km.k))
	return km
}

// Reset starts the stream over the given bases.
func (km *Kmerizer) Reset(bases []seq.ABase) {
	km.bases = bases
	km.next = 0
	km.good = 0
	km.val = 0
	if km.seen != nil {
		km.seen = NewBitmap(uint32(1) << uint(2*km.k))
	}
}

// Scan advances to the next k-mer passing all filters. It returns false when
// the stream is exhausted.
func (km *Kmerizer) Scan() bool {
	for km.next < len(km.bases) {
		b := km.bases[km.next].Base
		km.next++
		if b.IsAmbiguous() {
			km.good = 0
			continue
		}
		km.good++
		km.val = (km.val<<2 | Kmer(b.Index())) & km.mask
		if km.good < km.k {
			continue
		}
		if km.pMask != 0 && km.val&km.pMask != km.pVal {
			continue
		}
		if km.seen != nil {
			if km.seen.Get(uint32(km.val)) {
				continue
			}
			km.seen.Set(uint32(km.val))
		}
		return true
	}
	return false
}

// Get returns the current k-mer value.
func (km *Kmerizer) Get() Kmer { return km.val }
