// Package pipeline implements the per-sequence tray and the bounded
// data-flow pipeline that threads trays through the processing stages.
package pipeline

import (
	"bytes"
	"fmt"

	"github.com/grailbio/rnalign/refstore"
	"github.com/grailbio/rnalign/seq"
)

// FamilyMember is one scored reference selected for a query. The sequence
// is owned by the reference store.
type FamilyMember struct {
	Seq   *seq.CSeq
	Score float32
}

// SearchResult is one scored reference returned by the search stage.
type SearchResult struct {
	Seq   *seq.CSeq
	Score float32
}

// Tray is the per-query record handed between pipeline stages. A tray owns
// Input and Aligned; Family and SearchResult sequences are borrowed from
// the reference store.
type Tray struct {
	// SeqNo is the 1-based input sequence number; the sequencer restores
	// input order by it.
	SeqNo int64

	Input   *seq.CSeq
	Aligned *seq.CSeq

	Family       []FamilyMember
	SearchResult []SearchResult

	Stats *refstore.Stats

	// Log collects per-sequence diagnostics; the writer surfaces it.
	Log bytes.Buffer
}

// Logf appends a formatted message to the tray log.
func (t *Tray) Logf(format string, args ...interface{}) {
	fmt.Fprintf(&t.Log, format, args...)
}
