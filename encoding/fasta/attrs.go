package fasta

import (
	"io"

	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// AttrRow is one line of the per-sequence attribute sidecar that can
// accompany a reference FASTA on import: accession coordinates and the
// taxonomy path used for classification.
type AttrRow struct {
	Name    string `tsv:"name"`
	Acc     string `tsv:"acc"`
	Version string `tsv:"version"`
	Start   int    `tsv:"start"`
	Stop    int    `tsv:"stop"`
	Tax     string `tsv:"tax_slv"`
}

// ReadAttrTSV reads the sidecar, keyed by sequence name.
func ReadAttrTSV(r io.Reader) (map[string]AttrRow, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.ValidateHeader = true
	out := map[string]AttrRow{}
	for {
		var row AttrRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "attribute TSV")
		}
		out[row.Name] = row
	}
	return out, nil
}

// WriteAttrTSV writes the sidecar.
func WriteAttrTSV(w io.Writer, rows []AttrRow) error {
	tw := tsv.NewRowWriter(w)
	for i := range rows {
		if err := tw.Write(&rows[i]); err != nil {
			return err
		}
	}
	return tw.Flush()
}
