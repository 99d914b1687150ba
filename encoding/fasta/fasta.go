// Package fasta reads and writes FASTA files of (optionally aligned) rRNA
// sequences. Sequence names are the first word after '>'; the rest of the
// header line is preserved. Gap characters ('-', '.') are kept as alignment
// columns. A TSV sidecar can attach per-sequence attributes such as
// taxonomy paths.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/grailbio/rnalign/refstore"
	"github.com/grailbio/rnalign/seq"
)

// Reader streams sequences from FASTA-formatted input.
type Reader struct {
	sc       *bufio.Scanner
	next     string // pending header line
	cur      *seq.CSeq
	err      error
	n        int64
	nSkipped int64
}

// NewReader returns a reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	return &Reader{sc: sc}
}

// Scan advances to the next sequence. Sequences with bytes outside the
// IUPAC alphabet are logged, counted and skipped; Scan returns false only
// at end of input or on a stream error (check Err).
func (r *Reader) Scan() bool {
	for {
		if r.err != nil {
			return false
		}
		header := r.next
		r.next = ""
		for header == "" {
			if !r.sc.Scan() {
				r.err = r.sc.Err()
				return false
			}
			line := strings.TrimSpace(r.sc.Text())
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, ">") {
				r.err = errors.Errorf("malformed FASTA: expected '>', got %q", line)
				return false
			}
			header = line
		}

		var data strings.Builder
		for r.sc.Scan() {
			line := r.sc.Text()
			if strings.HasPrefix(line, ">") {
				r.next = strings.TrimSpace(line)
				break
			}
			data.WriteString(line)
		}
		if err := r.sc.Err(); err != nil {
			r.err = err
			return false
		}

		fields := strings.SplitN(strings.TrimPrefix(header, ">"), " ", 2)
		c, err := seq.NewCSeq(fields[0], data.String())
		if err != nil {
			log.Error.Printf("skipping sequence %q: %v", fields[0], err)
			r.nSkipped++
			continue
		}
		if len(fields) > 1 && fields[1] != "" {
			c.SetAttr(refstore.FnFullName, strings.TrimSpace(fields[1]))
		}
		r.n++
		r.cur = c
		return true
	}
}

// NSkipped returns the number of sequences dropped for invalid characters.
func (r *Reader) NSkipped() int64 { return r.nSkipped }

// Get returns the sequence read by the last successful Scan.
func (r *Reader) Get() *seq.CSeq { return r.cur }

// N returns the number of sequences read so far.
func (r *Reader) N() int64 { return r.n }

// Err returns the first error encountered, or nil at clean end of input.
func (r *Reader) Err() error { return r.err }

// WriterOpts configures output rendering.
type WriterOpts struct {
	// LineWidth wraps sequence lines; 0 writes one line per sequence.
	LineWidth int
	// NoDots renders leading/trailing gaps as '-' instead of '.'.
	NoDots bool
	// DNA renders U as T.
	DNA bool
	// Unaligned strips gaps entirely.
	Unaligned bool
}

// Writer emits sequences in FASTA format.
type Writer struct {
	w    io.Writer
	opts WriterOpts
	err  error
}

// NewWriter returns a writer on w.
func NewWriter(w io.Writer, opts WriterOpts) *Writer {
	return &Writer{w: w, opts: opts}
}

// Write emits one sequence, including its full_name header remainder when
// present.
func (w *Writer) Write(c *seq.CSeq) error {
	if w.err != nil {
		return w.err
	}
	header := ">" + c.Name()
	if fn := c.AttrString(refstore.FnFullName); fn != "" && fn != c.Name() {
		header += " " + fn
	}
	if _, err := io.WriteString(w.w, header+"\n"); err != nil {
		w.err = err
		return err
	}
	var data string
	if w.opts.Unaligned {
		data = c.Bases()
	} else {
		data = c.Aligned(w.opts.NoDots, w.opts.DNA)
	}
	if w.opts.LineWidth <= 0 {
		_, w.err = io.WriteString(w.w, data+"\n")
		return w.err
	}
	for len(data) > 0 {
		n := w.opts.LineWidth
		if n > len(data) {
			n = len(data)
		}
		if _, err := io.WriteString(w.w, data[:n]+"\n"); err != nil {
			w.err = err
			return err
		}
		data = data[n:]
	}
	return nil
}

// Err returns the first write error.
func (w *Writer) Err() error { return w.err }
