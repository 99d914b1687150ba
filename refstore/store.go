// Package refstore implements the persistent reference database: a keyed
// store of aligned sequences together with alignment-wide data (width, helix
// pairing, per-filter column statistics).
package refstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"blainsmith.com/go/seahash"
	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	gunsafe "github.com/grailbio/base/unsafe"

	"github.com/grailbio/rnalign/seq"
)

const (
	versionHeader = "rnaligndb"
	version       = "RNALIGN_V1"

	// decoded sequences are cached in maps sharded by name hash
	nCacheShard = 64
)

// entry is one stored sequence: the compressed blob plus its attributes.
// The decoded form is materialized on first Get.
type entry struct {
	name  string
	blob  []byte
	attrs map[string]interface{}
}

// Compare orders entries by name for the llrb name index.
func (e *entry) Compare(c llrb.Comparable) int {
	return bytes.Compare([]byte(e.name), []byte(c.(*entry).name))
}

// Store is a reference database. All access is serialized by one exclusive
// lock; callers may hold returned sequences across calls but must not
// mutate them. Multiple stores on different paths are independent.
type Store struct {
	mu    sync.Mutex
	path  string
	dirty bool

	alignmentName string
	width         uint32
	pairs         []int
	stats         []*Stats

	names  []string // id order == insertion order
	byName llrb.Tree
	cache  [nCacheShard]map[string]*seq.CSeq

	errs []error
}

// storeHeader is gob-encoded into the recordio trailer.
type storeHeader struct {
	AlignmentName string
	Width         uint32
	Pairs         []int
	Stats         []statsRec
	Names         []string
}

type statsRec struct {
	Name  string
	NTaxa uint32
	Width uint32
	Cols  []Freqs
	Pairs []int
}

// rec is the gob encoding of one sequence record. Attribute values are
// split by type because gob cannot encode bare interface values.
type rec struct {
	Name    string
	Blob    []byte
	Strings map[string]string
	Ints    map[string]int
	Floats  map[string]float32
	Bools   map[string]bool
}

// Open opens a reference database, creating an empty one when the path does
// not exist. Empty paths are refused.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.E("refstore: empty database path")
	}
	s := &Store{path: path}
	for i := range s.cache {
		s.cache[i] = map[string]*seq.CSeq{}
	}
	in, err := file.Open(ctx, path)
	if err != nil {
		log.Printf("creating new reference database %s", path)
		return s, nil
	}
	err = s.read(ctx, in)
	if cerr := in.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.E(err, "refstore: reading", path)
	}
	return s, nil
}

func (s *Store) read(ctx context.Context, in file.File) error {
	recordiozstd.Init()
	sc := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	ok := false
	for _, kv := range sc.Header() {
		if v, isStr := kv.Value.(string); kv.Key == versionHeader && isStr && v == version {
			ok = true
		}
	}
	if !ok {
		return errors.E("not a reference database (missing version header)")
	}
	for sc.Scan() {
		var r rec
		if err := gob.NewDecoder(bytes.NewReader(sc.Get().([]byte))).Decode(&r); err != nil {
			return err
		}
		e := &entry{name: r.Name, blob: r.Blob, attrs: map[string]interface{}{}}
		for k, v := range r.Strings {
			e.attrs[k] = v
		}
		for k, v := range r.Ints {
			e.attrs[k] = v
		}
		for k, v := range r.Floats {
			e.attrs[k] = v
		}
		for k, v := range r.Bools {
			e.attrs[k] = v
		}
		s.byName.Insert(e)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	var hdr storeHeader
	if err := gob.NewDecoder(bytes.NewReader(sc.Trailer())).Decode(&hdr); err != nil {
		return errors.E(err, "decoding database trailer")
	}
	s.alignmentName = hdr.AlignmentName
	s.width = hdr.Width
	s.pairs = hdr.Pairs
	s.names = hdr.Names
	for _, sr := range hdr.Stats {
		s.stats = append(s.stats, NewStats(sr.Name, sr.NTaxa, sr.Width, sr.Cols, sr.Pairs))
	}
	return nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// AlignmentName returns the default alignment identifier.
func (s *Store) AlignmentName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alignmentName
}

// SetAlignmentName sets the default alignment identifier.
func (s *Store) SetAlignmentName(n string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alignmentName = n
	s.dirty = true
}

// Width returns the fixed alignment width.
func (s *Store) Width() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width
}

// SetWidth fixes the alignment width for new databases.
func (s *Store) SetWidth(w uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = w
	s.dirty = true
}

// Count returns the number of stored sequences.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// SequenceNames returns the names in id order. The returned slice is shared;
// callers must not modify it.
func (s *Store) SequenceNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names
}

func (s *Store) shard(name string) map[string]*seq.CSeq {
	h := seahash.Sum64(gunsafe.StringToBytes(name))
	return s.cache[h%nCacheShard]
}

func (s *Store) lookup(name string) *entry {
	c := s.byName.Get(&entry{name: name})
	if c == nil {
		return nil
	}
	return c.(*entry)
}

// Get returns the sequence with the given name. The store owns the returned
// object; its lifetime is that of the store and callers must treat it as
// read-only.
func (s *Store) Get(name string) (*seq.CSeq, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(name)
}

func (s *Store) getLocked(name string) (*seq.CSeq, error) {
	shard := s.shard(name)
	if c, ok := shard[name]; ok {
		return c, nil
	}
	e := s.lookup(name)
	if e == nil {
		return nil, errors.E(fmt.Sprintf("refstore: no sequence %q in %s", name, s.path))
	}
	c := &seq.CSeq{}
	c.SetName(name)
	if err := c.AssignFromCompressed(e.blob); err != nil {
		return nil, err
	}
	if c.Width() < s.width {
		if err := c.SetWidth(s.width); err != nil {
			return nil, err
		}
	}
	shard[name] = c
	return c, nil
}

// Put inserts or updates a sequence. A sequence without a name gets a
// synthetic one; new entries without an accession get a checksum-based one.
func (s *Store) Put(c *seq.CSeq) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Name() == "" {
		c.SetName(fmt.Sprintf("slv_%d", len(s.names)))
	}
	blob, err := c.Compress()
	if err != nil {
		s.errs = append(s.errs, err)
		log.Error.Printf("refstore: storing %s: %v", c.Name(), err)
		return err
	}
	e := s.lookup(c.Name())
	if e == nil {
		e = &entry{name: c.Name(), attrs: map[string]interface{}{}}
		s.byName.Insert(e)
		s.names = append(s.names, c.Name())
		if !c.HasAttr(FnAcc) {
			aligned := c.Aligned(true, false)
			c.SetAttr(FnAcc, fmt.Sprintf("CHK%016X",
				seahash.Sum64(gunsafe.StringToBytes(aligned))))
		}
		if !c.HasAttr(FnFullName) {
			c.SetAttr(FnFullName, c.Name())
		}
	}
	e.blob = blob
	for _, k := range c.AttrKeys() {
		e.attrs[k] = c.Attr(k)
	}
	delete(s.shard(c.Name()), c.Name())
	if c.Width() > s.width {
		s.width = c.Width()
	}
	s.dirty = true
	return nil
}

// LoadKey copies the named stored attribute onto the sequence. Missing
// attributes are left unset (reads as zero).
func (s *Store) LoadKey(c *seq.CSeq, key string) {
	if c.HasAttr(key) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.lookup(c.Name()); e != nil {
		if v, ok := e.attrs[key]; ok {
			c.SetAttr(key, v)
		}
	}
}

// StoreKey persists the sequence's named attribute.
func (s *Store) StoreKey(c *seq.CSeq, key string) {
	if !c.HasAttr(key) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.lookup(c.Name()); e != nil {
		e.attrs[key] = c.Attr(key)
		s.dirty = true
	}
}

// LoadCache decodes every stored sequence and attaches the listed fields.
// Returns the sequences in id order.
func (s *Store) LoadCache(fields ...string) ([]*seq.CSeq, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*seq.CSeq, 0, len(s.names))
	for _, name := range s.names {
		c, err := s.getLocked(name)
		if err != nil {
			return nil, err
		}
		e := s.lookup(name)
		for _, f := range fields {
			if v, ok := e.attrs[f]; ok && !c.HasAttr(f) {
				c.SetAttr(f, v)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// Stats returns the per-filter column statistics. Databases without
// precomputed filters get one filter computed from the alignment itself.
func (s *Store) Stats() []*Stats {
	s.mu.Lock()
	if len(s.stats) > 0 {
		defer s.mu.Unlock()
		return s.stats
	}
	s.mu.Unlock()

	seqs, err := s.LoadCache()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || len(seqs) == 0 {
		return nil
	}
	if len(s.stats) == 0 {
		s.stats = append(s.stats,
			ComputeStats(s.alignmentName, s.width, seqs, s.pairs))
	}
	return s.stats
}

// SetStats installs precomputed filter statistics.
func (s *Store) SetStats(stats []*Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
	s.dirty = true
}

// Pairs returns the helix pairing vector, all zeros when the database has
// none.
func (s *Store) Pairs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pairs) > 0 {
		return s.pairs
	}
	return make([]int, s.width)
}

// SetPairs installs the helix pairing vector.
func (s *Store) SetPairs(pairs []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = pairs
	s.dirty = true
}

// Save persists pending mutations to the database path.
func (s *Store) Save(ctx context.Context) error { return s.SaveAs(ctx, s.path, "rdb") }

// SaveAs writes the database to path in the given format ("rdb" native,
// "fasta" export). Errors are recorded and returned.
func (s *Store) SaveAs(ctx context.Context, path, format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	switch format {
	case "", "rdb":
		err = s.writeRDB(ctx, path)
	case "fasta":
		err = s.writeFASTA(ctx, path)
	default:
		err = errors.E(fmt.Sprintf("refstore: unknown save format %q", format))
	}
	if err != nil {
		s.errs = append(s.errs, err)
		log.Error.Printf("refstore: saving %s: %v", path, err)
		return err
	}
	if path == s.path {
		s.dirty = false
	}
	return nil
}

func (s *Store) writeRDB(ctx context.Context, path string) error {
	recordiozstd.Init()
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(versionHeader, version)
	w.AddHeader(recordio.KeyTrailer, true)
	for _, name := range s.names {
		e := s.lookup(name)
		r := rec{
			Name:    e.name,
			Blob:    e.blob,
			Strings: map[string]string{},
			Ints:    map[string]int{},
			Floats:  map[string]float32{},
			Bools:   map[string]bool{},
		}
		for k, v := range e.attrs {
			switch v := v.(type) {
			case string:
				r.Strings[k] = v
			case int:
				r.Ints[k] = v
			case float32:
				r.Floats[k] = v
			case bool:
				r.Bools[k] = v
			}
		}
		b := bytes.NewBuffer(nil)
		if err := gob.NewEncoder(b).Encode(r); err != nil {
			return err
		}
		w.Append(b.Bytes())
	}
	hdr := storeHeader{
		AlignmentName: s.alignmentName,
		Width:         s.width,
		Pairs:         s.pairs,
		Names:         s.names,
	}
	for _, st := range s.stats {
		hdr.Stats = append(hdr.Stats, statsRec{
			Name:  st.name,
			NTaxa: st.nTaxa,
			Width: st.width,
			Cols:  st.cols,
			Pairs: st.pairs,
		})
	}
	b := bytes.NewBuffer(nil)
	if err := gob.NewEncoder(b).Encode(hdr); err != nil {
		return err
	}
	w.SetTrailer(b.Bytes())
	once := errors.Once{}
	once.Set(w.Finish())
	once.Set(out.Close(ctx))
	return once.Err()
}

func (s *Store) writeFASTA(ctx context.Context, path string) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	w := out.Writer(ctx)
	once := errors.Once{}
	for _, name := range s.names {
		c, err := s.getLocked(name)
		if err != nil {
			once.Set(err)
			break
		}
		_, err = fmt.Fprintf(w, ">%s\n%s\n", name, c.Aligned(false, false))
		once.Set(err)
	}
	once.Set(out.Close(ctx))
	return once.Err()
}

// Errs returns the accumulated write errors.
func (s *Store) Errs() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// Close saves pending mutations and surfaces accumulated errors.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if dirty {
		if err := s.Save(ctx); err != nil {
			return err
		}
	}
	errs := s.Errs()
	if len(errs) > 0 {
		return errors.E(fmt.Sprintf("refstore: %d deferred errors, first: %v",
			len(errs), errs[0]))
	}
	return nil
}
