package kmeridx

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"sort"
	"sync"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"

	"github.com/grailbio/rnalign/seq"
)

// SequenceSource provides the reference sequences an index is built over.
// The index borrows sequences by name and must not outlive the source.
type SequenceSource interface {
	// Path returns the on-disk location of the reference database; the index
	// file is stored next to it.
	Path() string
	// SequenceNames returns all reference names in id order.
	SequenceNames() []string
	// Get returns the reference with the given name.
	Get(name string) (*seq.CSeq, error)
}

// Hit is one scored reference returned by Find.
type Hit struct {
	ID    int
	Name  string
	Score float32
}

// Index is the k-mer to reference-id map. It is read-only after Build or
// Load and may be shared freely between goroutines.
type Index struct {
	k       int
	n       uint32
	names   []string
	buckets []*VLIMap // len 4^k; nil marks an empty bucket
	fast    bool      // restrict matching to the A-prefix k-mer subset

	src SequenceSource
}

const (
	idxMagic   = "SINAKIDX"
	idxVersion = uint16(0)
	idxExt     = ".sidx"

	// build parallelism: per-kmer accumulation is sharded by farm hash so
	// writers rarely contend.
	nBuildShard = 256
)

var (
	registryMu sync.Mutex
	registry   = map[registryKey]*Index{}
)

type registryKey struct {
	path string
	k    int
}

// Get returns the shared index for (source, k), loading the on-disk index
// when it is current and rebuilding (and persisting) it otherwise. A rebuild
// failure is fatal for the run.
func Get(src SequenceSource, k int, fast bool) *Index {
	key := registryKey{src.Path(), k}
	registryMu.Lock()
	defer registryMu.Unlock()
	if idx, ok := registry[key]; ok {
		return idx
	}
	idx := open(src, k, fast)
	registry[key] = idx
	return idx
}

// Release drops the shared index for (source, k).
func Release(src SequenceSource, k int) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, registryKey{src.Path(), k})
}

func open(src SequenceSource, k int, fast bool) *Index {
	idx := &Index{
		k:       k,
		buckets: make([]*VLIMap, 1<<uint(2*k)),
		fast:    fast,
		src:     src,
	}
	dbPath := src.Path()
	idxPath := dbPath + idxExt
	dbInfo, dbErr := os.Stat(dbPath)
	idxInfo, idxErr := os.Stat(idxPath)
	if dbErr == nil && idxErr == nil && !idxInfo.ModTime().Before(dbInfo.ModTime()) {
		if err := idx.load(idxPath); err == nil {
			return idx
		} else {
			log.Error.Printf("failed to load %s: %v - rebuilding", idxPath, err)
		}
	}
	if err := idx.build(); err != nil {
		log.Panicf("building index for %s: %v", dbPath, err)
	}
	if err := idx.store(idxPath); err != nil {
		log.Panicf("writing index %s: %v", idxPath, err)
	}
	return idx
}

// Size returns the number of indexed references.
func (idx *Index) Size() int { return int(idx.n) }

// K returns the k-mer length.
func (idx *Index) K() int { return idx.k }

// Names returns the reference names in id order.
func (idx *Index) Names() []string { return idx.names }

// build enumerates the unique A-prefix k-mers of every reference and
// accumulates the posting lists, in parallel over the references.
func (idx *Index) build() error {
	idx.buckets = make([]*VLIMap, 1<<uint(2*idx.k))
	idx.names = idx.src.SequenceNames()
	idx.n = uint32(len(idx.names))

	type shard struct {
		mu    sync.Mutex
		kmers map[Kmer][]uint32
	}
	shards := make([]shard, nBuildShard)
	for i := range shards {
		shards[i].kmers = map[Kmer][]uint32{}
	}
	register := func(id uint32, k Kmer) {
		s := &shards[farm.Hash64WithSeed(nil, uint64(k))%nBuildShard]
		s.mu.Lock()
		s.kmers[k] = append(s.kmers[k], id)
		s.mu.Unlock()
	}

	err := traverse.Each(len(idx.names), func(i int) error {
		c, err := idx.src.Get(idx.names[i])
		if err != nil {
			return err
		}
		km := NewKmerizer(idx.k).WithPrefix(1, seq.IdxA).WithUnique()
		km.Reset(c.ABases())
		for km.Scan() {
			register(uint32(i), km.Get())
		}
		return nil
	})
	if err != nil {
		return err
	}

	total := 0
	for si := range shards {
		for k, ids := range shards[si].kmers {
			sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
			m := NewVLIMap(idx.n)
			for _, id := range ids {
				m.PushBack(id)
			}
			if m.Count() > int(idx.n)/2 {
				m.Invert()
			}
			idx.buckets[k] = m
			total += m.Count()
		}
	}
	log.Printf("built index from %d sequences (%d refs)", idx.n, total)
	return nil
}

// store writes the index in the .sidx format: magic, version, k, N, the
// newline-terminated name list, a delta-varint bitmap of non-empty buckets,
// then each non-empty bucket's posting list. Each list is framed by a varint
// carrying its byte length and inverted flag.
func (idx *Index) store(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(idxMagic); err != nil {
		return err
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint16(hdr[0:2], idxVersion)
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(idx.k))
	binary.LittleEndian.PutUint32(hdr[4:8], idx.n)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, name := range idx.names {
		if _, err := w.WriteString(name); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}

	nonEmpty := NewVLIMap(uint32(len(idx.buckets)))
	for i, b := range idx.buckets {
		if b != nil && b.Size() > 0 {
			nonEmpty.PushBack(uint32(i))
		}
	}
	if err := writeVLIMap(w, nonEmpty); err != nil {
		return err
	}
	for _, b := range idx.buckets {
		if b == nil || b.Size() == 0 {
			continue
		}
		if err := writeVLIMap(w, b); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func writeVLIMap(w *bufio.Writer, m *VLIMap) error {
	frame := uint32(len(m.data)) << 1
	if m.inverted {
		frame |= 1
	}
	var buf [5]byte
	n := 0
	for frame > 127 {
		buf[n] = byte(frame) | 0x80
		frame >>= 7
		n++
	}
	buf[n] = byte(frame)
	n++
	if _, err := w.Write(buf[:n]); err != nil {
		return err
	}
	_, err := w.Write(m.data)
	return err
}

// load reads a .sidx file. The file is mapped read-only; posting lists alias
// the mapping, so a loaded index shares one copy across the process.
func (idx *Index) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close() // nolint: errcheck
	info, err := f.Stat()
	if err != nil {
		return err
	}
	data, err := mmapFile(f, int(info.Size()))
	if err != nil {
		return err
	}

	if len(data) < len(idxMagic)+8 || !bytes.Equal(data[:len(idxMagic)], []byte(idxMagic)) {
		return errors.Errorf("%s: bad index magic", path)
	}
	off := len(idxMagic)
	vers := binary.LittleEndian.Uint16(data[off : off+2])
	k := int(binary.LittleEndian.Uint16(data[off+2 : off+4]))
	n := binary.LittleEndian.Uint32(data[off+4 : off+8])
	off += 8
	if vers != idxVersion {
		return errors.Errorf("%s: unsupported index version %d", path, vers)
	}
	if k != idx.k {
		return errors.Errorf("%s: index has k=%d, want %d", path, k, idx.k)
	}

	names := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		nl := bytes.IndexByte(data[off:], '\n')
		if nl < 0 {
			return errors.Errorf("%s: truncated name list", path)
		}
		names = append(names, string(data[off:off+nl]))
		off += nl + 1
	}

	nonEmpty, off, err := readVLIMap(data, off, uint32(len(idx.buckets)), path)
	if err != nil {
		return err
	}
	total := 0
	for _, kmer := range nonEmpty.IDs() {
		var m *VLIMap
		m, off, err = readVLIMap(data, off, n, path)
		if err != nil {
			return err
		}
		idx.buckets[kmer] = m
		total += m.count
	}
	idx.n = n
	idx.names = names
	log.Printf("index %s contains %d sequences (%d refs)", path, n, total)
	return nil
}

func readVLIMap(data []byte, off int, maxID uint32, path string) (*VLIMap, int, error) {
	if off >= len(data) {
		return nil, 0, errors.Errorf("%s: truncated index", path)
	}
	frame, n := decodeVarint(data[off:])
	off += n
	size := int(frame >> 1)
	if off+size > len(data) {
		return nil, 0, errors.Errorf("%s: truncated posting list", path)
	}
	m := &VLIMap{
		maxID:    maxID,
		data:     data[off : off+size],
		inverted: frame&1 != 0,
	}
	// recover the id count from the encoding
	for it := 0; it < len(m.data); {
		_, n := decodeVarint(m.data[it:])
		it += n
		m.count++
	}
	return m, off + size, nil
}

// Find scores every reference against the query's unique A-prefix k-mers
// (all unique k-mers in exact mode) and returns the want highest-scoring
// references. Ties are broken by lower reference id. Scores are
// log-normalized so that fast and exact runs are comparable.
func (idx *Index) Find(query *seq.CSeq, want int) []Hit {
	if idx.n == 0 || want <= 0 || query.Size() == 0 {
		return nil
	}
	counts := make([]int32, idx.n)
	var offset int32
	km := NewKmerizer(idx.k).WithUnique()
	if idx.fast {
		km = km.WithPrefix(1, seq.IdxA)
	}
	km.Reset(query.ABases())
	for km.Scan() {
		if b := idx.buckets[km.Get()]; b != nil {
			offset += b.Increment(counts)
		}
	}

	if want > int(idx.n) {
		want = int(idx.n)
	}
	ids := make([]int32, idx.n)
	for i := range ids {
		ids[i] = int32(i)
	}
	sort.Slice(ids, func(a, b int) bool {
		ca := counts[ids[a]] + offset
		cb := counts[ids[b]] + offset
		if ca != cb {
			return ca > cb
		}
		return ids[a] < ids[b]
	})

	mult := int32(1)
	if idx.fast {
		// only every 4th k-mer participates; scale raw counts so that fast
		// and exact scores compare
		mult = 4
	}
	invLen := 1.0 / float64(query.Size()+1)
	logInvLen := math.Log(invLen)
	hits := make([]Hit, 0, want)
	for _, id := range ids[:want] {
		raw := float64((counts[id]+offset)*mult) / float64(idx.k)
		score := 1 - math.Log(raw+invLen)/logInvLen
		hits = append(hits, Hit{
			ID:    int(id),
			Name:  idx.names[id],
			Score: float32(score),
		})
	}
	return hits
}

// Orientation identifies the strand transformation that makes a query match
// the reference database best.
type Orientation int

const (
	OrientNone Orientation = iota
	OrientReversed
	OrientComplemented
	OrientReverseComplemented
)

// TurnCheck scores the query in each candidate orientation and returns the
// one with the highest top-1 score. With all false only the original and
// reverse-complemented orientations are checked.
func (idx *Index) TurnCheck(query *seq.CSeq, all bool) Orientation {
	top1 := func(c *seq.CSeq) float64 {
		hits := idx.Find(c, 1)
		if len(hits) == 0 {
			return 0
		}
		return float64(hits[0].Score)
	}
	var score [4]float64
	score[OrientNone] = top1(query)

	turn := query.Clone()
	turn.Reverse()
	if all {
		score[OrientReversed] = top1(turn)
		comp := query.Clone()
		comp.Complement()
		score[OrientComplemented] = top1(comp)
	}
	turn.Complement()
	score[OrientReverseComplemented] = top1(turn)

	best := OrientNone
	max := 0.0
	for i, s := range score {
		if s > max {
			max = s
			best = Orientation(i)
		}
	}
	return best
}
