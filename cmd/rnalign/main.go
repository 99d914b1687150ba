// rnalign aligns rRNA sequences against a fixed reference alignment.
//
// The reference is a persistent database created from an aligned FASTA
// (optionally with a taxonomy sidecar):
//
//	rnalign -db refs.rdb -import-ref refs.fasta -import-tax refs.tsv
//
// Queries are aligned, and optionally searched and classified:
//
//	rnalign -db refs.rdb -i queries.fasta -o aligned.fasta -search
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	_ "github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/grailbio/rnalign/align"
	"github.com/grailbio/rnalign/encoding/fasta"
	"github.com/grailbio/rnalign/family"
	"github.com/grailbio/rnalign/pipeline"
	"github.com/grailbio/rnalign/progress"
	"github.com/grailbio/rnalign/refstore"
	"github.com/grailbio/rnalign/search"
	"github.com/grailbio/rnalign/seq"
)

type flags struct {
	db        string
	importRef string
	importTax string
	input     string
	output    string
	threads   int
	ordered   bool

	// family selector
	turn          string
	engine        string
	kmerLen       int
	noFast        bool
	fsMin         int
	fsMax         int
	fsMsc         float64
	fsMscMax      float64
	fsReq         int
	fsReqFull     int
	fsFullLen     int
	fsReqGaps     int
	fsCoverGene   int
	fsMinLen      int
	leaveQueryOut bool

	// aligner
	realign        bool
	overhang       string
	lowercase      string
	insertion      string
	noGraph        bool
	fsWeight       float64
	matchScore     float64
	mismatchScore  float64
	gapPen         float64
	gapExtPen      float64
	useSubstMatrix bool
	writeUsedRels  bool
	calcIdty       bool

	// search & classify
	doSearch             bool
	searchAll            bool
	searchKmerCandidates int
	searchMinSim         float64
	searchMaxResult      int
	searchIgnoreSuper    bool
	searchIUPAC          string
	searchDist           string
	searchCover          string
	lcaFields            string
	lcaQuorum            float64
	copyFields           string
}

func registerFlags(f *flags) {
	flag.StringVar(&f.db, "db", "", "reference database (required)")
	flag.StringVar(&f.importRef, "import-ref", "", "import an aligned reference FASTA into -db")
	flag.StringVar(&f.importTax, "import-tax", "", "attribute TSV accompanying -import-ref")
	flag.StringVar(&f.input, "i", "", "query FASTA (default stdin)")
	flag.StringVar(&f.output, "o", "", "aligned output FASTA (default stdout)")
	flag.IntVar(&f.threads, "threads", runtime.NumCPU(), "number of alignment workers")
	flag.BoolVar(&f.ordered, "ordered", true, "preserve input order in the output")

	flag.StringVar(&f.turn, "turn", "none", "orientation check [none|revcomp|all]")
	flag.StringVar(&f.engine, "fs-engine", "kmer", "reference search engine [kmer]")
	flag.IntVar(&f.kmerLen, "fs-kmer-len", 10, "length of k-mers")
	flag.BoolVar(&f.noFast, "fs-kmer-no-fast", false, "don't use fast family search")
	flag.IntVar(&f.fsMin, "fs-min", 40, "number of references used regardless of score")
	flag.IntVar(&f.fsMax, "fs-max", 40, "number of references used at most")
	flag.Float64Var(&f.fsMsc, "fs-msc", 0.7, "required fractional identity of references")
	flag.Float64Var(&f.fsMscMax, "fs-msc-max", 2, "max identity of used references (evaluation)")
	flag.IntVar(&f.fsReq, "fs-req", 1, "required number of references")
	flag.IntVar(&f.fsReqFull, "fs-req-full", 1, "required number of full-length references")
	flag.IntVar(&f.fsFullLen, "fs-full-len", 1400, "minimum length of a full-length reference")
	flag.IntVar(&f.fsReqGaps, "fs-req-gaps", 10, "ignore references with fewer internal gaps")
	flag.IntVar(&f.fsCoverGene, "fs-cover-gene", 0, "required references covering each gene end")
	flag.IntVar(&f.fsMinLen, "fs-min-len", 150, "minimal reference length")
	flag.BoolVar(&f.leaveQueryOut, "fs-leave-query-out", false,
		"ignore references sharing the query name (evaluation)")

	flag.BoolVar(&f.realign, "realign", false, "do not copy alignment from reference")
	flag.StringVar(&f.overhang, "overhang", "attach", "overhang placement [attach|remove|edge]")
	flag.StringVar(&f.lowercase, "lowercase", "none", "lowercase policy [none|original|unaligned]")
	flag.StringVar(&f.insertion, "insertion", "shift", "insertion policy [shift|forbid|remove]")
	flag.BoolVar(&f.noGraph, "fs-no-graph", false, "use profile vector instead of DAG")
	flag.Float64Var(&f.fsWeight, "fs-weight", 1, "family base frequency weight")
	flag.Float64Var(&f.matchScore, "match-score", 2, "score awarded for a match")
	flag.Float64Var(&f.mismatchScore, "mismatch-score", -1, "score awarded for a mismatch")
	flag.Float64Var(&f.gapPen, "pen-gap", 5, "gap open penalty")
	flag.Float64Var(&f.gapExtPen, "pen-gapext", 2, "gap extend penalty")
	flag.BoolVar(&f.useSubstMatrix, "use-subst-matrix", false, "use substitution matrix scoring")
	flag.BoolVar(&f.writeUsedRels, "write-used-rels", false,
		"record used reference names on the output")
	flag.BoolVar(&f.calcIdty, "calc-idty", false,
		"calculate highest identity with any reference")

	flag.BoolVar(&f.doSearch, "search", false, "enable the search and classify stage")
	flag.BoolVar(&f.searchAll, "search-all", false, "do not use the k-mer heuristic")
	flag.IntVar(&f.searchKmerCandidates, "search-kmer-candidates", 1000,
		"number of candidates acquired via the k-mer step")
	flag.Float64Var(&f.searchMinSim, "search-min-sim", 0.7, "required sequence similarity")
	flag.IntVar(&f.searchMaxResult, "search-max-result", 10, "desired number of search results")
	flag.BoolVar(&f.searchIgnoreSuper, "search-ignore-super", false,
		"ignore sequences containing the query")
	flag.StringVar(&f.searchIUPAC, "search-iupac", "optimistic",
		"IUPAC matching [optimistic|pessimistic]")
	flag.StringVar(&f.searchDist, "search-dist", "none", "distance correction [none|jc]")
	flag.StringVar(&f.searchCover, "search-cover", "query",
		"coverage base [abs|query|target|overlap|all|avg|min|max|nogap]")
	flag.StringVar(&f.lcaFields, "lca-fields", "", "taxonomy fields (colon separated)")
	flag.Float64Var(&f.lcaQuorum, "lca-quorum", 0.7, "classification quorum")
	flag.StringVar(&f.copyFields, "search-copy-fields", "",
		"fields copied from results to the query (colon separated)")
}

func splitFields(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ',' }) {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// buildOpts validates the configuration surface. Errors here abort before
// the pipeline starts.
func buildOpts(f *flags) (family.Opts, align.Opts, search.Opts, error) {
	var ferr error
	check := func(err error) {
		if err != nil && ferr == nil {
			ferr = err
		}
	}

	famOpts := family.DefaultOpts
	turn, err := family.ParseTurn(f.turn)
	check(err)
	if f.engine != "kmer" {
		check(fmt.Errorf("unknown search engine %q (only 'kmer' is supported)", f.engine))
	}
	if f.fsReq < 1 {
		check(fmt.Errorf("fs-req must be >= 1"))
	}
	famOpts.Turn = turn
	famOpts.KmerLen = f.kmerLen
	famOpts.Fast = !f.noFast
	famOpts.Min = f.fsMin
	famOpts.Max = f.fsMax
	famOpts.MinScore = float32(f.fsMsc)
	famOpts.MaxScore = float32(f.fsMscMax)
	famOpts.Req = f.fsReq
	famOpts.ReqFull = f.fsReqFull
	famOpts.FullMinLen = f.fsFullLen
	famOpts.ReqGaps = f.fsReqGaps
	famOpts.CoverGene = f.fsCoverGene
	famOpts.MinLen = f.fsMinLen
	famOpts.LeaveQueryOut = f.leaveQueryOut

	alnOpts := align.DefaultOpts
	overhang, err := align.ParseOverhang(f.overhang)
	check(err)
	lowercase, err := align.ParseLowercase(f.lowercase)
	check(err)
	insertion, err := align.ParseInsertion(f.insertion)
	check(err)
	alnOpts.Realign = f.realign
	alnOpts.Overhang = overhang
	alnOpts.Lowercase = lowercase
	alnOpts.Insertion = insertion
	alnOpts.NoGraph = f.noGraph
	alnOpts.FamilyWeight = float32(f.fsWeight)
	alnOpts.MatchScore = float32(f.matchScore)
	alnOpts.MismatchScore = float32(f.mismatchScore)
	alnOpts.GapPenalty = float32(f.gapPen)
	alnOpts.GapExtPenalty = float32(f.gapExtPen)
	alnOpts.UseSubstMatrix = f.useSubstMatrix
	alnOpts.WriteUsedRels = f.writeUsedRels
	alnOpts.CalcIdty = f.calcIdty

	srchOpts := search.DefaultOpts
	iupac, err := seq.ParseIUPACRule(f.searchIUPAC)
	check(err)
	dist, err := seq.ParseDistRule(f.searchDist)
	check(err)
	cover, err := seq.ParseCoverRule(f.searchCover)
	check(err)
	srchOpts.SearchAll = f.searchAll
	srchOpts.KmerCandidates = f.searchKmerCandidates
	srchOpts.MinSim = float32(f.searchMinSim)
	srchOpts.MaxResult = f.searchMaxResult
	srchOpts.IgnoreSuper = f.searchIgnoreSuper
	srchOpts.Comparator = seq.NewComparator(iupac, dist, cover, false)
	srchOpts.LCAFields = splitFields(f.lcaFields)
	srchOpts.LCAQuorum = float32(f.lcaQuorum)
	srchOpts.CopyFields = splitFields(f.copyFields)

	return famOpts, alnOpts, srchOpts, ferr
}

// importRef loads an aligned reference FASTA (plus optional attribute TSV)
// into the store.
func importRef(store *refstore.Store, f *flags) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, f.importRef)
	if err != nil {
		log.Panicf("open %s: %v", f.importRef, err)
	}
	var src io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(src, in.Name()); u != nil {
		src = u
	}

	var attrs map[string]fasta.AttrRow
	if f.importTax != "" {
		tin, err := file.Open(ctx, f.importTax)
		if err != nil {
			log.Panicf("open %s: %v", f.importTax, err)
		}
		attrs, err = fasta.ReadAttrTSV(tin.Reader(ctx))
		if err != nil {
			log.Panicf("read %s: %v", f.importTax, err)
		}
		if err := tin.Close(ctx); err != nil {
			log.Panicf("close %s: %v", f.importTax, err)
		}
	}

	r := fasta.NewReader(src)
	n := 0
	for r.Scan() {
		c := r.Get()
		if row, ok := attrs[c.Name()]; ok {
			c.SetAttr(refstore.FnAcc, row.Acc)
			c.SetAttr(refstore.FnVersion, row.Version)
			c.SetAttr(refstore.FnStart, row.Start)
			c.SetAttr(refstore.FnStop, row.Stop)
			c.SetAttr("tax_slv", row.Tax)
		}
		if err := store.Put(c); err != nil {
			log.Panicf("import %s: %v", c.Name(), err)
		}
		n++
	}
	if err := r.Err(); err != nil {
		log.Panicf("read %s: %v", f.importRef, err)
	}
	if err := in.Close(ctx); err != nil {
		log.Panicf("close %s: %v", f.importRef, err)
	}
	if err := store.Save(ctx); err != nil {
		log.Panicf("save %s: %v", f.db, err)
	}
	log.Printf("imported %d sequences from %s into %s", n, f.importRef, f.db)
}

func run(f *flags) error {
	ctx := vcontext.Background()
	famOpts, alnOpts, srchOpts, err := buildOpts(f)
	if err != nil {
		return err
	}
	if f.db == "" {
		return errors.E("must have a reference database (-db)")
	}

	store, err := refstore.Open(ctx, f.db)
	if err != nil {
		return err
	}
	if f.importRef != "" {
		importRef(store, f)
		if f.input == "" {
			return store.Close(ctx)
		}
	}
	if store.Count() == 0 {
		return errors.E(fmt.Sprintf("reference database %s is empty", f.db))
	}

	// reader
	var src io.Reader = os.Stdin
	var inFile file.File
	if f.input != "" {
		if inFile, err = file.Open(ctx, f.input); err != nil {
			return err
		}
		src = inFile.Reader(ctx)
		if u := compress.NewReaderPath(src, inFile.Name()); u != nil {
			src = u
		}
	}

	// writer
	var dst io.Writer = os.Stdout
	var outFile file.File
	if f.output != "" {
		if outFile, err = file.Create(ctx, f.output); err != nil {
			return err
		}
		dst = outFile.Writer(ctx)
	}
	out := fasta.NewWriter(dst, fasta.WriterOpts{LineWidth: 70})

	// stages: the family selectors hold the costly index handles, so the
	// pool stays small; the aligners scale with the CPU count
	nSelectors := f.threads
	if nSelectors > 4 {
		nSelectors = 4
	}
	selectors := make([]pipeline.Stage, nSelectors)
	var finder0 *family.Finder
	for i := range selectors {
		fd := family.New(famOpts, store)
		if i == 0 {
			finder0 = fd
		}
		selectors[i] = fd
	}
	aligners := make([]pipeline.Stage, f.threads)
	for i := range aligners {
		aligners[i] = align.New(alnOpts)
	}
	stages := []pipeline.StageSpec{
		{Name: "family", Workers: selectors},
		{Name: "align", Workers: aligners},
	}
	if f.doSearch {
		idx := finder0.Index()
		srch, err := search.New(srchOpts, store, idx)
		if err != nil {
			return err
		}
		stages = append(stages, pipeline.Singleton("search", srch))
	}

	meter := progress.New("aligning", 0)
	source := make(chan *pipeline.Tray, 2*f.threads)
	readErr := make(chan error, 1)
	go func() {
		defer close(source)
		r := fasta.NewReader(src)
		for r.Scan() {
			source <- &pipeline.Tray{SeqNo: r.N(), Input: r.Get()}
		}
		readErr <- r.Err()
	}()

	var aligned, rejected int64
	err = pipeline.Run(pipeline.Options{Ordered: f.ordered}, source, stages,
		func(t *pipeline.Tray) error {
			meter.Add(1)
			c := t.Aligned
			if c == nil {
				rejected++
				c = t.Input
				c.SetAttr(refstore.FnQual, 0)
			} else {
				aligned++
			}
			if t.Log.Len() > 0 {
				c.SetAttr(refstore.FnAlignLog, t.Log.String())
			}
			return out.Write(c)
		})
	meter.Done()

	once := errors.Once{}
	once.Set(err)
	once.Set(<-readErr)
	once.Set(out.Err())
	if outFile != nil {
		once.Set(outFile.Close(ctx))
	}
	if inFile != nil {
		once.Set(inFile.Close(ctx))
	}
	once.Set(store.Close(ctx))
	log.Printf("aligned %d sequences, rejected %d", aligned, rejected)
	return once.Err()
}

func main() {
	f := &flags{}
	registerFlags(f)
	cleanup := grail.Init()
	defer cleanup()
	if err := run(f); err != nil {
		log.Error.Printf("rnalign: %v", err)
		os.Exit(1)
	}
}
