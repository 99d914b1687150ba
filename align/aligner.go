package align

import (
	"strings"
	"time"

	"github.com/grailbio/rnalign/pipeline"
	"github.com/grailbio/rnalign/refstore"
	"github.com/grailbio/rnalign/seq"
)

// Opts configures the aligner stage.
type Opts struct {
	// Realign drops family members containing the query instead of copying
	// their alignment.
	Realign bool
	// Overhang, Lowercase and Insertion select the projection policies.
	Overhang  Overhang
	Lowercase Lowercase
	Insertion Insertion
	// CalcIdty computes the highest identity of the aligned query with any
	// family member.
	CalcIdty bool
	// NoGraph aligns against the family profile vector instead of the DAG.
	NoGraph bool
	// FamilyWeight scales the weight family base frequencies contribute to
	// graph nodes.
	FamilyWeight float32
	// Scoring constants.
	MatchScore    float32
	MismatchScore float32
	GapPenalty    float32
	GapExtPenalty float32
	// UseSubstMatrix switches matches to the log-odds substitution matrix
	// derived from the reference base frequencies.
	UseSubstMatrix bool
	// WriteUsedRels records the family member names on the output.
	WriteUsedRels bool
}

// DefaultOpts holds the stock aligner parameters.
var DefaultOpts = Opts{
	Overhang:      OverhangAttach,
	Lowercase:     LowercaseNone,
	Insertion:     InsertionShift,
	FamilyWeight:  1,
	MatchScore:    2,
	MismatchScore: -1,
	GapPenalty:    5,
	GapExtPenalty: 2,
}

// Aligner is the alignment stage: it turns a tray's input sequence plus
// family into an aligned sequence in reference coordinates.
type Aligner struct {
	opts Opts
}

// New returns an aligner stage instance.
func New(opts Opts) *Aligner { return &Aligner{opts: opts} }

func makeDatetime() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// Process implements pipeline.Stage.
func (a *Aligner) Process(t *pipeline.Tray) error {
	if t.Input == nil || len(t.Family) == 0 || t.Stats == nil {
		return nil
	}
	c := t.Input.Clone()
	bases := c.Bases()
	if a.opts.Lowercase != LowercaseOriginal {
		c.UpperCaseAll()
	}

	// family members containing the query verbatim either donate their
	// alignment or, when realigning, leave the family
	family := t.Family
	containing := -1
	for i, fm := range family {
		if strings.Contains(strings.ToUpper(fm.Seq.Bases()), strings.ToUpper(bases)) {
			containing = i
			break
		}
	}
	if containing >= 0 {
		if a.opts.Realign {
			kept := family[:0]
			removed := 0
			for _, fm := range family {
				if strings.Contains(strings.ToUpper(fm.Seq.Bases()), strings.ToUpper(bases)) {
					t.Logf("sequence %s containing exact candidate removed from family;",
						fm.Seq.AttrString(refstore.FnAcc))
					removed++
					continue
				}
				kept = append(kept, fm)
			}
			family = kept
			t.Family = family
			if len(family) == 0 {
				t.Logf("that's ALL of them. skipping sequence;")
				return nil
			}
		} else {
			a.copyAlignment(t, c, family[containing].Seq, bases)
			return nil
		}
	}

	if err := a.runDP(t, c); err != nil {
		t.Logf("alignment failed: %v;", err)
		return nil
	}

	if a.opts.WriteUsedRels {
		names := make([]string, 0, len(family))
		for _, fm := range family {
			names = append(names, fm.Seq.Name())
		}
		c.SetAttr(refstore.FnUsedRels, strings.Join(names, " "))
	}
	if a.opts.CalcIdty {
		cmp := seq.NewComparator(seq.IUPACOptimistic, seq.DistNone, seq.CoverOverlap, false)
		var idty float32
		for _, fm := range family {
			if v := cmp.Compare(c, fm.Seq); v > idty {
				idty = v
			}
		}
		c.SetAttr(refstore.FnIdty, 100*idty)
	}
	c.SetAttr(refstore.FnDate, makeDatetime())
	c.SetAttr(refstore.FnFilter, t.Stats.Name())
	t.Aligned = c
	return nil
}

// copyAlignment transfers the covering slice of the template's alignment
// onto the query instead of aligning.
func (a *Aligner) copyAlignment(t *pipeline.Tray, c *seq.CSeq, template *seq.CSeq, bases string) {
	refBases := strings.ToUpper(template.Bases())
	offset := strings.Index(refBases, strings.ToUpper(bases))
	sub := template.ABases()[offset : offset+len(bases)]
	if len(sub) == len(bases) && offset == 0 && len(sub) == template.Size() {
		t.Logf("copied alignment from identical template sequence %s:%s; ",
			template.AttrString(refstore.FnAcc), template.AttrString(refstore.FnStart))
	} else {
		t.Logf("copied alignment from (longer) template sequence %s:%s; ",
			template.AttrString(refstore.FnAcc), template.AttrString(refstore.FnStart))
	}
	copied := make([]seq.ABase, len(sub))
	for i, ab := range sub {
		copied[i] = seq.ABase{Pos: ab.Pos, Base: c.ByID(i).Base}
	}
	c.ClearSequence()
	c.SetABases(copied)
	_ = c.SetWidth(template.Width())
	c.SetAttr(refstore.FnDate, makeDatetime())
	c.SetAttr(refstore.FnQual, 100)
	c.SetAttr(refstore.FnIdty, float32(100))
	c.SetAttr(refstore.FnHead, 0)
	c.SetAttr(refstore.FnTail, 0)
	c.SetAttr(refstore.FnFilter, "")
	t.Aligned = c
}

// runDP builds the template, selects the scoring scheme, computes the mesh
// and backtracks into c.
func (a *Aligner) runDP(t *pipeline.Tray, c *seq.CSeq) error {
	family := make([]*seq.CSeq, len(t.Family))
	for i, fm := range t.Family {
		family[i] = fm.Seq
	}

	var tpl Template
	var scorer Scorer
	var err error
	if !a.opts.NoGraph {
		tpl, err = NewMSeq(family, a.opts.FamilyWeight)
		if err != nil {
			return err
		}
		switch {
		case a.opts.UseSubstMatrix:
			// fall back to uniform weights only when the filter carries none
			weights := t.Stats.Weights()
			if t.Stats.Width() == 0 {
				weights = make([]float32, family[0].Width())
				for i := range weights {
					weights[i] = 1
				}
			}
			dist := float64(t.Family[0].Score)
			t.Logf("using dist: %g;", dist)
			scorer = NewMatrixScorer(a.opts.GapPenalty, a.opts.GapExtPenalty,
				weights, t.Stats.SubstMatrix(dist))
		case t.Stats.Width() == 0:
			scorer = NewSimpleScorer(a.opts.MatchScore, a.opts.MismatchScore,
				a.opts.GapPenalty, a.opts.GapExtPenalty)
		default:
			scorer = NewWeightedScorer(a.opts.MatchScore, a.opts.MismatchScore,
				a.opts.GapPenalty, a.opts.GapExtPenalty, t.Stats.Weights())
		}
	} else {
		tpl, err = NewPSeq(family)
		if err != nil {
			return err
		}
		scorer = NewProfileScorer(a.opts.MatchScore, a.opts.MismatchScore,
			a.opts.GapPenalty, a.opts.GapExtPenalty)
	}

	query := c.Clone()
	mesh := NewMesh(tpl, query, scorer, a.opts.Insertion == InsertionForbid)
	c.ClearSequence()
	res, err := backtrack(mesh, c, a.opts.Overhang, a.opts.Lowercase,
		a.opts.Insertion, &t.Log)
	if err != nil {
		return err
	}
	c.Score = res.score
	c.SetAttr(refstore.FnHead, res.cutoffHead)
	c.SetAttr(refstore.FnTail, res.cutoffTail)
	qual := 100 * res.score
	if qual > 100 {
		qual = 100
	}
	if qual < 0 {
		qual = 0
	}
	c.SetAttr(refstore.FnQual, int(qual))
	if c.Size() > 0 {
		c.SetAttr(refstore.FnAStart, int(c.ByID(0).Pos))
		c.SetAttr(refstore.FnAStop, int(c.ByID(c.Size()-1).Pos))
	}
	return nil
}
