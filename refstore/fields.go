package refstore

// Well-known attribute field names written by the pipeline stages. The
// "_slv" fields follow the naming used by SILVA-style databases so that
// exported results drop into existing downstream tooling.
const (
	FnTurn      = "turn"
	FnAcc       = "acc"
	FnVersion   = "version"
	FnStart     = "start"
	FnStop      = "stop"
	FnUsedRels  = "used_rels"
	FnFullName  = "full_name"
	FnNuc       = "nuc"
	FnQual      = "align_quality_slv"
	FnHead      = "align_cutoff_head_slv"
	FnTail      = "align_cutoff_tail_slv"
	FnDate      = "aligned_slv"
	FnAStart    = "align_startpos_slv"
	FnAStop     = "align_stoppos_slv"
	FnIdty      = "align_ident_slv"
	FnNucGene   = "nuc_gene_slv"
	FnBPScore   = "align_bp_score_slv"
	FnFamilyStr = "align_family_slv"
	FnAlignLog  = "align_log_slv"
	FnFilter    = "align_filter_slv"
	FnNearest   = "nearest_slv"
)
