package model

// ComplexityTier is the ordinal complexity classification driving price
// multipliers.
type ComplexityTier string

const (
	ComplexitySimples   ComplexityTier = "SIMPLES"
	ComplexityMedia     ComplexityTier = "MEDIA"
	ComplexityAlta      ComplexityTier = "ALTA"
	ComplexityMuitoAlta ComplexityTier = "MUITO_ALTA"
)

// Discipline identifies a billable design discipline.
type Discipline string

const (
	DisciplineArquitetura Discipline = "ARQUITETURA"
	DisciplineEstrutural  Discipline = "ESTRUTURAL"
	DisciplineEletrica    Discipline = "INSTALACOES_ELETRICAS"
	DisciplineHidraulica  Discipline = "INSTALACOES_HIDRAULICAS"
	DisciplineInteriores  Discipline = "INTERIORES"
	DisciplinePaisagismo  Discipline = "PAISAGISMO"
)

// DisciplineRole groups disciplines by the hourly rate they bill under.
type DisciplineRole string

const (
	RoleArquitetura DisciplineRole = "arquitetura"
	RoleEngenharia  DisciplineRole = "engenharia"
	RoleDesign      DisciplineRole = "design"
)

// Role returns the billing role for a discipline. Unknown disciplines bill
// as engineering.
func (d Discipline) Role() DisciplineRole {
	switch d {
	case DisciplineArquitetura:
		return RoleArquitetura
	case DisciplineInteriores, DisciplinePaisagismo:
		return RoleDesign
	default:
		return RoleEngenharia
	}
}

// ExtractedFeatures is the normalized feature set the analyzer derives from
// a briefing.
type ExtractedFeatures struct {
	Area                float64        `json:"area"` // constructed area in m²
	LandArea            float64        `json:"land_area,omitempty"`
	Typology            Typology       `json:"typology"`
	ComplexityTier      ComplexityTier `json:"complexity_tier,omitempty"`
	RequiredDisciplines []Discipline   `json:"required_disciplines"`
	SpecialFeatures     []string       `json:"special_features,omitempty"`
	Capacity            int            `json:"capacity,omitempty"`        // people the project must accommodate
	ReferenceBudget     float64        `json:"reference_budget,omitempty"` // client's stated budget, if any
}

// HasDiscipline reports whether the feature set requires the discipline.
func (f ExtractedFeatures) HasDiscipline(d Discipline) bool {
	for _, r := range f.RequiredDisciplines {
		if r == d {
			return true
		}
	}
	return false
}

// HasSpecialFeature reports whether the named special feature was extracted.
func (f ExtractedFeatures) HasSpecialFeature(name string) bool {
	for _, s := range f.SpecialFeatures {
		if s == name {
			return true
		}
	}
	return false
}

// AnalysisResult is the analyzer's output for one briefing.
type AnalysisResult struct {
	BriefingID string            `json:"briefing_id"`
	Features   ExtractedFeatures `json:"features"`
	Confidence float64           `json:"confidence"` // 0.0-1.0
	Method     string            `json:"method"`     // "structured", "heuristic", "claude", "fallback"
	Findings   []string          `json:"findings,omitempty"` // consistency findings, advisory
}

// LowConfidence reports whether the result should be flagged for review.
func (r AnalysisResult) LowConfidence() bool {
	return r.Confidence < 0.5
}
