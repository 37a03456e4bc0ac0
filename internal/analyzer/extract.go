package analyzer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/arcflow/budget-engine/internal/model"
)

// Regexes run against normalized (lowercased, accent-folded) answer text.
var (
	areaPattern     = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:m2|m²|metros quadrados|metros)`)
	capacityPattern = regexp.MustCompile(`(\d+)\s*(?:pessoas|funcionarios|moradores|alunos|leitos)`)
	moneyPattern    = regexp.MustCompile(`r\$\s*([\d.]+(?:,\d{2})?)`)
	numberPattern   = regexp.MustCompile(`^\d+(?:[.,]\d+)?$`)
)

// typologyKeywords maps briefing vocabulary to typologies. First match in
// declaration order wins; more specific terms come first.
var typologyKeywords = []struct {
	keyword  string
	typology model.Typology
}{
	{"galpao", model.TypologyIndustrial},
	{"fabrica", model.TypologyIndustrial},
	{"industria", model.TypologyIndustrial},
	{"escola", model.TypologyInstitucional},
	{"hospital", model.TypologyInstitucional},
	{"clinica", model.TypologyInstitucional},
	{"igreja", model.TypologyInstitucional},
	{"loja", model.TypologyComercial},
	{"escritorio", model.TypologyComercial},
	{"restaurante", model.TypologyComercial},
	{"comercial", model.TypologyComercial},
	{"casa", model.TypologyResidencial},
	{"residencia", model.TypologyResidencial},
	{"apartamento", model.TypologyResidencial},
	{"sobrado", model.TypologyResidencial},
}

// featureKeywords maps vocabulary to special feature tags the pricing
// policy knows about.
var featureKeywords = map[string]string{
	"piscina":          "piscina",
	"patio":            "patio",
	"quintal":          "patio",
	"automacao":        "automacao",
	"casa inteligente": "automacao",
}

// disciplineKeywords maps vocabulary to extra required disciplines beyond
// the architecture + structural baseline.
var disciplineKeywords = map[string]model.Discipline{
	"eletrica":   model.DisciplineEletrica,
	"hidraulica": model.DisciplineHidraulica,
	"interiores": model.DisciplineInteriores,
	"paisagismo": model.DisciplinePaisagismo,
	"jardim":     model.DisciplinePaisagismo,
}

// extraction is the raw output of the free-text pass, before validation
// and confidence weighting.
type extraction struct {
	features     model.ExtractedFeatures
	mappedFields int
	totalFields  int
	typologyHit  bool
}

// extractHeuristic performs best-effort extraction from a briefing's
// freeform answers. It never fails; absent fields stay zero-valued and
// lower the coverage component of the confidence score.
func extractHeuristic(b model.Briefing) extraction {
	ex := extraction{
		features: model.ExtractedFeatures{
			Area:     b.Area,
			Typology: b.Typology,
			RequiredDisciplines: []model.Discipline{
				model.DisciplineArquitetura,
				model.DisciplineEstrutural,
			},
		},
	}
	if b.Area > 0 {
		ex.mappedFields++
	}
	if b.Typology != "" {
		ex.typologyHit = true
		ex.mappedFields++
	}
	ex.totalFields = 2 + len(b.FreeformAnswers)

	var corpus strings.Builder
	for key, answer := range b.FreeformAnswers {
		normKey := normalizeText(key)
		normAnswer := normalizeText(answer)
		corpus.WriteString(normAnswer)
		corpus.WriteByte(' ')

		mapped := false

		if ex.features.Area == 0 {
			if v, ok := extractArea(normKey, normAnswer, "area"); ok {
				ex.features.Area = v
				mapped = true
			}
		}
		if ex.features.LandArea == 0 {
			if v, ok := extractArea(normKey, normAnswer, "terreno"); ok {
				ex.features.LandArea = v
				mapped = true
			}
		}
		if ex.features.Capacity == 0 {
			if m := capacityPattern.FindStringSubmatch(normAnswer); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					ex.features.Capacity = n
					mapped = true
				}
			}
		}
		if ex.features.ReferenceBudget == 0 {
			if m := moneyPattern.FindStringSubmatch(normAnswer); m != nil {
				if v, err := parseDecimal(m[1]); err == nil {
					ex.features.ReferenceBudget = v
					mapped = true
				}
			}
		}
		if mapped {
			ex.mappedFields++
		}
	}

	text := corpus.String()

	if ex.features.Typology == "" {
		for _, tk := range typologyKeywords {
			if strings.Contains(text, tk.keyword) {
				ex.features.Typology = tk.typology
				ex.typologyHit = true
				break
			}
		}
	}

	for keyword, feature := range featureKeywords {
		if strings.Contains(text, keyword) && !ex.features.HasSpecialFeature(feature) {
			ex.features.SpecialFeatures = append(ex.features.SpecialFeatures, feature)
		}
	}

	for keyword, d := range disciplineKeywords {
		if strings.Contains(text, keyword) && !ex.features.HasDiscipline(d) {
			ex.features.RequiredDisciplines = append(ex.features.RequiredDisciplines, d)
		}
	}

	return ex
}

// extractArea finds an area value in an answer. A bare number is accepted
// only when the question key carries the hint ("area", "terreno");
// otherwise the value must appear with a unit. Land-area mentions never
// count as constructed area.
func extractArea(key, answer, hint string) (float64, bool) {
	mentionsLand := strings.Contains(key, "terreno") || strings.Contains(answer, "terreno")
	if hint == "terreno" && !mentionsLand {
		return 0, false
	}
	if hint != "terreno" && mentionsLand {
		return 0, false
	}

	if strings.Contains(key, hint) && numberPattern.MatchString(answer) {
		if v, err := parseDecimal(answer); err == nil && v > 0 {
			return v, true
		}
	}
	if m := areaPattern.FindStringSubmatch(answer); m != nil {
		if v, err := parseDecimal(m[1]); err == nil && v > 0 {
			return v, true
		}
	}
	return 0, false
}

// parseDecimal handles Brazilian number formatting: "1.234,56" and plain
// "1234.56" both parse.
func parseDecimal(s string) (float64, error) {
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return strconv.ParseFloat(s, 64)
}
