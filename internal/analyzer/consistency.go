package analyzer

import (
	"fmt"

	"github.com/arcflow/budget-engine/internal/model"
)

// checkConsistency flags implausible feature combinations without failing
// the pipeline. Returns the consistency score component and the findings.
// Any finding pulls the score below 0.5; a clean feature set scores 1.0.
func checkConsistency(f model.ExtractedFeatures, policy Policy) (float64, []string) {
	var findings []string

	if f.LandArea > 0 && f.Area > f.LandArea {
		findings = append(findings, fmt.Sprintf(
			"area construida (%.0fm2) maior que o terreno (%.0fm2)", f.Area, f.LandArea))
	}

	if f.Capacity > 0 {
		if limit, ok := capacityLimits[f.Typology]; ok && f.Capacity > limit {
			findings = append(findings, fmt.Sprintf(
				"capacidade de %d pessoas implausivel para tipologia %s", f.Capacity, f.Typology))
		}
	}

	if f.ReferenceBudget > 0 && f.Area > 0 {
		perM2 := f.ReferenceBudget / f.Area
		if perM2 < policy.MinPricePerM2 {
			findings = append(findings, fmt.Sprintf(
				"orcamento de referencia (R$%.0f/m2) abaixo da faixa plausivel", perM2))
		} else if perM2 > policy.MaxPricePerM2 {
			findings = append(findings, fmt.Sprintf(
				"orcamento de referencia (R$%.0f/m2) acima da faixa plausivel", perM2))
		}
	}

	if len(findings) == 0 {
		return 1.0, nil
	}
	score := 0.5 - 0.15*float64(len(findings))
	if score < 0.2 {
		score = 0.2
	}
	return score, findings
}

// capacityLimits gives the occupancy above which a typology looks
// misclassified rather than merely large.
var capacityLimits = map[model.Typology]int{
	model.TypologyResidencial: 20,
	model.TypologyComercial:   500,
}
