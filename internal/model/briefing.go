// Package model defines the domain types shared across the budget engine.
package model

import "time"

// BriefingStatus represents the lifecycle state of a client briefing.
type BriefingStatus string

const (
	BriefingStatusDraft     BriefingStatus = "DRAFT"
	BriefingStatusCompleted BriefingStatus = "COMPLETED"
)

// Typology is the project category a briefing describes.
type Typology string

const (
	TypologyResidencial   Typology = "RESIDENCIAL"
	TypologyComercial     Typology = "COMERCIAL"
	TypologyIndustrial    Typology = "INDUSTRIAL"
	TypologyInstitucional Typology = "INSTITUCIONAL"
	TypologyPersonalizado Typology = "PERSONALIZADO"
)

// KnownTypologies lists every typology the engine prices.
func KnownTypologies() []Typology {
	return []Typology{
		TypologyResidencial,
		TypologyComercial,
		TypologyIndustrial,
		TypologyInstitucional,
		TypologyPersonalizado,
	}
}

// Briefing is a client requirements document produced by the CRM flow.
// The engine treats briefings as read-only input; only COMPLETED briefings
// are analyzable.
type Briefing struct {
	ID              string            `json:"id"`
	OfficeID        string            `json:"office_id"`
	Typology        Typology          `json:"typology,omitempty"`
	Area            float64           `json:"area,omitempty"` // constructed area in m², 0 if unknown
	FreeformAnswers map[string]string `json:"freeform_answers,omitempty"`
	Status          BriefingStatus    `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Analyzable reports whether the briefing may enter the pipeline.
func (b Briefing) Analyzable() bool {
	return b.Status == BriefingStatusCompleted
}
