package model

// OfficeConfig is the per-office pricing configuration. It is a versioned
// aggregate: every update increments Version, and updates only happen while
// holding the office's config lock.
type OfficeConfig struct {
	OfficeID            string                     `json:"office_id"`
	HourlyRates         map[DisciplineRole]float64 `json:"hourly_rates"`
	TypologyMultipliers map[Typology]float64       `json:"typology_multipliers"`
	Version             int                        `json:"version"`
}

// Rate returns the hourly rate for a role, falling back to the engineering
// rate when the role has no explicit entry.
func (c OfficeConfig) Rate(role DisciplineRole) float64 {
	if r, ok := c.HourlyRates[role]; ok {
		return r
	}
	return c.HourlyRates[RoleEngenharia]
}

// Multiplier returns the typology multiplier, defaulting to 1.0.
func (c OfficeConfig) Multiplier(t Typology) float64 {
	if m, ok := c.TypologyMultipliers[t]; ok && m > 0 {
		return m
	}
	return 1.0
}

// Clone returns a deep copy so mutate callbacks never alias shared maps.
func (c OfficeConfig) Clone() OfficeConfig {
	out := c
	out.HourlyRates = make(map[DisciplineRole]float64, len(c.HourlyRates))
	for k, v := range c.HourlyRates {
		out.HourlyRates[k] = v
	}
	out.TypologyMultipliers = make(map[Typology]float64, len(c.TypologyMultipliers))
	for k, v := range c.TypologyMultipliers {
		out.TypologyMultipliers[k] = v
	}
	return out
}

// DefaultOfficeConfig returns the system-default configuration used when an
// office has none persisted, or as the degraded fallback when the config
// store is unreachable.
func DefaultOfficeConfig(officeID string) OfficeConfig {
	return OfficeConfig{
		OfficeID: officeID,
		HourlyRates: map[DisciplineRole]float64{
			RoleArquitetura: 150,
			RoleEngenharia:  120,
			RoleDesign:      100,
		},
		TypologyMultipliers: map[Typology]float64{
			TypologyResidencial:   1.0,
			TypologyComercial:     1.1,
			TypologyIndustrial:    1.2,
			TypologyInstitucional: 1.15,
			TypologyPersonalizado: 1.25,
		},
		Version: 1,
	}
}
