package analyzer

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/cache"
	"github.com/arcflow/budget-engine/internal/kv"
	"github.com/arcflow/budget-engine/internal/lock"
	"github.com/arcflow/budget-engine/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newAnalyzer() *Analyzer {
	store := kv.NewMemory()
	c := cache.New(store, lock.NewManager(store, 0), cache.Options{})
	return New(c, nil, DefaultPolicy())
}

func completed(b model.Briefing) model.Briefing {
	b.Status = model.BriefingStatusCompleted
	return b
}

func TestAnalyzeStructured(t *testing.T) {
	t.Parallel()
	a := newAnalyzer()

	b := completed(model.Briefing{
		ID:       "b1",
		OfficeID: "o1",
		Typology: model.TypologyResidencial,
		Area:     180,
	})

	result, err := a.Analyze(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "structured", result.Method)
	assert.Equal(t, 180.0, result.Features.Area)
	assert.Equal(t, model.TypologyResidencial, result.Features.Typology)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	assert.Empty(t, result.Findings)
}

func TestAnalyzeFreeText(t *testing.T) {
	t.Parallel()
	a := newAnalyzer()

	b := completed(model.Briefing{
		ID:       "b2",
		OfficeID: "o1",
		FreeformAnswers: map[string]string{
			"area_construida": "180",
			"terreno":         "250 m2",
			"descricao":       "casa com 2 quartos, piscina e projeto de paisagismo",
		},
	})

	result, err := a.Analyze(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "heuristic", result.Method)
	assert.Equal(t, 180.0, result.Features.Area)
	assert.Equal(t, 250.0, result.Features.LandArea)
	assert.Equal(t, model.TypologyResidencial, result.Features.Typology)
	assert.Contains(t, result.Features.SpecialFeatures, "piscina")
	assert.True(t, result.Features.HasDiscipline(model.DisciplinePaisagismo))
	// coverage 2/5, consistency 1.0, typology 0.8
	assert.InDelta(t, 0.72, result.Confidence, 1e-9)
}

func TestAnalyzeAccentFolding(t *testing.T) {
	t.Parallel()
	a := newAnalyzer()

	// Accented and unaccented spellings normalize to the same extraction.
	b := completed(model.Briefing{
		ID: "b3",
		FreeformAnswers: map[string]string{
			"descricao": "escritório comercial de 300 m² com automação",
		},
	})

	result, err := a.Analyze(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 300.0, result.Features.Area)
	assert.Equal(t, model.TypologyComercial, result.Features.Typology)
	assert.Contains(t, result.Features.SpecialFeatures, "automacao")
}

func TestAnalyzeInsufficientData(t *testing.T) {
	t.Parallel()
	a := newAnalyzer()

	tests := []struct {
		name    string
		answers map[string]string
	}{
		{"no area anywhere", map[string]string{"descricao": "uma casa bonita"}},
		{"non-numeric area", map[string]string{"area": "bem grande"}},
		{"negative area", map[string]string{"area": "-50"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := completed(model.Briefing{ID: "bx", FreeformAnswers: tt.answers})
			_, err := a.Analyze(context.Background(), b)
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInsufficientData))
		})
	}
}

func TestFallback(t *testing.T) {
	t.Parallel()
	a := newAnalyzer()

	result := a.Fallback(model.Briefing{ID: "b4"})
	assert.Equal(t, 120.0, result.Features.Area)
	assert.Equal(t, model.ComplexityMedia, result.Features.ComplexityTier)
	assert.Equal(t, model.TypologyResidencial, result.Features.Typology)
	assert.LessOrEqual(t, result.Confidence, 0.3)
	assert.Equal(t, "fallback", result.Method)
}

func TestAnalyzeNotCompleted(t *testing.T) {
	t.Parallel()
	a := newAnalyzer()

	b := model.Briefing{ID: "b5", Status: model.BriefingStatusDraft, Area: 100}
	_, err := a.Analyze(context.Background(), b)
	require.Error(t, err)
}

func TestConsistencyFindingsLowerConfidence(t *testing.T) {
	t.Parallel()
	a := newAnalyzer()

	b := completed(model.Briefing{
		ID: "b6",
		FreeformAnswers: map[string]string{
			"area":      "300",
			"terreno":   "200 m2",
			"descricao": "casa para 50 pessoas",
		},
	})

	result, err := a.Analyze(context.Background(), b)
	require.NoError(t, err)
	// Constructed area exceeds land area, and 50 residents is implausible
	// for a residence: both flagged, neither fatal.
	assert.Len(t, result.Findings, 2)
	assert.True(t, result.LowConfidence(), "confidence=%v", result.Confidence)
}

func TestAnalyzeCachesByContentHash(t *testing.T) {
	t.Parallel()
	store := kv.NewMemory()
	c := cache.New(store, lock.NewManager(store, 0), cache.Options{})
	a := New(c, nil, DefaultPolicy())

	answers := map[string]string{"area": "150", "descricao": "loja no centro"}
	first, err := a.Analyze(context.Background(), completed(model.Briefing{ID: "b7", FreeformAnswers: answers}))
	require.NoError(t, err)

	// Same normalized answers, different briefing: reuses the cached
	// analysis but reports its own briefing id.
	second, err := a.Analyze(context.Background(), completed(model.Briefing{
		ID:              "b8",
		FreeformAnswers: map[string]string{"AREA": "150", "Descricao": "Loja  no  centro"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "b8", second.BriefingID)
	assert.Equal(t, first.Features, second.Features)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestContentHashStability(t *testing.T) {
	t.Parallel()
	a := map[string]string{"Área": "100 m²", "obs": "Sobrado  com  pátio"}
	b := map[string]string{"area": "100 m2", "obs": "sobrado com patio"}
	assert.Equal(t, contentHash(a), contentHash(b))

	c := map[string]string{"area": "110 m2", "obs": "sobrado com patio"}
	assert.NotEqual(t, contentHash(a), contentHash(c))
}
