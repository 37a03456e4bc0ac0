package analyzer

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/arcflow/budget-engine/internal/model"
)

// ClaudeExtractor extracts features from free-text briefings with a Claude
// model. It is optional: any failure makes the analyzer fall back to the
// heuristic extractor, so NLU quality never gates the pipeline.
type ClaudeExtractor struct {
	client sdk.Client
	model  string
}

// NewClaudeExtractor creates an extractor using the given API key and model.
func NewClaudeExtractor(apiKey, modelID string) *ClaudeExtractor {
	return &ClaudeExtractor{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  modelID,
	}
}

const extractSystemPrompt = `Extract building-project features from a Portuguese architecture briefing.
Respond with only a JSON object:
{"area": <constructed area m2, 0 if unknown>,
 "land_area": <land area m2, 0 if unknown>,
 "typology": <"RESIDENCIAL"|"COMERCIAL"|"INDUSTRIAL"|"INSTITUCIONAL"|"PERSONALIZADO"|"">,
 "capacity": <people, 0 if unknown>,
 "reference_budget": <client budget in R$, 0 if unknown>,
 "special_features": [<"piscina"|"patio"|"automacao">...],
 "required_disciplines": [<"ARQUITETURA"|"ESTRUTURAL"|"INSTALACOES_ELETRICAS"|"INSTALACOES_HIDRAULICAS"|"INTERIORES"|"PAISAGISMO">...]}`

// Extract sends the briefing answers to the model and parses the JSON reply.
func (c *ClaudeExtractor) Extract(ctx context.Context, b model.Briefing) (model.ExtractedFeatures, error) {
	var prompt strings.Builder
	for key, answer := range b.FreeformAnswers {
		prompt.WriteString(key)
		prompt.WriteString(": ")
		prompt.WriteString(answer)
		prompt.WriteByte('\n')
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 1024,
		System:    []sdk.TextBlockParam{{Text: extractSystemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt.String())),
		},
	})
	if err != nil {
		return model.ExtractedFeatures{}, eris.Wrap(err, "analyzer: claude extract")
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "{"); i > 0 {
		text = text[i:]
	}

	var features model.ExtractedFeatures
	if err := json.Unmarshal([]byte(text), &features); err != nil {
		return model.ExtractedFeatures{}, eris.Wrap(err, "analyzer: parse claude reply")
	}
	return features, nil
}
