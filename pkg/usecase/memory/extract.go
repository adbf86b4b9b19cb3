package memory

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/m-mizutani/desbank/pkg/adapter"
	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/experiment.md
var experimentPromptRaw string

//go:embed prompt/success.md
var successPromptRaw string

//go:embed prompt/failure.md
var failurePromptRaw string

var (
	experimentPromptTmpl = template.Must(template.New("experiment").Parse(experimentPromptRaw))
	successPromptTmpl    = template.Must(template.New("success").Parse(successPromptRaw))
	failurePromptTmpl    = template.Must(template.New("failure").Parse(failurePromptRaw))
)

// FallbackTitle labels the single memory produced when the model output
// cannot be parsed as structured JSON.
const FallbackTitle = "Unstructured extraction output"

// Mode selects the extraction prompt
type Mode string

const (
	ModeSuccess    Mode = "success"
	ModeFailure    Mode = "failure"
	ModeExperiment Mode = "experiment"
)

// ExtractInput is either a trajectory (success/failure modes) or an
// experiment+recommendation pair (experiment mode)
type ExtractInput struct {
	Mode           Mode
	Trajectory     string
	Recommendation *model.Recommendation
	Result         *model.ExperimentResult
}

// Extraction holds the candidate memories parsed from the model response
type Extraction struct {
	Memories []*model.MemoryItem
	Insights []string
	Raw      string
	Fallback bool
}

// Extractor turns trajectories and experiment records into candidate memory
// items via the language-model capability. The knowledge capability, when
// present, enriches prompts with literature snippets; its failures are never
// fatal.
type Extractor struct {
	llm          adapter.LLM
	knowledge    adapter.Knowledge
	snippetLimit int
}

// ExtractorOption is a functional option for Extractor
type ExtractorOption func(*Extractor)

// WithKnowledge attaches the knowledge-retrieval capability
func WithKnowledge(k adapter.Knowledge) ExtractorOption {
	return func(x *Extractor) {
		x.knowledge = k
	}
}

// NewExtractor creates an extractor over the given LLM capability
func NewExtractor(llm adapter.LLM, opts ...ExtractorOption) *Extractor {
	x := &Extractor{
		llm:          llm,
		snippetLimit: 3,
	}

	for _, opt := range opts {
		opt(x)
	}

	return x
}

type promptData struct {
	TargetMaterial string
	Formulation    string
	Confidence     float64
	IsLiquidFormed bool
	Solubility     *float64
	SolubilityUnit string
	Properties     string
	Notes          string
	Trajectory     string
	Snippets       []adapter.Snippet
}

// Extract builds the prompt for the mode and parses the structured response.
// Malformed model output degrades to a single fallback memory; only a failed
// capability call returns an error.
func (x *Extractor) Extract(ctx context.Context, input ExtractInput) (*Extraction, error) {
	prompt, err := x.buildPrompt(ctx, input)
	if err != nil {
		return nil, err
	}

	raw, err := x.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, goerr.Wrap(model.ErrExtractionFailed, "language model call failed",
			goerr.V("mode", input.Mode), goerr.V("cause", err.Error()))
	}

	return parseExtraction(ctx, raw), nil
}

func (x *Extractor) buildPrompt(ctx context.Context, input ExtractInput) (string, error) {
	data := promptData{
		Trajectory: input.Trajectory,
	}

	var queryText string
	switch input.Mode {
	case ModeExperiment:
		if input.Recommendation == nil || input.Result == nil {
			return "", goerr.New("experiment mode requires recommendation and result",
				goerr.T(model.TagValidation))
		}
		data.TargetMaterial = input.Recommendation.Task.TargetMaterial
		data.Formulation = compactJSON(input.Recommendation.Formulation)
		data.Confidence = input.Recommendation.Confidence
		data.IsLiquidFormed = input.Result.IsLiquidFormed
		data.Solubility = input.Result.Solubility
		data.SolubilityUnit = input.Result.SolubilityUnit
		data.Properties = compactJSON(input.Result.Properties)
		data.Notes = input.Result.Notes
		queryText = data.TargetMaterial + " " + model.FormulationSummary(input.Recommendation.Formulation)

	case ModeSuccess, ModeFailure:
		if input.Trajectory == "" {
			return "", goerr.New("trajectory is required", goerr.T(model.TagValidation),
				goerr.V("mode", input.Mode))
		}
		queryText = input.Trajectory

	default:
		return "", goerr.New("unknown extraction mode", goerr.T(model.TagValidation),
			goerr.V("mode", input.Mode))
	}

	if x.knowledge != nil {
		snippets, err := x.knowledge.Query(ctx, queryText, x.snippetLimit)
		if err != nil {
			logging.From(ctx).Warn("knowledge retrieval failed, extracting without snippets",
				"error", err)
		} else {
			data.Snippets = snippets
		}
	}

	tmpl := experimentPromptTmpl
	switch input.Mode {
	case ModeSuccess:
		tmpl = successPromptTmpl
	case ModeFailure:
		tmpl = failurePromptTmpl
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to render extraction prompt")
	}

	return buf.String(), nil
}

// parseExtraction decodes the expected JSON shape, tolerating markdown code
// fences. Any parse failure, or a response with no usable memory, yields the
// fallback extraction instead of an error.
func parseExtraction(ctx context.Context, raw string) *Extraction {
	var parsed struct {
		Memories []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Content     string `json:"content"`
		} `json:"memories"`
		Insights []string `json:"insights"`
	}

	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		logging.From(ctx).Warn("unparsable extraction output, falling back to raw memory",
			"error", err)
		return fallbackExtraction(raw)
	}

	extraction := &Extraction{
		Insights: parsed.Insights,
		Raw:      raw,
	}
	for _, m := range parsed.Memories {
		if m.Title == "" {
			continue
		}
		title := truncateRunes(m.Title, 200)
		extraction.Memories = append(extraction.Memories, &model.MemoryItem{
			Title:       title,
			Description: m.Description,
			Content:     m.Content,
		})
	}

	if len(extraction.Memories) == 0 {
		logging.From(ctx).Warn("extraction returned no usable memory, falling back to raw memory")
		return fallbackExtraction(raw)
	}

	return extraction
}

func fallbackExtraction(raw string) *Extraction {
	return &Extraction{
		Memories: []*model.MemoryItem{
			{
				Title:       FallbackTitle,
				Description: "Model response that could not be parsed into structured memories",
				Content:     raw,
			},
		},
		Raw:      raw,
		Fallback: true,
	}
}

// truncateRunes shortens s to at most n runes without splitting a
// multi-byte character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// stripCodeFence removes a surrounding ```json ... ``` block if present
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func compactJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
