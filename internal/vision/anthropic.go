package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/aveslab/curio/pkg/models"
)

// DefaultAnthropicModel is the model used when none is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5-20250929"

const assessmentSystemPrompt = `You assess bird photographs for use in vocabulary-teaching exercises.
Score the image on four dimensions and respond with a single JSON object, no prose:
{"visibility": 0-40, "clarity": 0-30, "technical": 0-20, "educational": 0-10, "issues": ["..."]}
visibility: how visible the diagnostic features (beak, wing markings, tail, plumage) are.
clarity: focus, lighting, and how unobstructed the subject is.
technical: resolution and absence of compression artifacts.
educational: how many distinct teachable features the image shows clearly.
issues: short notes on anything that limits the image's suitability, empty if none.`

// AnthropicConfig configures the Anthropic-backed assessor.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// AnthropicAssessor implements Assessor against the Anthropic API, sending
// the image and parsing a strict-JSON score reply.
type AnthropicAssessor struct {
	client anthropic.Client
	model  string
	log    zerolog.Logger
}

// NewAnthropicAssessor creates the production assessor.
func NewAnthropicAssessor(cfg AnthropicConfig, log zerolog.Logger) *AnthropicAssessor {
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicAssessor{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  model,
		log:    log.With().Str("component", "vision").Logger(),
	}
}

// assessmentReply is the JSON shape the model is instructed to return.
type assessmentReply struct {
	Visibility  float64  `json:"visibility"`
	Clarity     float64  `json:"clarity"`
	Technical   float64  `json:"technical"`
	Educational float64  `json:"educational"`
	Issues      []string `json:"issues"`
}

// Assess sends one image for scoring. API failures are transient; a reply
// that cannot be parsed is also transient, since a retry usually yields
// well-formed JSON.
func (a *AnthropicAssessor) Assess(ctx context.Context, img ImageRef) (*Result, error) {
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	encoded := base64.StdEncoding.EncodeToString(img.Data)

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: assessmentSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mediaType, encoded),
				anthropic.NewTextBlock("Assess this image."),
			),
		},
	})
	if err != nil {
		return nil, &models.TransientError{Op: "vision assess " + img.ImageID, Err: err}
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, &models.TransientError{Op: "vision assess " + img.ImageID, Err: fmt.Errorf("no text content in response")}
	}

	reply, err := parseAssessmentReply(text)
	if err != nil {
		return nil, &models.TransientError{Op: "vision assess " + img.ImageID, Err: err}
	}

	a.log.Debug().
		Str("image", img.ImageID).
		Float64("visibility", reply.Visibility).
		Float64("clarity", reply.Clarity).
		Msg("image assessed")

	return &Result{
		Scores: models.SubScores{
			Visibility:  reply.Visibility,
			Clarity:     reply.Clarity,
			Technical:   reply.Technical,
			Educational: reply.Educational,
		},
		Issues: reply.Issues,
	}, nil
}

// parseAssessmentReply extracts the JSON object from the model reply,
// tolerating surrounding prose or code fences.
func parseAssessmentReply(text string) (*assessmentReply, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var reply assessmentReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("parse assessment reply: %w", err)
	}
	return &reply, nil
}
