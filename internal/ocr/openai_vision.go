package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"scanocr/internal/imaging"
	"scanocr/internal/logger"
	"scanocr/pkg/models"
)

// DefaultOpenAIModel is used when the pass config names no model.
const DefaultOpenAIModel = openai.GPT4o

const transcribePrompt = `You are an OCR engine. Transcribe every line of text in the image exactly as printed, in reading order.
Keep line breaks. Do not translate, summarize, correct spelling or add commentary. Output only the transcription.`

// OpenAIVisionEngine is the neural pass: a vision-capable chat model
// transcribes the page and token log-probabilities supply the confidence.
type OpenAIVisionEngine struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

// NewOpenAIVisionEngine creates an engine for apiKey.
func NewOpenAIVisionEngine(apiKey, model string) (*OpenAIVisionEngine, error) {
	if apiKey == "" {
		return nil, NewOCRError("NewOpenAIVisionEngine", EngineOpenAI, ErrMissingCredentials, "OPENAI_API_KEY is not set")
	}
	return NewOpenAIVisionEngineWithClient(openai.NewClient(apiKey), model), nil
}

// NewOpenAIVisionEngineWithClient wraps an existing client.
func NewOpenAIVisionEngineWithClient(client *openai.Client, model string) *OpenAIVisionEngine {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIVisionEngine{
		client: client,
		model:  model,
		log:    logger.WithComponent("openai-vision"),
	}
}

func (o *OpenAIVisionEngine) Name() string { return EngineOpenAI }

// Recognize sends the page as a data URL and asks for log-probabilities.
func (o *OpenAIVisionEngine) Recognize(ctx context.Context, page *imaging.PageImage, cfg EngineConfig) (*models.RecognitionResult, error) {
	const op = "Recognize"

	content, err := encodePage(op, EngineOpenAI, page)
	if err != nil {
		return nil, err
	}
	model := o.model
	if cfg.Model != "" {
		model = cfg.Model
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0,
		LogProbs:    true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: transcribePrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: languageInstruction(cfg.Languages)},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(content),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, o.handleError(op, err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewOCRError(op, EngineOpenAI, ErrEngineUnavailable, "no choices in response")
	}

	choice := resp.Choices[0]
	var tokens []models.TokenConfidence
	if choice.LogProbs != nil {
		tokens = wordsFromLogProbs(choice.LogProbs.Content)
	}

	o.log.Debug().
		Str("model", model).
		Int("words", len(tokens)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("LLM pass finished")

	return &models.RecognitionResult{Text: strings.TrimSpace(choice.Message.Content), Tokens: tokens}, nil
}

func (o *OpenAIVisionEngine) handleError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return NewOCRError(op, EngineOpenAI, errors.Join(ErrEngineUnavailable, ErrMissingCredentials), apiErr.Message)
		case http.StatusTooManyRequests:
			return NewOCRError(op, EngineOpenAI, errors.Join(ErrEngineUnavailable, ErrQuotaExceeded), apiErr.Message)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return NewOCRError(op, EngineOpenAI, ErrEngineTimeout, apiErr.Message)
		}
	}
	return classifyError(op, EngineOpenAI, err)
}

func languageInstruction(langs []string) string {
	names := make([]string, 0, len(langs))
	for _, l := range langs {
		switch l {
		case "eng":
			names = append(names, "English")
		case "ben":
			names = append(names, "Bengali")
		default:
			names = append(names, l)
		}
	}
	if len(names) == 0 {
		return "Transcribe this page."
	}
	return fmt.Sprintf("Transcribe this page. Expected language: %s.", strings.Join(names, " and "))
}

// wordsFromLogProbs regroups model tokens into whitespace-separated words.
// A word's confidence is exp(mean log-probability of the tokens that
// contributed to it) scaled to 0-100. Token text is joined byte-wise so
// multi-byte characters split across tokens are reassembled.
func wordsFromLogProbs(lps []openai.LogProb) []models.TokenConfidence {
	var out []models.TokenConfidence
	var word []byte
	var sum float64
	var n int

	flush := func() {
		if len(word) > 0 && n > 0 {
			out = append(out, models.TokenConfidence{
				Token:      string(word),
				Confidence: 100 * math.Exp(sum/float64(n)),
			})
		}
		word = word[:0]
		sum, n = 0, 0
	}

	for _, lp := range lps {
		raw := lp.Token
		if len(lp.Bytes) > 0 {
			raw = string(lp.Bytes)
		}
		counted := false
		for i := 0; i < len(raw); i++ {
			switch raw[i] {
			case ' ', '\n', '\t', '\r':
				flush()
				counted = false
				continue
			}
			word = append(word, raw[i])
			if !counted {
				sum += lp.LogProb
				n++
				counted = true
			}
		}
	}
	flush()
	return out
}
