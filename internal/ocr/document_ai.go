package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"scanocr/internal/imaging"
	"scanocr/internal/logger"
	"scanocr/pkg/models"
)

// DocumentAIConfig holds the Document AI processor coordinates.
type DocumentAIConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

// DocumentAIEngine implements Engine with a Document AI OCR processor.
// It is the costly fallback engine.
type DocumentAIEngine struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIEngine creates a regional Document AI client.
func NewDocumentAIEngine(ctx context.Context, config DocumentAIConfig, creds GoogleCredentials) (*DocumentAIEngine, error) {
	const op = "NewDocumentAIEngine"

	if config.ProjectID == "" {
		return nil, NewOCRError(op, EngineDocumentAI, ErrInvalidConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, NewOCRError(op, EngineDocumentAI, ErrInvalidConfiguration, "DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	var clientOptions []option.ClientOption
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	credOptions := creds.options()
	clientOptions = append(clientOptions, credOptions...)

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(credOptions) == 0 {
			return nil, NewOCRError(op, EngineDocumentAI, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, EngineDocumentAI, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return NewDocumentAIEngineWithClient(config, client), nil
}

// NewDocumentAIEngineWithClient wraps an existing client.
func NewDocumentAIEngineWithClient(config DocumentAIConfig, client *documentai.DocumentProcessorClient) *DocumentAIEngine {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &DocumentAIEngine{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
}

func (p *DocumentAIEngine) Name() string { return EngineDocumentAI }

// Recognize processes the page as a raw PNG document.
func (p *DocumentAIEngine) Recognize(ctx context.Context, page *imaging.PageImage, cfg EngineConfig) (*models.RecognitionResult, error) {
	const op = "Recognize"

	content, err := encodePage(op, EngineDocumentAI, page)
	if err != nil {
		return nil, err
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: p.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: "image/png",
			},
		},
	}

	resp, err := p.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, p.handleProcessingError(op, err)
	}
	if resp.Document == nil {
		return nil, NewOCRError(op, EngineDocumentAI, ErrEngineUnavailable, "no document in response")
	}

	result := documentResult(resp.Document)
	p.log.Debug().
		Str("processor", p.config.ProcessorID).
		Int("tokens", len(result.Tokens)).
		Msg("Document AI pass finished")
	return result, nil
}

func (p *DocumentAIEngine) processorName() string {
	if p.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			p.config.ProjectID, p.config.Location, p.config.ProcessorID, p.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		p.config.ProjectID, p.config.Location, p.config.ProcessorID)
}

// handleProcessingError maps Document AI failures onto the engine taxonomy.
func (p *DocumentAIEngine) handleProcessingError(op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "NOT_FOUND") || strings.Contains(errStr, "NotFound"):
		return NewOCRError(op, EngineDocumentAI, ErrEngineUnavailable, fmt.Sprintf("processor not found: %s", p.config.ProcessorID))
	case strings.Contains(errStr, "INVALID_ARGUMENT") || strings.Contains(errStr, "InvalidArgument"):
		return NewOCRError(op, EngineDocumentAI, ErrEngineUnavailable, "document format not supported or corrupted")
	default:
		return classifyError(op, EngineDocumentAI, err)
	}
}

// documentResult reads token text through the layout text anchors and
// scales layout confidences to 0-100.
func documentResult(doc *documentaipb.Document) *models.RecognitionResult {
	var tokens []models.TokenConfidence
	for _, page := range doc.Pages {
		for _, token := range page.Tokens {
			txt := strings.TrimSpace(textFromLayout(token.Layout, doc.Text))
			if txt == "" {
				continue
			}
			var conf float64 = -1
			if token.Layout != nil {
				conf = float64(token.Layout.Confidence) * 100
			}
			tokens = append(tokens, models.TokenConfidence{Token: txt, Confidence: conf})
		}
	}
	return &models.RecognitionResult{Text: strings.TrimSpace(doc.Text), Tokens: tokens}
}

// textFromLayout extracts text from a layout's anchor segments. Offsets
// index runes of the document text.
func textFromLayout(layout *documentaipb.Document_Page_Layout, fullText string) string {
	if layout == nil || layout.TextAnchor == nil {
		return ""
	}
	runes := []rune(fullText)
	total := len(runes)

	var sb strings.Builder
	for _, seg := range layout.TextAnchor.TextSegments {
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > total {
			end = total
		}
		if start > end {
			start = end
		}
		sb.WriteString(string(runes[start:end]))
	}
	return sb.String()
}

// Close closes the Document AI client.
func (p *DocumentAIEngine) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
