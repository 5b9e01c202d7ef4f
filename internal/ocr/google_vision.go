package ocr

import (
	"context"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"

	"scanocr/internal/imaging"
	"scanocr/internal/logger"
	"scanocr/pkg/models"
)

// GoogleVisionEngine implements Engine using Google Cloud Vision document text detection.
type GoogleVisionEngine struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewGoogleVisionEngine creates a Vision client from the given credentials,
// falling back to application default credentials when none are set.
func NewGoogleVisionEngine(ctx context.Context, creds GoogleCredentials) (*GoogleVisionEngine, error) {
	const op = "NewGoogleVisionEngine"

	opts := creds.options()
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, NewOCRError(op, EngineVision, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, EngineVision, err, "failed to create client")
	}

	return NewGoogleVisionEngineWithClient(client), nil
}

// NewGoogleVisionEngineWithClient wraps an existing client.
func NewGoogleVisionEngineWithClient(client *vision.ImageAnnotatorClient) *GoogleVisionEngine {
	return &GoogleVisionEngine{
		client: client,
		log:    logger.WithComponent("google-vision"),
	}
}

func (g *GoogleVisionEngine) Name() string { return EngineVision }

// Recognize sends the page as an inline PNG and reads word confidences.
func (g *GoogleVisionEngine) Recognize(ctx context.Context, page *imaging.PageImage, cfg EngineConfig) (*models.RecognitionResult, error) {
	const op = "Recognize"

	content, err := encodePage(op, EngineVision, page)
	if err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: content},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{
					LanguageHints: cloudLanguages(cfg.Languages),
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, classifyError(op, EngineVision, err)
	}
	if len(resp.Responses) == 0 {
		return nil, NewOCRError(op, EngineVision, ErrEngineUnavailable, "no response from Vision API")
	}
	imgResp := resp.Responses[0]
	if imgResp.Error != nil {
		return nil, classifyError(op, EngineVision, fmt.Errorf("Vision API error: %s", imgResp.Error.Message))
	}

	result := visionResult(imgResp.FullTextAnnotation)
	g.log.Debug().
		Int("words", len(result.Tokens)).
		Strs("language_hints", req.Requests[0].ImageContext.LanguageHints).
		Msg("Vision pass finished")
	return result, nil
}

// visionResult flattens the annotation hierarchy into words. A page with
// no detected text yields an empty result, not an error.
func visionResult(ann *visionpb.TextAnnotation) *models.RecognitionResult {
	if ann == nil {
		return &models.RecognitionResult{}
	}
	var tokens []models.TokenConfidence
	for _, p := range ann.Pages {
		for _, block := range p.Blocks {
			for _, paragraph := range block.Paragraphs {
				for _, word := range paragraph.Words {
					var sb strings.Builder
					for _, symbol := range word.Symbols {
						sb.WriteString(symbol.Text)
					}
					if sb.Len() == 0 {
						continue
					}
					tokens = append(tokens, models.TokenConfidence{
						Token:      sb.String(),
						Confidence: float64(word.Confidence) * 100,
					})
				}
			}
		}
	}
	return &models.RecognitionResult{Text: strings.TrimSpace(ann.Text), Tokens: tokens}
}

// Close closes the underlying Vision client.
func (g *GoogleVisionEngine) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
