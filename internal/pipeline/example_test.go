package pipeline_test

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"scanocr/internal/imaging"
	"scanocr/internal/ocr"
	"scanocr/internal/pipeline"
	"scanocr/pkg/models"
)

// staticEngine always returns the same recognition.
type staticEngine struct {
	name   string
	result models.RecognitionResult
}

func (e staticEngine) Name() string { return e.name }

func (e staticEngine) Recognize(ctx context.Context, page *imaging.PageImage, cfg ocr.EngineConfig) (*models.RecognitionResult, error) {
	res := e.result
	return &res, nil
}

func scannedPage() *imaging.PageImage {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for y := 8; y < 24; y++ {
		img.SetGray(16, y, color.Gray{Y: 0})
	}
	page, _ := imaging.NewPageImage(img, imaging.Origin{DPI: 300})
	return page
}

func Example() {
	latin := models.NewScriptSet(models.ScriptLatin)

	plans, err := pipeline.NewPlanSet(80, pipeline.PassPlan{
		Scripts: latin,
		Passes: []pipeline.Pass{
			{Name: "book", Config: ocr.EngineConfig{Engine: "local"}, AcceptThreshold: 85},
			{Name: "cloud", Config: ocr.EngineConfig{Engine: "cloud"}, AcceptThreshold: 80, Fallback: true},
		},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	engines := ocr.NewRegistry(
		staticEngine{name: "local", result: models.RecognitionResult{
			Text:   "T had left",
			Tokens: []models.TokenConfidence{{Token: "T", Confidence: 40}, {Token: "had", Confidence: 60}, {Token: "left", Confidence: 50}},
		}},
		staticEngine{name: "cloud", result: models.RecognitionResult{
			Text:   "I had left",
			Tokens: []models.TokenConfidence{{Token: "I", Confidence: 96}, {Token: "had", Confidence: 94}, {Token: "left", Confidence: -1}},
		}},
	)

	orchestrator, err := pipeline.NewOrchestrator(engines, plans)
	if err != nil {
		fmt.Println(err)
		return
	}
	processor, err := pipeline.NewProcessor(orchestrator, nil, pipeline.ProcessorConfig{
		Workers:    2,
		Preprocess: &imaging.PreprocessConfig{Name: "plain"},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	doc, err := processor.Process(context.Background(), []*imaging.PageImage{scannedPage()}, latin)
	if err != nil {
		fmt.Println(err)
		return
	}

	page := doc.Pages[0]
	fmt.Printf("%s %.0f %q\n", page.Pass, page.Confidence, page.Text)
	for _, a := range page.Attempts {
		fmt.Printf("%s %.0f\n", a.Pass, a.Confidence)
	}
	// Output:
	// cloud 95 "I had left"
	// book 50
	// cloud 95
}
