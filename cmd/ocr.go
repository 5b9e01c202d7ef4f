package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"scanocr/internal/config"
	"scanocr/internal/imaging"
	"scanocr/internal/logger"
	"scanocr/internal/ocr"
	"scanocr/internal/pipeline"
	"scanocr/internal/review"
	"scanocr/internal/textnorm"
	"scanocr/pkg/models"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [page-image|directory...]",
	Short: "Extract text from scanned pages",
	Long: `Recognize the text of one scanned document. Every argument is a page
image (PNG, JPEG, TIFF, BMP, WebP or GIF); directories contribute their image
files in name order. Rasterize PDFs to page images before calling this.

Pages are processed in parallel. For each page the pass plan of the chosen
script runs until a pass reaches its acceptance threshold; the fallback
engine is only called for pages still below the confidence floor.

Relevant environment variables:
  TESSDATA_PREFIX, TESSDATA_BEST_PREFIX - Tesseract trained data
  FALLBACK_ENGINE                       - documentai, vision or none
  GOOGLE_APPLICATION_CREDENTIALS        - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS                    - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID - Document AI fallback
  NEURAL_PASS, OPENAI_API_KEY           - optional vision LLM pass`,
	Example: `  # English letter, text to stdout
  scanocr ocr letter.png

  # Bangla book scan split into page images
  scanocr ocr --script bangla scans/

  # Mixed pages, JSON with per-page confidence and pass history
  scanocr ocr --script mixed --json -o result.json p1.tif p2.tif

  # Noisy photocopy, flag weak pages for review
  scanocr ocr --aggressive --review-sheet https://docs.google.com/spreadsheets/d/ID/edit copy.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	Text               string                 `json:"text"`
	Files              []string               `json:"files"`
	Document           *models.DocumentResult `json:"document"`
	ProcessingDuration string                 `json:"processing_duration"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("script", "s", "english", "Script of the document: english, bangla or mixed")
	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().BoolP("metadata", "m", false, "Include per-page metadata in text output")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().Int("timeout", 0, "Document timeout in seconds (default: OCR_DOCUMENT_TIMEOUT)")
	ocrCmd.Flags().Int("workers", 0, "Pages processed in parallel (default: OCR_WORKERS)")
	ocrCmd.Flags().Int("dpi", 0, "Source resolution of the scans when known")
	ocrCmd.Flags().String("plan", "", "YAML pass plan file (default: OCR_PLAN_FILE or built-in plans)")
	ocrCmd.Flags().String("crop", "", "Margin crop percents top,bottom,left,right (default: PREPROCESS_CROP or preset)")
	ocrCmd.Flags().Bool("aggressive", false, "Use the heavy preprocessing preset and the blacklist pass for noisy scans")
	ocrCmd.Flags().String("skip-rules", "", "Text cleanup rules to skip: confusions,cross-script,duplications,boundaries")
	ocrCmd.Flags().String("review-sheet", "", "Google Sheet URL for low-confidence pages (default: REVIEW_SHEET_URL)")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scriptFlag, _ := cmd.Flags().GetString("script")
	outputPath, _ := cmd.Flags().GetString("output")
	includeMetadata, _ := cmd.Flags().GetBool("metadata")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	workers, _ := cmd.Flags().GetInt("workers")
	dpi, _ := cmd.Flags().GetInt("dpi")
	planFile, _ := cmd.Flags().GetString("plan")
	crop, _ := cmd.Flags().GetString("crop")
	aggressive, _ := cmd.Flags().GetBool("aggressive")
	skipRules, _ := cmd.Flags().GetString("skip-rules")
	sheetURL, _ := cmd.Flags().GetString("review-sheet")

	scripts, err := parseScripts(scriptFlag)
	if err != nil {
		return err
	}

	files, err := collectPageFiles(args)
	if err != nil {
		return err
	}
	pages, err := loadPages(files, dpi)
	if err != nil {
		return handleOCRError(err, log)
	}

	log.Info().
		Int("pages", len(pages)).
		Str("scripts", scripts.Key()).
		Bool("aggressive", aggressive).
		Msg("Starting OCR processing")

	processor, registry, err := buildProcessor(cmd.Context(), cfg, processorOptions{
		scripts:    scriptFlag,
		planFile:   planFile,
		crop:       crop,
		aggressive: aggressive,
		skipRules:  skipRules,
		workers:    workers,
		timeout:    time.Duration(timeoutSecs) * time.Second,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := registry.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close engines")
		}
	}()

	ctx, cancel := createContext(log)
	defer cancel()

	startTime := time.Now()
	doc, err := processor.Process(ctx, pages, scripts)
	if err != nil {
		return handleOCRError(err, log)
	}

	log.Info().
		Str("document_id", doc.ID).
		Float64("confidence", doc.Confidence).
		Int("characters", doc.CharacterCount).
		Int("failed_pages", doc.FailedPages).
		Dur("duration", time.Since(startTime)).
		Msg("OCR processing completed")

	if sheetURL == "" {
		sheetURL = cfg.ReviewSheetURL
	}
	if sheetURL != "" {
		exportReview(ctx, cfg, sheetURL, strings.Join(files, ", "), doc, log)
	}

	if err := outputResults(doc, files, outputPath, jsonOutput, includeMetadata, time.Since(startTime), log); err != nil {
		return err
	}

	if doc.FailedPages == len(doc.Pages) {
		return handleOCRError(firstPageError(doc), log)
	}
	return nil
}

type processorOptions struct {
	scripts    string
	planFile   string
	crop       string
	aggressive bool
	skipRules  string
	workers    int
	timeout    time.Duration
}

// buildProcessor wires plans, engines, preprocessing and cleanup from the
// configuration and the command flags.
func buildProcessor(ctx context.Context, cfg *config.Config, opts processorOptions, log zerolog.Logger) (*pipeline.Processor, *ocr.Registry, error) {
	plans, err := buildPlans(cfg, opts.planFile, opts.aggressive)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load pass plans: %w", err)
	}

	defaultCrop, err := cfg.Margins()
	if err != nil {
		return nil, nil, err
	}
	preprocess, err := preprocessFor(opts.scripts, opts.aggressive, opts.crop, defaultCrop)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid preprocessing settings: %w", err)
	}

	textOpts, err := cfg.TextOptions()
	if err != nil {
		return nil, nil, err
	}
	if opts.skipRules != "" {
		if textOpts, err = textnorm.ParseSkipRules(opts.skipRules); err != nil {
			return nil, nil, err
		}
	}
	cleaner, err := textnorm.New(textOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load text rules: %w", err)
	}

	registry := buildRegistry(ctx, cfg, plans, log)
	if len(registry.Names()) == 0 {
		return nil, nil, fmt.Errorf("no recognition engine could be configured: %w", ocr.ErrEngineUnavailable)
	}

	orchestrator, err := pipeline.NewOrchestrator(registry, plans)
	if err != nil {
		registry.Close()
		return nil, nil, err
	}

	workers := cfg.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}
	timeout := cfg.DocumentTimeout
	if opts.timeout > 0 {
		timeout = opts.timeout
	}

	processor, err := pipeline.NewProcessor(orchestrator, cleaner, pipeline.ProcessorConfig{
		Workers:         workers,
		DocumentTimeout: timeout,
		Preprocess:      &preprocess,
		Progress: func(done, total int, page models.PageResult) {
			status := "ok"
			switch {
			case page.Failed():
				status = "failed"
			case page.Blank:
				status = "blank"
			case page.LowConfidence:
				status = "low confidence"
			}
			fmt.Fprintf(os.Stderr, "[%d/%d] page %d - %s (%.1f%%)\n", done, total, page.PageIndex+1, status, page.Confidence)
		},
	})
	if err != nil {
		registry.Close()
		return nil, nil, err
	}
	return processor, registry, nil
}

// createContext returns a context canceled on interrupt signals. The
// document timeout itself is applied by the processor.
func createContext(log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling OCR processing")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func exportReview(ctx context.Context, cfg *config.Config, sheetURL, source string, doc *models.DocumentResult, log zerolog.Logger) {
	creds, err := cfg.ServiceAccountJSON()
	if err != nil {
		log.Warn().Err(err).Msg("Review export skipped")
		return
	}
	svc, err := review.NewService(ctx, sheetURL, creds)
	if err != nil {
		log.Warn().Err(err).Msg("Review export skipped")
		return
	}
	n, err := svc.ExportDocument(ctx, source, doc, cfg.ReviewSheetName)
	if err != nil {
		log.Warn().Err(err).Msg("Review export failed")
		return
	}
	log.Info().Int("rows", n).Msg("Pages exported for review")
}

func firstPageError(doc *models.DocumentResult) error {
	for _, p := range doc.Pages {
		if p.Err != nil {
			return p.Err
		}
	}
	return pipeline.ErrAllPassesFailed
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out. Try increasing --timeout or using fewer passes")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("OCR processing was canceled")
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported image format. Use PNG, JPEG, TIFF, BMP, WebP or GIF page images: %w", err)
	case errors.Is(err, imaging.ErrInvalidImage):
		return fmt.Errorf("invalid or corrupted page image: %w", err)
	case errors.Is(err, imaging.ErrInvalidConfig):
		return fmt.Errorf("invalid preprocessing settings: %w", err)
	case errors.Is(err, pipeline.ErrInvalidPlan):
		return fmt.Errorf("pass plan is invalid: %w", err)
	case errors.Is(err, ocr.ErrEngineTimeout):
		return fmt.Errorf("every recognition pass timed out. Increase the pass timeouts in the plan file: %w", err)
	case errors.Is(err, ocr.ErrMissingCredentials):
		return fmt.Errorf("cloud engine credentials are missing or invalid. Set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS, or FALLBACK_ENGINE=none: %w", err)
	case errors.Is(err, ocr.ErrQuotaExceeded):
		return fmt.Errorf("cloud OCR quota exceeded. Check your project quotas in the Google Cloud Console")
	case errors.Is(err, ocr.ErrEngineUnavailable):
		return fmt.Errorf("no recognition engine could read the pages. Check that Tesseract and the ben/eng trained data are installed (TESSDATA_PREFIX): %w", err)
	case errors.Is(err, pipeline.ErrAllPassesFailed):
		return fmt.Errorf("no readable text found. The pages may be blank, too noisy or in another script: %w", err)
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}

// outputResults formats and outputs the OCR results
func outputResults(doc *models.DocumentResult, files []string, outputPath string, jsonOutput, includeMetadata bool, duration time.Duration, log zerolog.Logger) error {
	var outputData []byte

	if jsonOutput {
		var err error
		outputData, err = json.MarshalIndent(OCROutput{
			Text:               doc.Text(),
			Files:              files,
			Document:           doc,
			ProcessingDuration: duration.String(),
		}, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
	} else {
		outputData = []byte(formatText(doc, files, includeMetadata))
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, outputData, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(outputData)).
			Msg("OCR results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(outputData); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	if !jsonOutput {
		fmt.Println()
	}
	return nil
}

func formatText(doc *models.DocumentResult, files []string, includeMetadata bool) string {
	if !includeMetadata {
		return doc.Text()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== OCR Results (%s) ===\n", doc.ID)
	fmt.Fprintf(&b, "Scripts: %s\n", doc.Scripts)
	fmt.Fprintf(&b, "Pages: %d (failed %d, low confidence %d)\n", len(doc.Pages), doc.FailedPages, doc.LowConfidence)
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", doc.Confidence)
	fmt.Fprintf(&b, "Characters: %d\n", doc.CharacterCount)
	if doc.Partial {
		b.WriteString("Partial: document timed out or was canceled\n")
	}
	fmt.Fprintf(&b, "Processing time: %v\n", doc.ProcessingDuration)

	for i, p := range doc.Pages {
		name := ""
		if i < len(files) {
			name = filepath.Base(files[i])
		}
		fmt.Fprintf(&b, "\n=== Page %d %s ===\n", p.PageIndex+1, name)
		switch {
		case p.Failed():
			fmt.Fprintf(&b, "Error: %s\n", p.ErrorMsg)
			continue
		case p.Blank:
			b.WriteString("Blank page\n")
			continue
		}
		flag := ""
		if p.LowConfidence {
			flag = " (low confidence)"
		}
		fmt.Fprintf(&b, "Pass: %s via %s, confidence %.1f%%%s\n\n", p.Pass, p.Engine, p.Confidence, flag)
		b.WriteString(p.Text)
		b.WriteString("\n")
	}
	return b.String()
}
