package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scanocr/internal/imaging"
	"scanocr/internal/logger"
	"scanocr/internal/textnorm"
	"scanocr/pkg/models"
)

// ProcessorConfig configures document processing.
type ProcessorConfig struct {
	// Workers bounds how many pages are processed concurrently.
	// Zero means one worker per CPU.
	Workers int

	// DocumentTimeout bounds the whole document. Pages still running when it
	// expires are abandoned and the result is marked partial.
	DocumentTimeout time.Duration

	// Preprocess replaces the per-script preset when set.
	Preprocess *imaging.PreprocessConfig

	// Difficult selects the heavy preset for noisy scans.
	Difficult bool

	// Progress is called once per finished page. Calls are serialized.
	Progress func(done, total int, page models.PageResult)
}

// Processor runs normalization, recognition and cleanup for every page of
// a document on a bounded worker pool.
type Processor struct {
	orchestrator *Orchestrator
	cleaner      *textnorm.Normalizer
	cfg          ProcessorConfig
	log          zerolog.Logger
}

// NewProcessor wires the pipeline stages together.
func NewProcessor(orchestrator *Orchestrator, cleaner *textnorm.Normalizer, cfg ProcessorConfig) (*Processor, error) {
	if orchestrator == nil {
		return nil, NewPipelineError("NewProcessor", -1, ErrInvalidPlan, "no orchestrator")
	}
	if cleaner == nil {
		n, err := textnorm.New(textnorm.Options{})
		if err != nil {
			return nil, WrapPipelineError("NewProcessor", -1, err, "text rules")
		}
		cleaner = n
	}
	if cfg.Preprocess != nil {
		if err := cfg.Preprocess.Validate(); err != nil {
			return nil, WrapPipelineError("NewProcessor", -1, err, "preprocess config")
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Processor{
		orchestrator: orchestrator,
		cleaner:      cleaner,
		cfg:          cfg,
		log:          logger.WithComponent("processor"),
	}, nil
}

// PageJob represents a page waiting for a worker.
type PageJob struct {
	Page  *imaging.PageImage
	Index int
}

// Process recognizes every page and assembles the document result.
//
// Page failures are recorded on their PageResult and never stop sibling
// pages. The returned error is only set for document-level problems such
// as an empty document or a script set without a plan.
func (p *Processor) Process(ctx context.Context, pages []*imaging.PageImage, scripts models.ScriptSet) (*models.DocumentResult, error) {
	const op = "Process"

	if len(pages) == 0 {
		return nil, NewPipelineError(op, -1, ErrNoPages, "")
	}
	scripts = models.NewScriptSet(scripts...)
	if _, err := p.orchestrator.plans.For(scripts); err != nil {
		return nil, WrapPipelineError(op, -1, err, "")
	}

	preprocess := imaging.ConfigFor(scripts, p.cfg.Difficult)
	if p.cfg.Preprocess != nil {
		preprocess = *p.cfg.Preprocess
	}

	doc := &models.DocumentResult{
		ID:          uuid.NewString(),
		Pages:       make([]models.PageResult, len(pages)),
		Scripts:     scripts,
		ProcessedAt: time.Now(),
	}
	log := logger.WithRequestID(doc.ID).With().Str("component", "processor").Logger()

	if p.cfg.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DocumentTimeout)
		defer cancel()
	}

	workers := p.cfg.Workers
	if workers > len(pages) {
		workers = len(pages)
	}

	log.Info().
		Int("pages", len(pages)).
		Int("workers", workers).
		Str("scripts", scripts.Key()).
		Str("preprocess", preprocess.Describe()).
		Msg("Processing document")

	start := time.Now()
	jobs := make(chan PageJob, len(pages))

	var processed int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for job := range jobs {
				log.Debug().Int("worker", workerID).Int("page", job.Index).Msg("Worker processing page")

				result := p.processPage(ctx, job, scripts, preprocess, log)

				// Each index is written by exactly one worker.
				doc.Pages[job.Index] = result

				mu.Lock()
				processed++
				if p.cfg.Progress != nil {
					p.cfg.Progress(processed, len(pages), result)
				}
				mu.Unlock()
			}
		}(w)
	}

	for i, page := range pages {
		jobs <- PageJob{Page: page, Index: i}
	}
	close(jobs)

	wg.Wait()

	doc.Partial = ctx.Err() != nil
	doc.ProcessingDuration = time.Since(start)
	doc.Summarize()

	event := log.Info()
	if doc.Partial || doc.FailedPages > 0 {
		event = log.Warn()
	}
	event.
		Float64("confidence", doc.Confidence).
		Int("failed_pages", doc.FailedPages).
		Int("low_confidence_pages", doc.LowConfidence).
		Bool("partial", doc.Partial).
		Dur("duration", doc.ProcessingDuration).
		Msg("Document processed")

	return doc, nil
}

// processPage runs the three page stages. Its errors stay on the page.
func (p *Processor) processPage(ctx context.Context, job PageJob, scripts models.ScriptSet, preprocess imaging.PreprocessConfig, log zerolog.Logger) models.PageResult {
	failed := func(op string, err error) models.PageResult {
		err = WrapPipelineError(op, job.Index, err, "")
		log.Error().Err(err).Int("page", job.Index).Msg("Page failed")
		return models.PageResult{PageIndex: job.Index, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return failed("Process", fmt.Errorf("page not started: %w", err))
	}
	if job.Page == nil {
		return failed("Normalize", imaging.ErrInvalidImage)
	}

	origin := job.Page.Origin()
	origin.PageIndex = job.Index
	page := job.Page.WithOrigin(origin)

	normalized, err := imaging.Normalize(page, preprocess)
	if err != nil {
		return failed("Normalize", err)
	}

	result, err := p.orchestrator.Recognize(ctx, normalized, scripts)
	result.PageIndex = job.Index
	if err != nil {
		failedResult := failed("Recognize", err)
		failedResult.Attempts = result.Attempts
		return failedResult
	}

	result.Text = p.cleaner.Clean(result.Text, scripts)
	return result
}
