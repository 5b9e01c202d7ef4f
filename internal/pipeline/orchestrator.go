package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"scanocr/internal/confidence"
	"scanocr/internal/imaging"
	"scanocr/internal/logger"
	"scanocr/internal/ocr"
	"scanocr/pkg/models"
)

// DefaultBlankRatio is the foreground share below which a normalized page is
// treated as blank and no engine is invoked.
const DefaultBlankRatio = 0.0005

// Orchestrator runs the pass plan for a page, escalating to the next pass
// only while the current result stays below its acceptance threshold.
// Passes of one page always run sequentially.
type Orchestrator struct {
	engines    *ocr.Registry
	plans      *PlanSet
	blankRatio float64
	log        zerolog.Logger
}

// NewOrchestrator creates an orchestrator over the registered engines.
// Engines referenced by a plan but missing from the registry fail their
// passes with ocr.ErrEngineUnavailable at recognition time.
func NewOrchestrator(engines *ocr.Registry, plans *PlanSet) (*Orchestrator, error) {
	if engines == nil {
		return nil, NewPipelineError("NewOrchestrator", -1, ocr.ErrEngineUnavailable, "no engine registry")
	}
	if plans == nil {
		return nil, NewPipelineError("NewOrchestrator", -1, ErrInvalidPlan, "no plans")
	}

	o := &Orchestrator{
		engines:    engines,
		plans:      plans,
		blankRatio: DefaultBlankRatio,
		log:        logger.WithComponent("orchestrator"),
	}
	for _, name := range plans.Engines() {
		if !engines.Has(name) {
			o.log.Warn().Str("engine", name).Msg("Engine referenced by pass plan is not configured")
		}
	}
	return o, nil
}

// SetBlankRatio overrides DefaultBlankRatio. Zero disables blank detection.
func (o *Orchestrator) SetBlankRatio(ratio float64) { o.blankRatio = ratio }

// Floor returns the global confidence floor.
func (o *Orchestrator) Floor() float64 { return o.plans.Floor }

type candidate struct {
	pass   Pass
	result *models.RecognitionResult
	conf   float64
}

// Recognize selects the best recognition of a normalized page.
//
// The returned PageResult carries the winning pass's raw text; cleanup is
// left to the caller. Engine failures are recorded as zero-confidence
// attempts and escalation continues. Only when no pass produced a usable
// result does Recognize fail, with an error matching ErrAllPassesFailed.
func (o *Orchestrator) Recognize(ctx context.Context, page *imaging.PageImage, scripts models.ScriptSet) (models.PageResult, error) {
	const op = "Recognize"

	if page == nil {
		return models.PageResult{}, NewPipelineError(op, -1, imaging.ErrInvalidImage, "nil page")
	}
	index := page.Origin().PageIndex
	out := models.PageResult{PageIndex: index}

	plan, err := o.plans.For(scripts)
	if err != nil {
		return out, WrapPipelineError(op, index, err, "")
	}

	log := o.log.With().Int("page", index).Str("scripts", plan.Scripts.Key()).Logger()

	if o.blankRatio > 0 && imaging.IsBlank(page, o.blankRatio) {
		log.Info().Msg("Page is blank, skipping recognition")
		out.Blank = true
		out.Raw = &models.RecognitionResult{}
		return out, nil
	}

	multi := len(plan.Scripts) > 1
	var best *candidate
	var failures, timeouts, executed int

	for i, pass := range plan.Passes {
		if err := ctx.Err(); err != nil {
			return out, NewPipelineError(op, index, err, "recognition abandoned")
		}
		if pass.Fallback && best != nil && best.conf >= o.plans.Floor {
			log.Debug().Str("pass", pass.Name).Float64("best", best.conf).Msg("Floor reached, fallback not needed")
			break
		}

		start := time.Now()
		res, err := o.invoke(ctx, page, pass)
		attempt := models.PassAttempt{
			Pass:     pass.Name,
			Engine:   pass.Config.Engine,
			Duration: time.Since(start),
		}
		executed++

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				out.Attempts = append(out.Attempts, attempt)
				return out, NewPipelineError(op, index, ctxErr, "recognition abandoned")
			}
			failures++
			if ocr.IsTimeout(err) {
				timeouts++
			}
			attempt.Error = err.Error()
			out.Attempts = append(out.Attempts, attempt)
			log.Warn().Err(err).Str("pass", pass.Name).Int("index", i).Msg("Pass failed, escalating")
			continue
		}

		if multi && pass.TargetScript != "" {
			res = keepScript(res, pass.TargetScript)
		}
		conf := confidence.Of(res)
		attempt.Confidence = conf
		out.Attempts = append(out.Attempts, attempt)

		log.Debug().
			Str("pass", pass.Name).
			Str("config", pass.Config.Describe()).
			Float64("confidence", conf).
			Float64("threshold", pass.AcceptThreshold).
			Dur("duration", attempt.Duration).
			Msg("Pass completed")

		// Ties keep the earlier, cheaper pass.
		if best == nil || conf > best.conf {
			best = &candidate{pass: pass, result: res, conf: conf}
		}
		if conf >= pass.AcceptThreshold {
			break
		}
	}

	if best == nil || best.conf <= confidence.Min {
		err := ErrAllPassesFailed
		if failures == executed && failures > 0 {
			cause := ocr.ErrEngineUnavailable
			if timeouts == failures {
				cause = ocr.ErrEngineTimeout
			}
			err = errors.Join(ErrAllPassesFailed, cause)
		}
		log.Error().Int("passes", executed).Int("failures", failures).Msg("No pass produced a usable result")
		return out, NewPipelineError(op, index, err, fmt.Sprintf("%d passes, %d failed", executed, failures))
	}

	out.Raw = best.result
	out.Text = best.result.Text
	out.Confidence = best.conf
	out.Pass = best.pass.Name
	out.Engine = best.pass.Config.Engine
	out.LowConfidence = best.conf < o.plans.Floor

	log.Info().
		Str("pass", out.Pass).
		Str("engine", out.Engine).
		Float64("confidence", out.Confidence).
		Bool("low_confidence", out.LowConfidence).
		Int("passes", executed).
		Msg("Page recognized")

	return out, nil
}

type outcome struct {
	result *models.RecognitionResult
	err    error
}

// invoke runs one pass under the pass timeout. A call that outlives its
// context is abandoned; its goroutine finishes in the background.
func (o *Orchestrator) invoke(ctx context.Context, page *imaging.PageImage, pass Pass) (*models.RecognitionResult, error) {
	engine, err := o.engines.Get(pass.Config.Engine)
	if err != nil {
		return nil, err
	}

	cfg := pass.Config
	if cfg.DPI == 0 {
		cfg.DPI = page.Origin().DPI
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		res, err := engine.Recognize(ctx, page, cfg)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if ctx.Err() != nil {
				return nil, contextError(ctx, pass)
			}
			return nil, out.err
		}
		if out.result == nil {
			return &models.RecognitionResult{}, nil
		}
		return out.result, nil
	case <-ctx.Done():
		return nil, contextError(ctx, pass)
	}
}

func contextError(ctx context.Context, pass Pass) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ocr.NewOCRError("Recognize", pass.Config.Engine, ocr.ErrEngineTimeout,
			fmt.Sprintf("pass %s exceeded %s", pass.Name, pass.Config.Timeout))
	}
	return ocr.NewOCRError("Recognize", pass.Config.Engine, ocr.ErrContextCanceled, pass.Name)
}
