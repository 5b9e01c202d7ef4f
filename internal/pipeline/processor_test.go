package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scanocr/internal/imaging"
	"scanocr/internal/ocr"
	"scanocr/internal/textnorm"
	"scanocr/pkg/models"
)

// pageEngine answers by page index so results can be checked for ordering.
type pageEngine struct {
	mu      sync.Mutex
	replies map[int]fakeReply
	calls   int
}

func (e *pageEngine) Name() string { return "local" }

func (e *pageEngine) Recognize(ctx context.Context, page *imaging.PageImage, cfg ocr.EngineConfig) (*models.RecognitionResult, error) {
	e.mu.Lock()
	e.calls++
	reply, ok := e.replies[page.Origin().PageIndex]
	e.mu.Unlock()

	if !ok {
		return nil, errors.New("no reply scripted")
	}
	if reply.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return reply.result, reply.err
}

// concurrencyEngine records the highest number of overlapping Recognize calls.
type concurrencyEngine struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (e *concurrencyEngine) Name() string { return "local" }

func (e *concurrencyEngine) Recognize(ctx context.Context, page *imaging.PageImage, cfg ocr.EngineConfig) (*models.RecognitionResult, error) {
	e.calls.Add(1)
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		peak := e.peak.Load()
		if n <= peak || e.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return scored(90, "page", "text").result, nil
}

// passthrough leaves the small test pages unchanged apart from grayscale.
var passthrough = imaging.PreprocessConfig{Name: "test"}

func newTestProcessor(t *testing.T, engine ocr.Engine, cfg ProcessorConfig) *Processor {
	t.Helper()
	plan := PassPlan{Scripts: latinOnly, Passes: []Pass{pass("book", "local", 85)}}
	o := newTestOrchestrator(t, 80, plan, engine)
	if cfg.Preprocess == nil {
		cfg.Preprocess = &passthrough
	}
	p, err := NewProcessor(o, nil, cfg)
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	return p
}

func TestProcess_OrderAndAggregates(t *testing.T) {
	engine := &pageEngine{replies: map[int]fakeReply{
		0: scored(90, "T", "had", "left,", "1", "was", "trying"),
		1: scored(70, "second", "page"),
		2: scored(95, "third"),
		3: scored(85, "fourth"),
	}}
	var progress int
	p := newTestProcessor(t, engine, ProcessorConfig{
		Workers:  3,
		Progress: func(done, total int, page models.PageResult) { progress++ },
	})

	pages := make([]*imaging.PageImage, 4)
	for i := range pages {
		pages[i] = inkPage(t, 0, true)
	}

	doc, err := p.Process(context.Background(), pages, latinOnly)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(doc.Pages) != 4 {
		t.Fatalf("pages = %d, want 4", len(doc.Pages))
	}
	for i, page := range doc.Pages {
		if page.PageIndex != i {
			t.Errorf("Pages[%d].PageIndex = %d", i, page.PageIndex)
		}
	}
	if got := doc.Pages[0].Text; got != "I had left, I was trying" {
		t.Errorf("Pages[0].Text = %q, want cleaned text", got)
	}
	if doc.Pages[0].Raw.Text != "T had left, 1 was trying" {
		t.Errorf("Raw text changed: %q", doc.Pages[0].Raw.Text)
	}
	if doc.Pages[1].Text != "second page" || !doc.Pages[1].LowConfidence {
		t.Errorf("Pages[1] = %+v", doc.Pages[1])
	}
	if doc.Confidence != 85 {
		t.Errorf("document Confidence = %.2f, want 85", doc.Confidence)
	}
	if doc.LowConfidence != 1 || doc.FailedPages != 0 || doc.Partial {
		t.Errorf("summary = low %d failed %d partial %v", doc.LowConfidence, doc.FailedPages, doc.Partial)
	}
	if doc.ID == "" {
		t.Error("document ID not set")
	}
	if progress != 4 {
		t.Errorf("progress calls = %d, want 4", progress)
	}
}

func TestProcess_WorkersBoundConcurrency(t *testing.T) {
	engine := &concurrencyEngine{}
	p := newTestProcessor(t, engine, ProcessorConfig{Workers: 2})

	pages := make([]*imaging.PageImage, 8)
	for i := range pages {
		pages[i] = inkPage(t, 0, true)
	}

	doc, err := p.Process(context.Background(), pages, latinOnly)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if peak := engine.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrent Recognize calls = %d, want <= 2", peak)
	}
	if calls := engine.calls.Load(); calls != 8 {
		t.Fatalf("Recognize calls = %d, want 8", calls)
	}
	if len(doc.Pages) != 8 {
		t.Fatalf("pages = %d, want 8", len(doc.Pages))
	}
	for i, page := range doc.Pages {
		if page.PageIndex != i || page.Failed() || page.Text != "page text" {
			t.Errorf("Pages[%d] = index %d failed %v text %q", i, page.PageIndex, page.Failed(), page.Text)
		}
	}
}

func TestProcess_PageFailureIsolated(t *testing.T) {
	engine := &pageEngine{replies: map[int]fakeReply{
		0: scored(90, "good"),
		1: failing(ocr.ErrEngineUnavailable),
		2: scored(80, "also", "good"),
	}}
	p := newTestProcessor(t, engine, ProcessorConfig{Workers: 2})

	pages := []*imaging.PageImage{inkPage(t, 0, true), inkPage(t, 0, true), inkPage(t, 0, true), nil}
	doc, err := p.Process(context.Background(), pages, latinOnly)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if !errors.Is(doc.Pages[1].Err, ErrAllPassesFailed) || !errors.Is(doc.Pages[1].Err, ocr.ErrEngineUnavailable) {
		t.Errorf("Pages[1].Err = %v", doc.Pages[1].Err)
	}
	if doc.Pages[1].ErrorMsg == "" || len(doc.Pages[1].Attempts) != 1 {
		t.Errorf("Pages[1] = %+v, want error message and attempt", doc.Pages[1])
	}
	if !errors.Is(doc.Pages[3].Err, imaging.ErrInvalidImage) {
		t.Errorf("Pages[3].Err = %v, want ErrInvalidImage", doc.Pages[3].Err)
	}
	if doc.Pages[0].Failed() || doc.Pages[2].Failed() {
		t.Error("sibling pages failed")
	}
	if doc.FailedPages != 2 {
		t.Errorf("FailedPages = %d, want 2", doc.FailedPages)
	}
	if doc.Confidence != 85 {
		t.Errorf("Confidence = %.2f, want mean of surviving pages 85", doc.Confidence)
	}
	if doc.Text() != "good\n\nalso good" {
		t.Errorf("Text() = %q", doc.Text())
	}
}

func TestProcess_BlankPage(t *testing.T) {
	engine := &pageEngine{replies: map[int]fakeReply{0: scored(90, "ghost")}}
	p := newTestProcessor(t, engine, ProcessorConfig{Workers: 1})

	doc, err := p.Process(context.Background(), []*imaging.PageImage{inkPage(t, 0, false)}, latinOnly)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	page := doc.Pages[0]
	if page.Failed() || !page.Blank || page.Text != "" || page.Confidence != 0 {
		t.Errorf("blank page = %+v", page)
	}
	if engine.calls != 0 {
		t.Errorf("engine calls = %d, want 0", engine.calls)
	}
}

func TestProcess_DocumentTimeoutKeepsFinishedPages(t *testing.T) {
	engine := &pageEngine{replies: map[int]fakeReply{
		0: scored(90, "done"),
		1: {block: true},
	}}
	p := newTestProcessor(t, engine, ProcessorConfig{Workers: 2, DocumentTimeout: 50 * time.Millisecond})

	doc, err := p.Process(context.Background(), []*imaging.PageImage{inkPage(t, 0, true), inkPage(t, 0, true)}, latinOnly)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !doc.Partial {
		t.Error("Partial = false, want true")
	}
	if doc.Pages[0].Failed() || doc.Pages[0].Text != "done" {
		t.Errorf("Pages[0] = %+v, want finished page", doc.Pages[0])
	}
	if !doc.Pages[1].Failed() {
		t.Error("Pages[1] succeeded, want abandoned")
	}
	if doc.Confidence != 90 {
		t.Errorf("Confidence = %.1f, want 90", doc.Confidence)
	}
}

func TestProcess_DocumentErrors(t *testing.T) {
	p := newTestProcessor(t, &pageEngine{}, ProcessorConfig{})

	if _, err := p.Process(context.Background(), nil, latinOnly); !errors.Is(err, ErrNoPages) {
		t.Errorf("Process(no pages) error = %v, want ErrNoPages", err)
	}
	pages := []*imaging.PageImage{inkPage(t, 0, true)}
	if _, err := p.Process(context.Background(), pages, models.NewScriptSet(models.ScriptBengali)); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("Process(bengali) error = %v, want ErrInvalidPlan", err)
	}
}

func TestNewProcessor_Validation(t *testing.T) {
	if _, err := NewProcessor(nil, nil, ProcessorConfig{}); err == nil {
		t.Error("NewProcessor(nil) error = nil")
	}

	plan := PassPlan{Scripts: latinOnly, Passes: []Pass{pass("book", "local", 85)}}
	o := newTestOrchestrator(t, 80, plan)
	bad := imaging.PreprocessConfig{Binarization: imaging.BinarizeAdaptive, AdaptiveBlockSize: 4}
	if _, err := NewProcessor(o, nil, ProcessorConfig{Preprocess: &bad}); !errors.Is(err, imaging.ErrInvalidConfig) {
		t.Errorf("NewProcessor(bad preprocess) error = %v, want ErrInvalidConfig", err)
	}

	cleaner, err := textnorm.New(textnorm.Options{SkipBoundaries: true})
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewProcessor(o, cleaner, ProcessorConfig{})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	if p.cfg.Workers < 1 {
		t.Errorf("Workers = %d, want CPU default", p.cfg.Workers)
	}
}
