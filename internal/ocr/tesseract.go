package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"scanocr/internal/imaging"
	"scanocr/internal/logger"
	"scanocr/pkg/models"
)

// Tesseract page segmentation modes used by the pass presets.
const (
	PSMAuto   = 3  // fully automatic layout analysis
	PSMColumn = 4  // single column of variable-size text
	PSMBook   = 6  // single uniform block of text
	PSMSparse = 11 // sparse text in no particular order
)

// Trained data flavours.
const (
	ModelBest     = "best"
	ModelStandard = "standard"
)

// TesseractEngine runs the local Tesseract engine. A fresh client is created
// per call, so concurrent page workers never share Tesseract state.
type TesseractEngine struct {
	clientFactory func() *gosseract.Client
	log           zerolog.Logger
}

// NewTesseractEngine constructs a Tesseract-backed engine.
func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{
		clientFactory: gosseract.NewClient,
		log:           logger.WithComponent("tesseract"),
	}
}

func (e *TesseractEngine) Name() string { return EngineTesseract }

// Version reports the linked Tesseract library version.
func (e *TesseractEngine) Version() string {
	c := e.clientFactory()
	defer c.Close()
	return c.Version()
}

// Recognize runs one Tesseract pass. The call itself is a blocking cgo call;
// ctx is only checked before it starts.
func (e *TesseractEngine) Recognize(ctx context.Context, page *imaging.PageImage, cfg EngineConfig) (*models.RecognitionResult, error) {
	const op = "Recognize"

	if err := ctx.Err(); err != nil {
		return nil, classifyError(op, EngineTesseract, err)
	}
	if len(cfg.Languages) == 0 {
		return nil, NewOCRError(op, EngineTesseract, ErrInvalidConfiguration, "no language configured")
	}
	if page == nil {
		return nil, NewOCRError(op, EngineTesseract, imaging.ErrInvalidImage, "nil page")
	}
	img, err := page.PNG()
	if err != nil {
		return nil, WrapOCRError(op, EngineTesseract, err, "encode page")
	}

	c := e.clientFactory()
	defer c.Close()

	if err := e.configure(c, cfg); err != nil {
		return nil, err
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return nil, NewOCRError(op, EngineTesseract, ErrEngineUnavailable, fmt.Sprintf("set image: %v", err))
	}

	text, err := c.Text()
	if err != nil {
		return nil, NewOCRError(op, EngineTesseract, ErrEngineUnavailable, fmt.Sprintf("recognize text with %s: %v", cfg.Describe(), err))
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, NewOCRError(op, EngineTesseract, ErrEngineUnavailable, fmt.Sprintf("word boxes: %v", err))
	}
	tokens := make([]models.TokenConfidence, 0, len(boxes))
	for _, b := range boxes {
		tokens = append(tokens, models.TokenConfidence{Token: strings.TrimSpace(b.Word), Confidence: b.Confidence})
	}

	e.log.Debug().
		Str("config", cfg.Describe()).
		Int("words", len(tokens)).
		Int("page_index", page.Origin().PageIndex).
		Msg("Tesseract pass finished")

	return &models.RecognitionResult{Text: strings.TrimSpace(text), Tokens: tokens}, nil
}

func (e *TesseractEngine) configure(c *gosseract.Client, cfg EngineConfig) error {
	const op = "configure"

	if cfg.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(cfg.TessdataPrefix); err != nil {
			return NewOCRError(op, EngineTesseract, ErrEngineUnavailable, fmt.Sprintf("tessdata prefix %s: %v", cfg.TessdataPrefix, err))
		}
	}
	if err := c.SetLanguage(cfg.Languages...); err != nil {
		return NewOCRError(op, EngineTesseract, ErrEngineUnavailable, fmt.Sprintf("languages %v: %v", cfg.Languages, err))
	}
	if cfg.PageSegMode > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
			return NewOCRError(op, EngineTesseract, ErrInvalidConfiguration, fmt.Sprintf("psm %d: %v", cfg.PageSegMode, err))
		}
	}
	if cfg.Blacklist != "" {
		if err := c.SetBlacklist(cfg.Blacklist); err != nil {
			return NewOCRError(op, EngineTesseract, ErrInvalidConfiguration, fmt.Sprintf("blacklist: %v", err))
		}
	}
	if cfg.DPI > 0 {
		if err := c.SetVariable("user_defined_dpi", fmt.Sprint(cfg.DPI)); err != nil {
			return NewOCRError(op, EngineTesseract, ErrInvalidConfiguration, fmt.Sprintf("dpi: %v", err))
		}
	}

	keys := make([]string, 0, len(cfg.Variables))
	for k := range cfg.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.SetVariable(gosseract.SettableVariable(k), cfg.Variables[k]); err != nil {
			return NewOCRError(op, EngineTesseract, ErrInvalidConfiguration, fmt.Sprintf("variable %s: %v", k, err))
		}
	}
	return nil
}

// TessdataResolver picks between "best" and "standard" trained data
// directories. It is consulted once per script when pass plans are built.
type TessdataResolver struct {
	BestPrefix     string
	StandardPrefix string
}

// HasLanguage reports whether dir holds <lang>.traineddata.
func HasLanguage(dir, lang string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, lang+".traineddata"))
	return err == nil && !info.IsDir()
}

// Resolve returns the prefix and model flavour for langs. Best data is used
// only when it covers every requested language.
func (r TessdataResolver) Resolve(langs []string) (prefix, model string) {
	if r.BestPrefix != "" && len(langs) > 0 {
		all := true
		for _, l := range langs {
			if !HasLanguage(r.BestPrefix, l) {
				all = false
				break
			}
		}
		if all {
			return r.BestPrefix, ModelBest
		}
	}
	return r.StandardPrefix, ModelStandard
}
