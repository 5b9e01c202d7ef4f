// Package ocr provides the recognition engines used by the page pipeline.
//
// Every engine implements the single Engine capability: recognize one
// normalized page under an EngineConfig and return the text with per-token
// confidences on a 0-100 scale. Engines are selected by name from a Registry;
// the pipeline never inspects concrete engine types.
//
// Implementations:
//   - tesseract: local Tesseract through gosseract (word confidences)
//   - openai: vision LLM pass (confidence from token log-probabilities)
//   - vision: Google Cloud Vision document text detection (word confidences)
//   - documentai: Google Document AI OCR processor (token layout confidences)
//
// Failures map to ErrEngineUnavailable (missing model, language data,
// credentials or a refused remote call) and ErrEngineTimeout.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/option"

	"scanocr/internal/imaging"
	"scanocr/pkg/models"
)

// Engine names.
const (
	EngineTesseract  = "tesseract"
	EngineOpenAI     = "openai"
	EngineVision     = "vision"
	EngineDocumentAI = "documentai"
)

// MaxImageBytes is the largest encoded page sent to a cloud engine (20MB).
const MaxImageBytes = 20 * 1024 * 1024

// Engine is the recognition capability.
type Engine interface {
	// Name is the registry key, e.g. "tesseract".
	Name() string

	// Recognize runs one invocation. Implementations must honour ctx where
	// the underlying client allows it.
	Recognize(ctx context.Context, page *imaging.PageImage, cfg EngineConfig) (*models.RecognitionResult, error)
}

// EngineConfig identifies one engine plus its invocation parameters.
type EngineConfig struct {
	// Engine is the registry name of the engine to call.
	Engine string `yaml:"engine" json:"engine"`

	// Languages are Tesseract-style codes ("eng", "ben"); cloud engines
	// translate them to BCP-47 hints.
	Languages []string `yaml:"languages" json:"languages"`

	// PageSegMode is the Tesseract segmentation mode; 0 keeps the engine default.
	PageSegMode int `yaml:"psm" json:"psm,omitempty"`

	// Model selects "best" or "standard" trained data for Tesseract, or the
	// model name for the LLM engine.
	Model string `yaml:"model" json:"model,omitempty"`

	// TessdataPrefix is resolved once at plan construction.
	TessdataPrefix string `yaml:"tessdata_prefix" json:"tessdata_prefix,omitempty"`

	Variables map[string]string `yaml:"variables" json:"variables,omitempty"`
	Blacklist string            `yaml:"blacklist" json:"blacklist,omitempty"`

	// DPI is passed to engines that use it; 0 means unknown.
	DPI int `yaml:"-" json:"-"`

	// Timeout bounds one invocation; 0 means no per-pass bound.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// Describe returns a compact label for logs.
func (c EngineConfig) Describe() string {
	var b strings.Builder
	b.WriteString(c.Engine)
	if len(c.Languages) > 0 {
		b.WriteString(":" + strings.Join(c.Languages, "+"))
	}
	if c.PageSegMode > 0 {
		fmt.Fprintf(&b, ":psm%d", c.PageSegMode)
	}
	if c.Model != "" {
		b.WriteString(":" + c.Model)
	}
	return b.String()
}

// Registry maps engine names to implementations.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry registers the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		r.Register(e)
	}
	return r
}

// Register adds or replaces an engine.
func (r *Registry) Register(e Engine) {
	if e == nil {
		return
	}
	r.engines[e.Name()] = e
}

// Get returns the named engine or ErrEngineUnavailable.
func (r *Registry) Get(name string) (Engine, error) {
	if e, ok := r.engines[name]; ok {
		return e, nil
	}
	return nil, NewOCRError("Get", name, ErrEngineUnavailable, "engine not registered")
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.engines[name]
	return ok
}

// Names lists the registered engines in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes every engine holding a client connection.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		if c, ok := r.engines[name].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// GoogleCredentials carries service account credentials for the Google engines.
type GoogleCredentials struct {
	// JSON is an inline service account key.
	JSON string
	// File is a path to a service account key file.
	File string
}

// options returns the client option for the configured credentials. Inline
// JSON wins over a key file; with neither the client falls back to ADC.
func (c GoogleCredentials) options() []option.ClientOption {
	switch {
	case c.JSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(c.JSON))}
	case c.File != "":
		return []option.ClientOption{option.WithCredentialsFile(c.File)}
	default:
		return nil
	}
}

// cloudLanguage maps Tesseract codes to BCP-47 language hints.
func cloudLanguage(lang string) string {
	switch lang {
	case "eng":
		return "en"
	case "ben":
		return "bn"
	default:
		return lang
	}
}

func cloudLanguages(langs []string) []string {
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		out = append(out, cloudLanguage(l))
	}
	return out
}

// encodePage renders the page for transport and enforces the cloud size limit.
func encodePage(op, engine string, page *imaging.PageImage) ([]byte, error) {
	if page == nil {
		return nil, NewOCRError(op, engine, imaging.ErrInvalidImage, "nil page")
	}
	data, err := page.PNG()
	if err != nil {
		return nil, WrapOCRError(op, engine, err, "encode page")
	}
	if len(data) > MaxImageBytes {
		return nil, NewOCRError(op, engine, ErrInvalidConfiguration, fmt.Sprintf("encoded page is %d bytes", len(data)))
	}
	return data, nil
}
