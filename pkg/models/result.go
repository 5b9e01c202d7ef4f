package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// TokenConfidence is one recognized token with the engine's confidence (0-100).
// Engines report a negative confidence for "no detection" entries.
type TokenConfidence struct {
	Token      string  `json:"token"`
	Confidence float64 `json:"confidence"`
}

// RecognitionResult is the output of exactly one engine invocation.
// It is never modified after the engine returns it.
type RecognitionResult struct {
	Text   string            `json:"text"`
	Tokens []TokenConfidence `json:"tokens,omitempty"`
}

// PassAttempt records one executed pass of the escalation loop.
type PassAttempt struct {
	Pass       string        `json:"pass"`
	Engine     string        `json:"engine"`
	Confidence float64       `json:"confidence"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// PageResult is the externally visible outcome for one page.
type PageResult struct {
	// PageIndex is the zero-based position of the page in its document.
	PageIndex int `json:"page_index"`

	// Text is the winning pass's text after script-aware cleanup.
	Text string `json:"text"`

	// Confidence is the aggregate confidence of Raw and is never recomputed.
	Confidence float64 `json:"confidence"`

	// Pass and Engine identify the pass that produced Raw.
	Pass   string `json:"pass,omitempty"`
	Engine string `json:"engine,omitempty"`

	// LowConfidence is set when Confidence is below the global floor.
	LowConfidence bool `json:"low_confidence"`

	// Blank is set when the normalized page had no meaningful foreground.
	Blank bool `json:"blank,omitempty"`

	CharacterCount int           `json:"character_count"`
	Attempts       []PassAttempt `json:"attempts,omitempty"`

	// Raw is the uncleaned recognition result of the winning pass.
	Raw *RecognitionResult `json:"-"`

	// Err is set when the page failed; the other fields are then zero.
	Err      error  `json:"-"`
	ErrorMsg string `json:"error,omitempty"`
}

// Failed reports whether the page produced no result.
func (p PageResult) Failed() bool { return p.Err != nil }

// DocumentResult is the ordered set of page results for one document.
type DocumentResult struct {
	ID    string       `json:"id"`
	Pages []PageResult `json:"pages"`

	// Confidence is the mean confidence of the pages that produced a result.
	Confidence float64 `json:"confidence"`

	CharacterCount int `json:"character_count"`
	FailedPages    int `json:"failed_pages"`
	LowConfidence  int `json:"low_confidence_pages"`

	// Partial is set when the document deadline or cancellation cut processing short.
	Partial bool `json:"partial"`

	Scripts            ScriptSet     `json:"scripts"`
	ProcessedAt        time.Time     `json:"processed_at"`
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// Summarize computes the document-level aggregates from Pages.
// It must only run after every page worker has returned.
func (d *DocumentResult) Summarize() {
	var sum float64
	var counted int
	d.CharacterCount, d.FailedPages, d.LowConfidence = 0, 0, 0
	for i := range d.Pages {
		p := &d.Pages[i]
		if p.Failed() {
			d.FailedPages++
			if p.ErrorMsg == "" {
				p.ErrorMsg = p.Err.Error()
			}
			continue
		}
		p.CharacterCount = utf8.RuneCountInString(p.Text)
		d.CharacterCount += p.CharacterCount
		if p.LowConfidence {
			d.LowConfidence++
		}
		sum += p.Confidence
		counted++
	}
	d.Confidence = 0
	if counted > 0 {
		d.Confidence = sum / float64(counted)
	}
}

// Text flattens the document into one string, pages separated by a blank line.
func (d DocumentResult) Text() string {
	texts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		if p.Failed() {
			continue
		}
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n\n")
}
