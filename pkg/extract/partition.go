package extract

import (
	"context"
	"time"

	"github.com/corpora-io/corpora/internal/logger"
)

const (
	// DefaultMinCharsPerPage is the fast-pass acceptance density for PDFs.
	DefaultMinCharsPerPage = 200

	// DefaultOCRTimeout is the hard wall-clock limit for one engine pass.
	DefaultOCRTimeout = 5 * time.Minute
)

// PolicyConfig tunes the extraction policy.
type PolicyConfig struct {
	// MinCharsPerPage is the average text density below which the fast
	// PDF pass is considered insufficient and OCR runs. Default 200.
	MinCharsPerPage int

	// OCRTimeout is the hard wall-clock limit for the OCR pass (and for
	// the native pass on formats that can stall). Default 5m.
	OCRTimeout time.Duration

	// DefaultLanguages overrides the OCR hint used when the display name
	// carries no language marker.
	DefaultLanguages []string
}

// Document identifies one staged file to extract.
type Document struct {
	// Path is the staged copy on local disk.
	Path string

	// Extension is the normalized extension, including the dot.
	Extension string

	// DisplayName is the origin display name; it drives the language hint.
	DisplayName string
}

// Output is a complete extraction.
type Output struct {
	Elements []Element
	JSONL    []byte

	// Text is the concatenated element text, trimmed. Never empty: a
	// whitespace-only result fails with ErrEmptyContent instead.
	Text string

	// Language is the OCR hint that was in effect, in engine convention.
	Language string

	Strategy Strategy
}

// Partitioner applies the extraction policy on top of an Engine: fast pass
// for PDFs, OCR below the density threshold, fast fallback when OCR is
// killed by the deadline, native pass for everything else.
type Partitioner struct {
	engine Engine
	cfg    PolicyConfig
}

func NewPartitioner(engine Engine, cfg PolicyConfig) *Partitioner {
	if cfg.MinCharsPerPage <= 0 {
		cfg.MinCharsPerPage = DefaultMinCharsPerPage
	}
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = DefaultOCRTimeout
	}
	return &Partitioner{engine: engine, cfg: cfg}
}

// Extract partitions the document and assembles the derivative content.
// Whitespace-only text returns ErrEmptyContent; a hard engine timeout on a
// non-PDF document surfaces as a TimeoutError.
func (p *Partitioner) Extract(ctx context.Context, doc Document) (*Output, error) {
	languages := LanguageHint(doc.DisplayName, p.cfg.DefaultLanguages)

	if doc.Extension == ".pdf" {
		return p.extractPDF(ctx, doc, languages)
	}

	res, err := p.partitionWithDeadline(ctx, Request{Path: doc.Path, Mode: ModeAuto, Languages: languages})
	if err != nil {
		return nil, err
	}
	return p.output(res, languages, StrategyNative)
}

func (p *Partitioner) extractPDF(ctx context.Context, doc Document, languages []string) (*Output, error) {
	fast, err := p.engine.Partition(ctx, Request{Path: doc.Path, Mode: ModeFast})
	if err != nil {
		return nil, err
	}

	totalChars := 0
	pages := 1
	for _, el := range fast.Elements {
		totalChars += len(el.Text)
		if el.Type == ElementPageBreak {
			pages++
		}
	}
	charsPerPage := float64(totalChars) / float64(pages)

	if charsPerPage >= float64(p.cfg.MinCharsPerPage) {
		return p.output(fast, languages, StrategyFast)
	}

	logger.Debug("low text density, running OCR pass",
		"path", doc.Path, "chars_per_page", int(charsPerPage), "pages", pages,
		"languages", LanguageTag(languages))

	ocr, err := p.partitionWithDeadline(ctx, Request{Path: doc.Path, Mode: ModeHiRes, Languages: languages})
	switch {
	case err == nil:
		return p.output(ocr, languages, StrategyOCR)
	case IsTimeout(err) && ctx.Err() == nil:
		// The engine was killed by the wall clock, not by shutdown.
		// Keep the sparse fast result rather than losing the document.
		logger.Warn("OCR pass timed out, keeping fast result",
			"path", doc.Path, "timeout", p.cfg.OCRTimeout)
		return p.output(fast, languages, StrategyFastFallback)
	default:
		return nil, err
	}
}

// partitionWithDeadline runs one engine pass under the hard wall-clock
// limit. The context deadline is the kill switch: engines terminate the
// subprocess when it fires.
func (p *Partitioner) partitionWithDeadline(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.OCRTimeout)
	defer cancel()
	return p.engine.Partition(ctx, req)
}

func (p *Partitioner) output(res *Result, languages []string, strategy Strategy) (*Output, error) {
	text := JoinText(res.Elements)
	if text == "" {
		return nil, ErrEmptyContent
	}
	return &Output{
		Elements: res.Elements,
		JSONL:    res.JSONL,
		Text:     text,
		Language: LanguageTag(languages),
		Strategy: strategy,
	}, nil
}
