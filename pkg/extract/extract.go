// Package extract turns source documents into elements and text.
//
// Partitioning itself happens in an external engine command (the
// partitioning and OCR toolchain is not a Go library): the engine reads a
// staged file and emits one JSON element per line on stdout. Two engine
// flavors exist: CommandEngine runs the executable once per document,
// ProcessEngine keeps a resident subprocess in serve mode for OCR-heavy
// batches. The Partitioner layers the extraction policy on top: a cheap
// fast pass for PDFs, an OCR pass when the fast text is too sparse, and a
// hard wall-clock kill when OCR hangs.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Element types the policy layer cares about. The engine may emit any
// number of further types (NarrativeText, ListItem, Table, ...); they are
// carried through untouched.
const (
	ElementTitle     = "Title"
	ElementPageBreak = "PageBreak"
)

// Element is one partitioned fragment of a document.
type Element struct {
	Type string `json:"type"`
	Text string `json:"text"`

	// PageNumber is set by layout-aware passes, zero otherwise.
	PageNumber int `json:"page_number,omitempty"`

	// Metadata carries engine-specific extras (author, coordinates, ...).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Mode selects the engine pass.
type Mode string

const (
	// ModeFast is the cheap layout pass with page-break markers, no OCR.
	ModeFast Mode = "fast"

	// ModeHiRes is the high-resolution pass with OCR enabled.
	ModeHiRes Mode = "hi_res"

	// ModeAuto is the format-specific native pass for non-PDF documents.
	ModeAuto Mode = "auto"
)

// Strategy records which policy branch produced a result.
type Strategy string

const (
	StrategyFast         Strategy = "fast"
	StrategyOCR          Strategy = "ocr"
	StrategyFastFallback Strategy = "fast_fallback"
	StrategyNative       Strategy = "native"
)

// Request is a single partition pass over one staged file.
type Request struct {
	// Path is the document on local disk.
	Path string

	// Mode selects the pass.
	Mode Mode

	// Languages is the OCR language hint, used by ModeHiRes.
	Languages []string
}

// Result is the engine's output for one pass.
type Result struct {
	// Elements are the parsed fragments in reading order.
	Elements []Element

	// JSONL is the engine's own serialization, one element per line,
	// preserved verbatim for the derivative artifact.
	JSONL []byte
}

// Engine runs the external partitioner. Implementations are not assumed
// safe for concurrent use; every worker owns its own engine.
type Engine interface {
	// Partition extracts elements from the file named in req. A context
	// deadline is a hard wall-clock limit: on expiry the engine process
	// is killed out-of-band and a TimeoutError returned.
	Partition(ctx context.Context, req Request) (*Result, error)
}

// JoinText concatenates element texts in reading order, separated by blank
// lines and trimmed at both ends.
func JoinText(elements []Element) string {
	parts := make([]string, 0, len(elements))
	for _, el := range elements {
		parts = append(parts, el.Text)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// splitJSONL cuts engine stdout into one JSON document per non-empty line.
func splitJSONL(out []byte) []json.RawMessage {
	var raws []json.RawMessage
	for _, line := range bytes.Split(out, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		raws = append(raws, json.RawMessage(line))
	}
	return raws
}

// parseResult decodes elements while keeping the engine's serialization for
// the artifact upload.
func parseResult(raws []json.RawMessage) (*Result, error) {
	elements := make([]Element, 0, len(raws))
	lines := make([][]byte, 0, len(raws))
	for i, raw := range raws {
		var el Element
		if err := json.Unmarshal(raw, &el); err != nil {
			return nil, fmt.Errorf("invalid element on line %d: %w", i+1, err)
		}
		elements = append(elements, el)
		lines = append(lines, bytes.TrimSpace(raw))
	}
	return &Result{Elements: elements, JSONL: bytes.Join(lines, []byte{'\n'})}, nil
}
