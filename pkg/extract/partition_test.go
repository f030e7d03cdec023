package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeEngine serves canned results per mode and records every request.
type fakeEngine struct {
	results map[Mode]*Result
	errs    map[Mode]error
	calls   []Request
}

func (f *fakeEngine) Partition(ctx context.Context, req Request) (*Result, error) {
	f.calls = append(f.calls, req)
	if err := f.errs[req.Mode]; err != nil {
		return nil, err
	}
	res, ok := f.results[req.Mode]
	if !ok {
		return nil, &EngineError{Mode: req.Mode, Err: errors.New("no canned result")}
	}
	return res, nil
}

func (f *fakeEngine) modes() []Mode {
	out := make([]Mode, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Mode
	}
	return out
}

func resultOf(elements ...Element) *Result {
	res, err := parseResult(splitJSONL(encodeElements(elements)))
	if err != nil {
		panic(err)
	}
	return res
}

func encodeElements(elements []Element) []byte {
	var b strings.Builder
	for _, el := range elements {
		b.WriteString(`{"type":"` + el.Type + `","text":"` + el.Text + `"}`)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func TestExtractFastAccepted(t *testing.T) {
	dense := strings.Repeat("a", 250)
	engine := &fakeEngine{results: map[Mode]*Result{
		ModeFast: resultOf(Element{Type: "NarrativeText", Text: dense}),
	}}
	p := NewPartitioner(engine, PolicyConfig{})

	out, err := p.Extract(context.Background(), Document{Path: "/tmp/x.pdf", Extension: ".pdf", DisplayName: "scan.pdf"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if out.Strategy != StrategyFast {
		t.Errorf("strategy = %s, want fast", out.Strategy)
	}
	if out.Text != dense {
		t.Errorf("text = %q", out.Text)
	}
	if len(engine.calls) != 1 || engine.calls[0].Mode != ModeFast {
		t.Errorf("engine calls = %v, want one fast pass", engine.modes())
	}
}

func TestExtractSparseRunsOCR(t *testing.T) {
	// Two page breaks make three pages; 90 chars over three pages is well
	// under the 200 chars/page threshold.
	engine := &fakeEngine{results: map[Mode]*Result{
		ModeFast: resultOf(
			Element{Type: "NarrativeText", Text: strings.Repeat("x", 90)},
			Element{Type: ElementPageBreak},
			Element{Type: ElementPageBreak},
		),
		ModeHiRes: resultOf(Element{Type: "NarrativeText", Text: "recovered by OCR"}),
	}}
	p := NewPartitioner(engine, PolicyConfig{})

	out, err := p.Extract(context.Background(), Document{Path: "/tmp/x.pdf", Extension: ".pdf", DisplayName: "szerzodes_hun.pdf"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if out.Strategy != StrategyOCR {
		t.Errorf("strategy = %s, want ocr", out.Strategy)
	}
	if out.Text != "recovered by OCR" {
		t.Errorf("text = %q", out.Text)
	}
	if out.Language != "hun" {
		t.Errorf("language = %q, want hun (from the filename marker)", out.Language)
	}

	if len(engine.calls) != 2 {
		t.Fatalf("engine calls = %v", engine.modes())
	}
	ocrReq := engine.calls[1]
	if ocrReq.Mode != ModeHiRes {
		t.Errorf("second pass mode = %s, want hi_res", ocrReq.Mode)
	}
	if len(ocrReq.Languages) != 1 || ocrReq.Languages[0] != "hun" {
		t.Errorf("OCR languages = %v, want [hun]", ocrReq.Languages)
	}
}

func TestExtractOCRDeadlineSet(t *testing.T) {
	var sawDeadline bool
	engine := &deadlineProbe{inner: &fakeEngine{results: map[Mode]*Result{
		ModeFast: resultOf(Element{Type: "NarrativeText", Text: "thin"}),
		ModeHiRes: resultOf(
			Element{Type: "NarrativeText", Text: "ocr text"},
		),
	}}, sawDeadline: &sawDeadline}

	p := NewPartitioner(engine, PolicyConfig{})
	_, err := p.Extract(context.Background(), Document{Path: "/tmp/x.pdf", Extension: ".pdf", DisplayName: "x.pdf"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !sawDeadline {
		t.Error("hi_res pass context carried no deadline")
	}
}

type deadlineProbe struct {
	inner       Engine
	sawDeadline *bool
}

func (d *deadlineProbe) Partition(ctx context.Context, req Request) (*Result, error) {
	if req.Mode == ModeHiRes {
		_, *d.sawDeadline = ctx.Deadline()
	}
	return d.inner.Partition(ctx, req)
}

func TestExtractOCRTimeoutFallsBack(t *testing.T) {
	sparse := "sparse scan text"
	engine := &fakeEngine{
		results: map[Mode]*Result{
			ModeFast: resultOf(Element{Type: "NarrativeText", Text: sparse}),
		},
		errs: map[Mode]error{
			ModeHiRes: &TimeoutError{Mode: ModeHiRes},
		},
	}
	p := NewPartitioner(engine, PolicyConfig{})

	out, err := p.Extract(context.Background(), Document{Path: "/tmp/x.pdf", Extension: ".pdf", DisplayName: "x.pdf"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if out.Strategy != StrategyFastFallback {
		t.Errorf("strategy = %s, want fast_fallback", out.Strategy)
	}
	if out.Text != sparse {
		t.Errorf("text = %q, want the fast result", out.Text)
	}
}

func TestExtractOCRFailurePropagates(t *testing.T) {
	engineErr := &EngineError{Mode: ModeHiRes, Err: errors.New("tesseract crashed")}
	engine := &fakeEngine{
		results: map[Mode]*Result{
			ModeFast: resultOf(Element{Type: "NarrativeText", Text: "thin"}),
		},
		errs: map[Mode]error{ModeHiRes: engineErr},
	}
	p := NewPartitioner(engine, PolicyConfig{})

	_, err := p.Extract(context.Background(), Document{Path: "/tmp/x.pdf", Extension: ".pdf", DisplayName: "x.pdf"})
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("got %v, want the engine error", err)
	}
	if IsTimeout(err) {
		t.Error("engine crash must not classify as timeout")
	}
}

func TestExtractNative(t *testing.T) {
	engine := &fakeEngine{results: map[Mode]*Result{
		ModeAuto: resultOf(
			Element{Type: ElementTitle, Text: "Minutes"},
			Element{Type: "NarrativeText", Text: "Attendees were present."},
		),
	}}
	p := NewPartitioner(engine, PolicyConfig{})

	out, err := p.Extract(context.Background(), Document{Path: "/tmp/m.docx", Extension: ".docx", DisplayName: "minutes.docx"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if out.Strategy != StrategyNative {
		t.Errorf("strategy = %s, want native", out.Strategy)
	}
	if out.Text != "Minutes\n\nAttendees were present." {
		t.Errorf("text = %q", out.Text)
	}
	if len(engine.calls) != 1 || engine.calls[0].Mode != ModeAuto {
		t.Errorf("engine calls = %v, want one auto pass", engine.modes())
	}
}

func TestExtractEmptyContent(t *testing.T) {
	engine := &fakeEngine{results: map[Mode]*Result{
		ModeAuto: resultOf(
			Element{Type: "NarrativeText", Text: "   "},
			Element{Type: "NarrativeText", Text: ""},
		),
	}}
	p := NewPartitioner(engine, PolicyConfig{})

	_, err := p.Extract(context.Background(), Document{Path: "/tmp/e.docx", Extension: ".docx", DisplayName: "e.docx"})
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("got %v, want ErrEmptyContent", err)
	}
}

func TestExtractShutdownDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := &cancellingEngine{
		fast:   resultOf(Element{Type: "NarrativeText", Text: "thin"}),
		cancel: cancel,
	}
	p := NewPartitioner(engine, PolicyConfig{})

	_, err := p.Extract(ctx, Document{Path: "/tmp/x.pdf", Extension: ".pdf", DisplayName: "x.pdf"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

// cancellingEngine cancels the run while the OCR pass is in flight,
// simulating shutdown mid-document.
type cancellingEngine struct {
	fast   *Result
	cancel context.CancelFunc
}

func (c *cancellingEngine) Partition(ctx context.Context, req Request) (*Result, error) {
	if req.Mode == ModeFast {
		return c.fast, nil
	}
	c.cancel()
	return nil, ctx.Err()
}

func TestJoinText(t *testing.T) {
	got := JoinText([]Element{
		{Type: ElementTitle, Text: "Title"},
		{Type: "NarrativeText", Text: "First paragraph."},
		{Type: ElementPageBreak, Text: ""},
		{Type: "NarrativeText", Text: "Second paragraph."},
	})
	want := "Title\n\nFirst paragraph.\n\n\n\nSecond paragraph."
	if got != want {
		t.Errorf("JoinText() = %q, want %q", got, want)
	}

	if got := JoinText(nil); got != "" {
		t.Errorf("JoinText(nil) = %q, want empty", got)
	}
}
