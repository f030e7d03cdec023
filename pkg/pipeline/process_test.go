package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/corpora-io/corpora/pkg/cas"
	"github.com/corpora-io/corpora/pkg/extract"
	"github.com/corpora-io/corpora/pkg/state"
)

func runProcess(t *testing.T, store *state.Store, objects *memStore, engine extract.Engine, cfg ProcessConfig) *ProcessResult {
	t.Helper()
	stage := NewProcessStage(store, storeFactory(objects), engineFactory(engine), nil, cfg)
	res, err := stage.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func decodeMeta(t *testing.T, objects *memStore, digest string) *extract.Meta {
	t.Helper()
	obj := objects.get(t, cas.DerivativeKey(digest, cas.DerivativeMeta))
	var meta extract.Meta
	if err := json.Unmarshal(obj.data, &meta); err != nil {
		t.Fatalf("failed to decode meta.json: %v", err)
	}
	return &meta
}

func TestProcessHappyPath(t *testing.T) {
	store := testStateStore(t)
	objects := newMemStore()
	engine := &scriptedEngine{}

	text := "quarterly revenue summary"
	seeded := seedSynced(t, store, objects, "f1", "summary.txt", text)

	res := runProcess(t, store, objects, engine, ProcessConfig{Workers: 1})
	if res.Eligible != 1 || res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 1 eligible, 1 processed", res)
	}

	rec := getRecord(t, store, seeded.Digest)
	if rec.Status != state.StatusProcessed {
		t.Errorf("status = %s, want processed", rec.Status)
	}
	if rec.ProcessedAt == nil {
		t.Error("processed_at not set")
	}
	if rec.TextSize != int64(len(text)) {
		t.Errorf("text_size = %d, want %d", rec.TextSize, len(text))
	}

	gotText := objects.get(t, cas.DerivativeKey(seeded.Digest, cas.DerivativeText))
	if string(gotText.data) != text {
		t.Errorf("text artifact = %q, want %q", gotText.data, text)
	}
	elements := objects.get(t, cas.DerivativeKey(seeded.Digest, cas.DerivativeElements))
	if !strings.Contains(string(elements.data), "NarrativeText") {
		t.Errorf("elements artifact = %q, want the engine's JSONL", elements.data)
	}

	meta := decodeMeta(t, objects, seeded.Digest)
	if meta.Digest != seeded.Digest || meta.Extension != ".txt" {
		t.Errorf("meta identity = %s/%s", meta.Digest, meta.Extension)
	}
	if meta.ElementCount != 1 || meta.WordCount != 3 {
		t.Errorf("meta counts = %d elements, %d words", meta.ElementCount, meta.WordCount)
	}
	if meta.Strategy != extract.StrategyNative {
		t.Errorf("meta strategy = %s, want native", meta.Strategy)
	}
	if meta.OriginalName != "summary.txt" {
		t.Errorf("meta name = %q", meta.OriginalName)
	}

	// meta.json must be the last bundle write: it marks the bundle
	// complete.
	prefix := cas.DerivativePrefix(seeded.Digest)
	var bundleOrder []string
	for _, key := range objects.puts {
		if strings.HasPrefix(key, prefix) {
			bundleOrder = append(bundleOrder, strings.TrimPrefix(key, prefix))
		}
	}
	want := []string{cas.DerivativeElements, cas.DerivativeText, cas.DerivativeMeta}
	if len(bundleOrder) != len(want) {
		t.Fatalf("bundle writes = %v, want %v", bundleOrder, want)
	}
	for i := range want {
		if bundleOrder[i] != want[i] {
			t.Fatalf("bundle write order = %v, want %v", bundleOrder, want)
		}
	}
}

func TestProcessPDFStrategies(t *testing.T) {
	t.Run("dense text stays on the fast pass", func(t *testing.T) {
		store := testStateStore(t)
		objects := newMemStore()
		engine := &scriptedEngine{}
		seeded := seedSynced(t, store, objects, "f1", "dense.pdf", "short but dense")

		res := runProcess(t, store, objects, engine, ProcessConfig{
			Workers: 1,
			Policy:  extract.PolicyConfig{MinCharsPerPage: 1},
		})
		if res.Processed != 1 {
			t.Fatalf("result = %+v, want 1 processed", res)
		}
		if meta := decodeMeta(t, objects, seeded.Digest); meta.Strategy != extract.StrategyFast {
			t.Errorf("strategy = %s, want fast", meta.Strategy)
		}
		if len(engine.passes) != 1 || engine.passes[0] != extract.ModeFast {
			t.Errorf("engine passes = %v, want a single fast pass", engine.passes)
		}
	})

	t.Run("sparse text escalates to OCR", func(t *testing.T) {
		store := testStateStore(t)
		objects := newMemStore()
		engine := &scriptedEngine{}
		seeded := seedSynced(t, store, objects, "f1", "scan.pdf", "faint scan")

		// Default density threshold: a few characters on one page is
		// far below it.
		res := runProcess(t, store, objects, engine, ProcessConfig{Workers: 1})
		if res.Processed != 1 {
			t.Fatalf("result = %+v, want 1 processed", res)
		}
		if meta := decodeMeta(t, objects, seeded.Digest); meta.Strategy != extract.StrategyOCR {
			t.Errorf("strategy = %s, want ocr", meta.Strategy)
		}
		if len(engine.passes) != 2 || engine.passes[1] != extract.ModeHiRes {
			t.Errorf("engine passes = %v, want fast then hi_res", engine.passes)
		}
	})
}

func TestProcessEmptyContent(t *testing.T) {
	store := testStateStore(t)
	objects := newMemStore()
	engine := &scriptedEngine{}
	seeded := seedSynced(t, store, objects, "f1", "blank.txt", "blank page scan")

	res := runProcess(t, store, objects, engine, ProcessConfig{Workers: 1})
	if res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 failed", res)
	}

	rec := getRecord(t, store, seeded.Digest)
	if rec.Status != state.StatusFailedProcess {
		t.Errorf("status = %s, want failed_process", rec.Status)
	}
	if rec.ErrorType != state.ErrorEmptyContent {
		t.Errorf("error type = %s, want EmptyContent", rec.ErrorType)
	}
	if rec.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", rec.RetryCount)
	}
	if objects.has(cas.DerivativeKey(seeded.Digest, cas.DerivativeText)) {
		t.Error("text artifact written for an empty extraction")
	}
}

func TestProcessEngineFailure(t *testing.T) {
	store := testStateStore(t)
	objects := newMemStore()
	engine := &scriptedEngine{}
	seeded := seedSynced(t, store, objects, "f1", "corrupt.txt", "boom")

	res := runProcess(t, store, objects, engine, ProcessConfig{Workers: 1})
	if res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 failed", res)
	}

	rec := getRecord(t, store, seeded.Digest)
	if rec.Status != state.StatusFailedProcess {
		t.Errorf("status = %s, want failed_process", rec.Status)
	}
	if rec.ErrorType != state.ErrorPermanent {
		t.Errorf("error type = %s, want Permanent", rec.ErrorType)
	}
	if !strings.Contains(rec.ErrorMessage, "engine exploded") {
		t.Errorf("error message = %q", rec.ErrorMessage)
	}
}

func TestProcessMissingObject(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()
	engine := &scriptedEngine{}

	// A record whose object was deleted out from under the pipeline.
	digest := digestOf("gone")
	rec := &state.ContentRecord{
		Digest:    digest,
		ObjectKey: cas.ObjectKey(digest, ".pdf"),
		Extension: ".pdf",
		Status:    state.StatusSynced,
	}
	if err := store.UpsertContent(ctx, rec); err != nil {
		t.Fatalf("UpsertContent() error = %v", err)
	}

	res := runProcess(t, store, objects, engine, ProcessConfig{Workers: 1})
	if res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 failed", res)
	}
	got := getRecord(t, store, digest)
	if got.Status != state.StatusFailedProcess || got.ErrorType != state.ErrorPermanent {
		t.Errorf("record = %s/%s, want failed_process/Permanent", got.Status, got.ErrorType)
	}
}

func TestProcessRetryFailed(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()
	engine := &scriptedEngine{}

	seeded := seedSynced(t, store, objects, "f1", "retry.txt", "good on retry")
	err := store.TransitionStatus(ctx, seeded.Digest,
		[]state.Status{state.StatusSynced}, state.StatusFailedProcess,
		state.RecordError("transient glitch", state.ErrorTransientBackend))
	if err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}

	res := runProcess(t, store, objects, engine, ProcessConfig{Workers: 1})
	if res.Eligible != 0 {
		t.Errorf("without retry_failed: eligible = %d, want 0", res.Eligible)
	}

	res = runProcess(t, store, objects, engine, ProcessConfig{Workers: 1, RetryFailed: true})
	if res.Eligible != 1 || res.Processed != 1 {
		t.Fatalf("with retry_failed: result = %+v, want 1 processed", res)
	}

	rec := getRecord(t, store, seeded.Digest)
	if rec.Status != state.StatusProcessed {
		t.Errorf("status = %s, want processed", rec.Status)
	}
	if rec.ErrorMessage != "" || rec.ErrorType != "" {
		t.Errorf("error block not cleared: %q/%s", rec.ErrorMessage, rec.ErrorType)
	}
	if rec.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1: history survives success", rec.RetryCount)
	}
}

func TestProcessMaxFiles(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()
	engine := &scriptedEngine{}

	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		seedSynced(t, store, objects, name, name, "content of "+name)
	}

	res := runProcess(t, store, objects, engine, ProcessConfig{Workers: 1, MaxFiles: 1})
	if res.Eligible != 1 || res.Processed != 1 {
		t.Fatalf("result = %+v, want exactly one claim", res)
	}

	remaining, err := store.CountByStatus(ctx, state.StatusSynced)
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if remaining != 2 {
		t.Errorf("synced remaining = %d, want 2", remaining)
	}
}

func TestProcessDryRun(t *testing.T) {
	store := testStateStore(t)
	objects := newMemStore()
	engine := &scriptedEngine{}
	seeded := seedSynced(t, store, objects, "f1", "keep.txt", "untouched")

	res := runProcess(t, store, objects, engine, ProcessConfig{Workers: 1, DryRun: true})
	if res.Eligible != 1 || res.Processed != 0 {
		t.Fatalf("result = %+v, want 1 eligible, none processed", res)
	}

	rec := getRecord(t, store, seeded.Digest)
	if rec.Status != state.StatusSynced {
		t.Errorf("status = %s, want synced", rec.Status)
	}
	if objects.has(cas.DerivativeKey(seeded.Digest, cas.DerivativeMeta)) {
		t.Error("derivatives written during dry run")
	}
}

func TestProcessClaimConflict(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()
	engine := &scriptedEngine{}

	seeded := seedSynced(t, store, objects, "f1", "contested.txt", "claimed elsewhere")

	// Another run claims the record between listing and claiming.
	err := store.TransitionStatus(ctx, seeded.Digest,
		[]state.Status{state.StatusSynced}, state.StatusProcessing)
	if err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}

	stage := NewProcessStage(store, storeFactory(objects), engineFactory(engine), nil, ProcessConfig{Workers: 1})
	partitioner := extract.NewPartitioner(engine, stage.cfg.Policy)
	stage.processRecord(ctx, objects, partitioner, seeded)

	if stage.result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", stage.result.Skipped)
	}
	if rec := getRecord(t, store, seeded.Digest); rec.Status != state.StatusProcessing {
		t.Errorf("status = %s, want processing: the other claim must stand", rec.Status)
	}
}

func TestProcessRecyclesEnginesBetweenChunks(t *testing.T) {
	store := testStateStore(t)
	objects := newMemStore()
	engine := &scriptedEngine{}

	seedSynced(t, store, objects, "f1", "first.txt", "first document")
	seedSynced(t, store, objects, "f2", "second.txt", "second document")

	res := runProcess(t, store, objects, engine, ProcessConfig{Workers: 1, ChunkSize: 1})
	if res.Processed != 2 {
		t.Fatalf("result = %+v, want 2 processed", res)
	}
	if n := engine.closeCount(); n != 2 {
		t.Errorf("engine closes = %d, want one per chunk", n)
	}
}
