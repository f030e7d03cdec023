package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corpora-io/corpora/pkg/cas"
	"github.com/corpora-io/corpora/pkg/drive"
	"github.com/corpora-io/corpora/pkg/state"
)

func fileItem(id, name string, modified time.Time) drive.Item {
	return drive.Item{
		OriginID:   id,
		Name:       name,
		MIME:       "application/pdf",
		CreatedAt:  modified.Add(-time.Hour),
		ModifiedAt: modified,
		Size:       1234,
	}
}

func folderItem(id, name string) drive.Item {
	return drive.Item{OriginID: id, Name: name, MIME: drive.MIMEFolder}
}

func runSync(t *testing.T, store *state.Store, src *fakeSource, objects *memStore, cfg SyncConfig) *SyncResult {
	t.Helper()
	stage := NewSyncStage(store, sourceFactory(src), storeFactory(objects), nil, cfg)
	res, err := stage.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func TestSyncFirstIngest(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t1.Add(2 * time.Hour)

	src := &fakeSource{
		children: map[string][]drive.Item{
			"root": {
				fileItem("f1", "overview.pdf", t1),
				folderItem("d1", "Archive"),
			},
			"d1": {
				fileItem("f2", "notes.txt", t2),
				fileItem("f3", "report.pdf", t3),
			},
		},
		payloads: map[string]string{
			"f1": "payload one",
			"f2": "payload two",
			"f3": "payload three",
		},
	}

	res := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root"})

	if res.Examined != 3 || res.Uploaded != 3 {
		t.Errorf("result = %+v, want 3 examined, 3 uploaded", res)
	}

	digest := digestOf("payload two")
	rec := getRecord(t, store, digest)
	if rec.Status != state.StatusSynced {
		t.Errorf("status = %s, want synced", rec.Status)
	}
	if want := cas.ObjectKey(digest, ".txt"); rec.ObjectKey != want {
		t.Errorf("object key = %s, want %s", rec.ObjectKey, want)
	}
	if rec.Extension != ".txt" {
		t.Errorf("extension = %s, want .txt", rec.Extension)
	}
	if rec.OriginID != "f2" || rec.OriginalName != "notes.txt" || rec.OriginPath != "Archive" {
		t.Errorf("origin snapshot = %s/%s/%s, want f2/notes.txt/Archive",
			rec.OriginID, rec.OriginalName, rec.OriginPath)
	}
	if rec.SyncedAt == nil {
		t.Error("synced_at not set")
	}
	if rec.OriginModifiedAt == nil || !rec.OriginModifiedAt.Equal(t2) {
		t.Errorf("origin_modified_at = %v, want %v", rec.OriginModifiedAt, t2)
	}
	if rec.OriginalSize != int64(len("payload two")) {
		t.Errorf("original_size = %d, want payload size", rec.OriginalSize)
	}

	obj := objects.get(t, rec.ObjectKey)
	if string(obj.data) != "payload two" {
		t.Error("stored payload differs from source")
	}
	if obj.metadata[cas.MetaDigest] != digest {
		t.Errorf("digest metadata = %q", obj.metadata[cas.MetaDigest])
	}
	if obj.metadata[cas.MetaOriginID] != "f2" || obj.metadata[cas.MetaOriginPath] != "Archive" {
		t.Errorf("origin metadata = %v", obj.metadata)
	}
	if obj.contentType != "text/plain" {
		t.Errorf("content type = %q, want text/plain", obj.contentType)
	}

	mapping, err := store.GetOriginMapping(ctx, "f2")
	if err != nil {
		t.Fatalf("GetOriginMapping() error = %v", err)
	}
	if mapping.Digest != digest {
		t.Errorf("mapping digest = %s, want %s", mapping.Digest, digest)
	}

	raw, err := store.GetCheckpoint(ctx, state.CheckpointSyncWatermark)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if want := t3.Format(time.RFC3339); raw != want {
		t.Errorf("watermark = %q, want %q", raw, want)
	}
}

func TestSyncUnchangedTree(t *testing.T) {
	store := testStateStore(t)
	objects := newMemStore()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{
		children: map[string][]drive.Item{
			"root": {
				fileItem("f1", "a.pdf", t1),
				fileItem("f2", "b.pdf", t1.Add(time.Hour)),
			},
		},
		payloads: map[string]string{"f1": "payload a", "f2": "payload b"},
	}

	first := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root"})
	if first.Uploaded != 2 {
		t.Fatalf("first run uploaded = %d, want 2", first.Uploaded)
	}

	// Incremental run: everything is at or below the watermark, so the
	// traversal yields nothing.
	second := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root"})
	if second.Examined != 0 {
		t.Errorf("incremental run examined = %d, want 0", second.Examined)
	}

	// A forced full walk re-examines every item and skips on the
	// snapshot without fetching bytes.
	third := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root", ForceFullSync: true})
	if third.Examined != 2 || third.Skipped != 2 {
		t.Errorf("forced run = %+v, want 2 examined, 2 skipped", third)
	}
	if n := src.fetchCount(); n != 2 {
		t.Errorf("fetches = %d, want 2: skips must not download", n)
	}
}

func TestSyncRenameRefreshesMetadataOnly(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	src := &fakeSource{
		children: map[string][]drive.Item{
			"root": {fileItem("f1", "draft.pdf", t1)},
		},
		payloads: map[string]string{"f1": "same bytes"},
	}
	runSync(t, store, src, objects, SyncConfig{RootFolderID: "root"})

	// The document is renamed upstream; the bytes stay the same.
	src.children["root"] = []drive.Item{fileItem("f1", "final.pdf", t2)}

	res := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root"})
	if res.MetadataOnly != 1 || res.Uploaded != 0 {
		t.Errorf("result = %+v, want 1 metadata_only", res)
	}
	if n := src.fetchCount(); n != 1 {
		t.Errorf("fetches = %d, want 1: a known origin is never re-downloaded", n)
	}

	digest := digestOf("same bytes")
	rec := getRecord(t, store, digest)
	if rec.OriginalName != "final.pdf" {
		t.Errorf("record name = %q, want final.pdf", rec.OriginalName)
	}
	if rec.OriginModifiedAt == nil || !rec.OriginModifiedAt.Equal(t2) {
		t.Errorf("origin_modified_at = %v, want %v", rec.OriginModifiedAt, t2)
	}

	mapping, err := store.GetOriginMapping(ctx, "f1")
	if err != nil {
		t.Fatalf("GetOriginMapping() error = %v", err)
	}
	if mapping.Name != "final.pdf" {
		t.Errorf("mapping name = %q, want final.pdf", mapping.Name)
	}

	obj := objects.get(t, rec.ObjectKey)
	if obj.metadata[cas.MetaOriginalName] != "final.pdf" {
		t.Errorf("object name metadata = %q, want final.pdf", obj.metadata[cas.MetaOriginalName])
	}
	if obj.metadata[cas.MetaDigest] != digest {
		t.Error("digest metadata lost on refresh")
	}

	// The refreshed snapshot makes the next forced walk skip again.
	res = runSync(t, store, src, objects, SyncConfig{RootFolderID: "root", ForceFullSync: true})
	if res.Skipped != 1 {
		t.Errorf("post-refresh run = %+v, want 1 skipped", res)
	}
}

func TestSyncDeduplicatesIdenticalContent(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{
		children: map[string][]drive.Item{
			"root": {
				fileItem("f1", "original.pdf", t1),
				fileItem("f2", "copy of original.pdf", t1.Add(time.Minute)),
			},
		},
		payloads: map[string]string{"f1": "identical bytes", "f2": "identical bytes"},
	}

	res := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root", Workers: 1})
	if res.Uploaded != 1 || res.Linked != 1 {
		t.Errorf("result = %+v, want 1 uploaded, 1 linked", res)
	}

	digest := digestOf("identical bytes")
	for _, originID := range []string{"f1", "f2"} {
		mapping, err := store.GetOriginMapping(ctx, originID)
		if err != nil {
			t.Fatalf("GetOriginMapping(%s) error = %v", originID, err)
		}
		if mapping.Digest != digest {
			t.Errorf("mapping %s digest = %s, want %s", originID, mapping.Digest, digest)
		}
	}

	// One record, one object: content is stored once.
	rec := getRecord(t, store, digest)
	if rec.Status != state.StatusSynced {
		t.Errorf("status = %s, want synced", rec.Status)
	}
	if len(objects.puts) != 1 {
		t.Errorf("puts = %v, want a single upload", objects.puts)
	}
}

func TestSyncUploadCap(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var items []drive.Item
	payloads := make(map[string]string)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		items = append(items, fileItem(id, id+".pdf", base.Add(time.Duration(i)*time.Hour)))
		payloads[id] = "payload " + id
	}
	src := &fakeSource{children: map[string][]drive.Item{"root": items}, payloads: payloads}

	res := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root", Workers: 1, MaxFiles: 2})

	if res.Uploaded != 2 {
		t.Fatalf("uploaded = %d, want 2", res.Uploaded)
	}
	if res.Examined != res.Uploaded+res.Deferred {
		t.Errorf("examined = %d, want uploads plus deferrals (%+v)", res.Examined, res)
	}
	if len(objects.puts) != 2 {
		t.Errorf("puts = %v, want 2 uploads", objects.puts)
	}

	// The watermark stops at the last committed item so deferred files
	// are found again next run.
	raw, err := store.GetCheckpoint(ctx, state.CheckpointSyncWatermark)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if want := base.Add(time.Hour).Format(time.RFC3339); raw != want {
		t.Errorf("watermark = %q, want %q", raw, want)
	}

	// The next run picks up where the cap stopped this one.
	res = runSync(t, store, src, objects, SyncConfig{RootFolderID: "root", Workers: 1})
	if res.Uploaded != 3 {
		t.Errorf("follow-up run uploaded = %d, want 3", res.Uploaded)
	}
}

func TestSyncSkipsOversizedFile(t *testing.T) {
	store := testStateStore(t)
	objects := newMemStore()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	big := fileItem("big", "scan-archive.pdf", t1.Add(time.Hour))
	big.Size = 10 << 20
	src := &fakeSource{
		children: map[string][]drive.Item{
			"root": {fileItem("small", "memo.pdf", t1), big},
		},
		payloads: map[string]string{"small": "small payload"},
	}

	res := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root", Workers: 1, MaxFileSize: 1 << 20})

	if res.Uploaded != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 uploaded, 1 skipped", res)
	}
	for _, id := range src.fetched {
		if id == "big" {
			t.Error("oversized item was fetched")
		}
	}
	if _, err := store.GetOriginMapping(context.Background(), "big"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("mapping for oversized item: err = %v, want ErrNotFound", err)
	}
}

func TestSyncFetchFailure(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	src := &fakeSource{
		children: map[string][]drive.Item{
			"root": {
				fileItem("ok", "fine.pdf", t1),
				fileItem("bad", "broken.pdf", t2),
			},
		},
		payloads: map[string]string{"ok": "fine payload"},
		fetchErr: map[string]error{"bad": errors.New("export quota exceeded")},
	}

	res := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root", Workers: 1})
	if res.Uploaded != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 uploaded, 1 failed", res)
	}

	// A failed item never advances the watermark past itself, even when
	// it is the newest thing in the tree.
	raw, err := store.GetCheckpoint(ctx, state.CheckpointSyncWatermark)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if want := t1.Format(time.RFC3339); raw != want {
		t.Errorf("watermark = %q, want %q", raw, want)
	}

	// The fetch failed before a digest existed, so there is nothing to
	// record.
	if _, err := store.GetOriginMapping(ctx, "bad"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("mapping for failed item: err = %v, want ErrNotFound", err)
	}
}

func TestSyncUploadFailureRecordsFailedSync(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()

	digest := digestOf("doomed payload")
	key := cas.ObjectKey(digest, ".pdf")
	objects.putErr[key] = &cas.TransientError{Op: "put", Key: key, Err: errors.New("503 slow down")}

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{
		children: map[string][]drive.Item{"root": {fileItem("f1", "doomed.pdf", t1)}},
		payloads: map[string]string{"f1": "doomed payload"},
	}

	res := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root"})
	if res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 failed", res)
	}

	rec := getRecord(t, store, digest)
	if rec.Status != state.StatusFailedSync {
		t.Errorf("status = %s, want failed_sync", rec.Status)
	}
	if rec.ErrorType != state.ErrorTransientBackend {
		t.Errorf("error type = %s, want TransientBackend", rec.ErrorType)
	}
	if rec.ErrorMessage == "" {
		t.Error("error message not recorded")
	}

	// No mapping: the origin is retried from scratch next run.
	if _, err := store.GetOriginMapping(ctx, "f1"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("mapping: err = %v, want ErrNotFound", err)
	}

	// The failure never advances the watermark.
	raw, _ := store.GetCheckpoint(ctx, state.CheckpointSyncWatermark)
	if raw != "" {
		t.Errorf("watermark = %q, want empty", raw)
	}
}

func TestSyncDryRun(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{
		children: map[string][]drive.Item{
			"root": {
				fileItem("f1", "a.pdf", t1),
				fileItem("f2", "b.pdf", t1.Add(time.Hour)),
			},
		},
		payloads: map[string]string{"f1": "payload a", "f2": "payload b"},
	}

	res := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root", DryRun: true})
	if res.Uploaded != 2 {
		t.Errorf("result = %+v, want 2 would-be uploads", res)
	}

	if n := src.fetchCount(); n != 0 {
		t.Errorf("fetches = %d, want 0", n)
	}
	if len(objects.puts) != 0 {
		t.Errorf("puts = %v, want none", objects.puts)
	}
	if _, err := store.GetContentByDigest(ctx, digestOf("payload a")); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("record: err = %v, want ErrNotFound", err)
	}
	raw, _ := store.GetCheckpoint(ctx, state.CheckpointSyncWatermark)
	if raw != "" {
		t.Errorf("watermark = %q, want empty after dry run", raw)
	}
}

func TestSyncResumesFromWatermark(t *testing.T) {
	store := testStateStore(t)
	objects := newMemStore()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t1.Add(2 * time.Hour)

	src := &fakeSource{
		children: map[string][]drive.Item{
			"root": {
				fileItem("f1", "a.pdf", t1),
				fileItem("f2", "b.pdf", t2),
			},
		},
		payloads: map[string]string{"f1": "payload a", "f2": "payload b", "f3": "payload c"},
	}
	runSync(t, store, src, objects, SyncConfig{RootFolderID: "root"})

	// A new document shows up upstream after the first run.
	src.children["root"] = append(src.children["root"], fileItem("f3", "c.pdf", t3))

	res := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root"})
	if res.Examined != 1 || res.Uploaded != 1 {
		t.Errorf("result = %+v, want exactly the new document", res)
	}

	raw, _ := store.GetCheckpoint(context.Background(), state.CheckpointSyncWatermark)
	if want := t3.Format(time.RFC3339); raw != want {
		t.Errorf("watermark = %q, want %q", raw, want)
	}
}

func TestSyncUnreadableWatermarkWalksFullTree(t *testing.T) {
	ctx := context.Background()
	store := testStateStore(t)
	objects := newMemStore()

	if err := store.SetCheckpoint(ctx, state.CheckpointSyncWatermark, "not a timestamp"); err != nil {
		t.Fatalf("SetCheckpoint() error = %v", err)
	}

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{
		children: map[string][]drive.Item{"root": {fileItem("f1", "a.pdf", t1)}},
		payloads: map[string]string{"f1": "payload a"},
	}

	res := runSync(t, store, src, objects, SyncConfig{RootFolderID: "root"})
	if res.Examined != 1 || res.Uploaded != 1 {
		t.Errorf("result = %+v, want a full walk", res)
	}
}

func TestUploadCapReservation(t *testing.T) {
	run := &syncRun{SyncStage: &SyncStage{cfg: SyncConfig{MaxFiles: 2}}}
	if !run.reserveUpload() || !run.reserveUpload() {
		t.Fatal("first two reservations must pass")
	}
	if run.reserveUpload() {
		t.Error("third reservation must fail")
	}
	if !run.capReached() {
		t.Error("capReached() = false at the cap")
	}

	run.releaseUpload()
	if run.capReached() {
		t.Error("capReached() = true after a release")
	}
	if !run.reserveUpload() {
		t.Error("released slot must be reservable again")
	}

	unlimited := &syncRun{SyncStage: &SyncStage{}}
	for i := 0; i < 100; i++ {
		if !unlimited.reserveUpload() {
			t.Fatal("uncapped run must always reserve")
		}
	}
	if unlimited.capReached() {
		t.Error("uncapped run never reaches the cap")
	}
}
