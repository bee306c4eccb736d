package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Generation: "v3", Path: "/app.js"}

	fetchedAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	meta := SnapshotMeta{
		Status:    http.StatusOK,
		Headers:   http.Header{"Content-Type": {"application/javascript"}},
		FetchedAt: fetchedAt,
	}
	payload := []byte("const verse = 'today';")
	if _, err := store.Put(context.Background(), locator, meta, bytes.NewReader(payload)); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if result.Entry.Meta.Status != http.StatusOK {
		t.Fatalf("status mismatch: %d", result.Entry.Meta.Status)
	}
	if got := result.Entry.Meta.Headers.Get("Content-Type"); got != "application/javascript" {
		t.Fatalf("content type mismatch: %s", got)
	}
	if !result.Entry.Meta.FetchedAt.Equal(fetchedAt) {
		t.Fatalf("fetched_at mismatch: expected %v got %v", fetchedAt, result.Entry.Meta.FetchedAt)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Locator{Generation: "v3", Path: "/missing"})
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Generation: "v3", Path: "/cache/remove"}
	if _, err := store.Put(context.Background(), locator, SnapshotMeta{Status: 200}, bytes.NewReader([]byte("data"))); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestStoreOverwriteReplacesWholesale(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Generation: "v3", Path: "/index.html"}

	if _, err := store.Put(context.Background(), locator, SnapshotMeta{Status: 200}, bytes.NewReader([]byte("first body, quite long"))); err != nil {
		t.Fatalf("first put error: %v", err)
	}
	if _, err := store.Put(context.Background(), locator, SnapshotMeta{Status: 200}, bytes.NewReader([]byte("second"))); err != nil {
		t.Fatalf("second put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()
	body, _ := io.ReadAll(result.Reader)
	if string(body) != "second" {
		t.Fatalf("expected wholesale overwrite, got %s", string(body))
	}
}

func TestStoreCancelledPutLeavesNoPartialEntry(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Generation: "v3", Path: "/streamed"}

	prior := []byte("prior snapshot")
	if _, err := store.Put(context.Background(), locator, SnapshotMeta{Status: 200}, bytes.NewReader(prior)); err != nil {
		t.Fatalf("seed put error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	body := &cancellingReader{cancel: cancel, chunks: [][]byte{[]byte("partial "), []byte("content")}}
	if _, err := store.Put(ctx, locator, SnapshotMeta{Status: 200}, body); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("prior entry should survive aborted write: %v", err)
	}
	defer result.Reader.Close()
	got, _ := io.ReadAll(result.Reader)
	if string(got) != string(prior) {
		t.Fatalf("expected intact prior snapshot, got %s", string(got))
	}
}

func TestStoreGenerationsAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, gen := range []string{"v2", "v3"} {
		locator := Locator{Generation: gen, Path: "/index.html"}
		if _, err := store.Put(ctx, locator, SnapshotMeta{Status: 200}, bytes.NewReader([]byte(gen))); err != nil {
			t.Fatalf("put %s error: %v", gen, err)
		}
	}

	names, err := store.Generations(ctx)
	if err != nil {
		t.Fatalf("generations error: %v", err)
	}
	if len(names) != 2 || names[0] != "v2" || names[1] != "v3" {
		t.Fatalf("unexpected generations: %v", names)
	}

	if err := store.DeleteGeneration(ctx, "v2"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	// 重复删除同一代必须是 no-op。
	if err := store.DeleteGeneration(ctx, "v2"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}

	names, err = store.Generations(ctx)
	if err != nil {
		t.Fatalf("generations error: %v", err)
	}
	if len(names) != 1 || names[0] != "v3" {
		t.Fatalf("expected only v3 to remain, got %v", names)
	}

	if _, err := store.Get(ctx, Locator{Generation: "v2", Path: "/index.html"}); err != ErrNotFound {
		t.Fatalf("expected entries to die with their generation, got %v", err)
	}
}

func TestStoreRejectsBadGenerationNames(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if err := store.DeleteGeneration(context.Background(), name); err == nil {
			t.Fatalf("expected error for generation name %q", name)
		}
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Generation: "v3", Path: "/assets"}

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	filePath, err := fs.entryPath(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

// cancellingReader 在吐出第一块数据后取消 context，模拟页面导航中断下载。
type cancellingReader struct {
	cancel context.CancelFunc
	chunks [][]byte
	index  int
}

func (r *cancellingReader) Read(p []byte) (int, error) {
	if r.index >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.index])
	r.index++
	r.cancel()
	return n, nil
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
