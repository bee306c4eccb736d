package generation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quiet-time/quiet-time/internal/cache"
)

// fakePreloader 记录调用并按需返回错误，替代真实的网络预载。
type fakePreloader struct {
	store cache.Store
	err   error
	calls int
}

func (f *fakePreloader) Preload(ctx context.Context, generation string, manifest []string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, assetPath := range manifest {
		meta := cache.SnapshotMeta{Status: http.StatusOK, FetchedAt: time.Now().UTC()}
		locator := cache.Locator{Generation: generation, Path: assetPath}
		if _, err := f.store.Put(ctx, locator, meta, strings.NewReader("asset")); err != nil {
			return err
		}
	}
	return nil
}

func TestManagerActivateEvictsAllSiblings(t *testing.T) {
	store := newTestStore(t)
	mgr := newTestManager(t, store, nil)
	ctx := context.Background()

	for _, gen := range []string{"v1", "v2", "v3"} {
		if err := mgr.Install(ctx, gen, []string{"/", "/app.js"}); err != nil {
			t.Fatalf("安装 %s 失败: %v", gen, err)
		}
	}

	if err := mgr.Activate(ctx, "v3"); err != nil {
		t.Fatalf("Activate 返回错误: %v", err)
	}

	names, err := store.Generations(ctx)
	if err != nil {
		t.Fatalf("枚举缓存代失败: %v", err)
	}
	if len(names) != 1 || names[0] != "v3" {
		t.Fatalf("激活后应只剩当前代，得到 %v", names)
	}
}

func TestManagerActivateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	mgr := newTestManager(t, store, nil)
	ctx := context.Background()

	if err := mgr.Install(ctx, "v3", []string{"/"}); err != nil {
		t.Fatalf("安装失败: %v", err)
	}
	if err := mgr.Activate(ctx, "v3"); err != nil {
		t.Fatalf("首次激活失败: %v", err)
	}
	if err := mgr.Activate(ctx, "v3"); err != nil {
		t.Fatalf("重复激活应为 no-op: %v", err)
	}

	if _, err := store.Get(ctx, cache.Locator{Generation: "v3", Path: "/"}); err != nil {
		t.Fatalf("重复激活不应影响当前代内容: %v", err)
	}
}

func TestManagerFailedInstallLeavesPriorGenerationIntact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	good := newTestManager(t, store, nil)
	if err := good.Install(ctx, "v1", []string{"/", "/app.js"}); err != nil {
		t.Fatalf("安装旧代失败: %v", err)
	}
	if err := good.Activate(ctx, "v1"); err != nil {
		t.Fatalf("激活旧代失败: %v", err)
	}

	broken := newTestManager(t, store, errors.New("origin unreachable"))
	if err := broken.Install(ctx, "v2", []string{"/"}); err == nil {
		t.Fatalf("预载失败时 Install 应返回错误")
	}

	if _, err := store.Get(ctx, cache.Locator{Generation: "v1", Path: "/app.js"}); err != nil {
		t.Fatalf("失败的安装不应破坏现有缓存代: %v", err)
	}
}

func TestManagerInstallValidation(t *testing.T) {
	store := newTestStore(t)
	mgr := newTestManager(t, store, nil)
	ctx := context.Background()

	if err := mgr.Install(ctx, "", []string{"/"}); err == nil {
		t.Fatalf("空缓存代名应报错")
	}
	if err := mgr.Install(ctx, "v3", nil); err == nil {
		t.Fatalf("空清单应报错")
	}
	if err := mgr.Activate(ctx, ""); err == nil {
		t.Fatalf("空缓存代名激活应报错")
	}
}

func newTestStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建缓存失败: %v", err)
	}
	return store
}

func newTestManager(t *testing.T, store cache.Store, preloadErr error) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mgr, err := NewManager(store, &fakePreloader{store: store, err: preloadErr}, logger)
	if err != nil {
		t.Fatalf("构造 Manager 失败: %v", err)
	}
	return mgr
}
