package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/catchy-build/catchy/internal/filelock"
)

func TestDirectoryFetchReturnsMissWhenCacheIsEmpty(t *testing.T) {
	cacher := NewDirectoryCacher(t.TempDir(), nil)
	target := filepath.Join(t.TempDir(), "build")

	result, err := cacher.Fetch(context.Background(), testKey, target)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.CacheHit {
		t.Fatalf("expected miss")
	}
	assertNotExist(t, target)
}

func TestDirectoryFetchMissWhenRootMissing(t *testing.T) {
	cacher := NewDirectoryCacher(filepath.Join(t.TempDir(), "not-created"), nil)
	result, err := cacher.Fetch(context.Background(), testKey, filepath.Join(t.TempDir(), "build"))
	if err != nil || result.CacheHit {
		t.Fatalf("expected plain miss, got %v / %v", result, err)
	}
}

func TestDirectoryPutThenFetchHits(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	cacher := NewDirectoryCacher(root, nil)
	source := sourceDir(t, map[string]string{"README": "Out of memory and time", "lib/a.txt": "a"})

	if err := cacher.Put(context.Background(), testKey, source); err != nil {
		t.Fatalf("put error: %v", err)
	}

	target := filepath.Join(t.TempDir(), "build")
	result, err := cacher.Fetch(context.Background(), testKey, target)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if !result.CacheHit {
		t.Fatalf("expected hit after put")
	}
	if got := readFile(t, filepath.Join(target, "README")); got != "Out of memory and time" {
		t.Fatalf("unexpected README %q", got)
	}
	if got := readFile(t, filepath.Join(target, "lib", "a.txt")); got != "a" {
		t.Fatalf("unexpected lib/a.txt %q", got)
	}

	if _, err := os.Stat(filepath.Join(root, testKey+".built")); err != nil {
		t.Fatalf("completion marker missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, testKey, "README")); err != nil {
		t.Fatalf("entry content missing: %v", err)
	}
}

func TestDirectoryFirstWriterWins(t *testing.T) {
	cacher := NewDirectoryCacher(t.TempDir(), nil)

	if err := cacher.Put(context.Background(), testKey, sourceDir(t, map[string]string{"README": "first"})); err != nil {
		t.Fatalf("first put error: %v", err)
	}
	if err := cacher.Put(context.Background(), testKey, sourceDir(t, map[string]string{"README": "second", "extra": "x"})); err != nil {
		t.Fatalf("second put should be a no-op, got %v", err)
	}

	target := filepath.Join(t.TempDir(), "build")
	if _, err := cacher.Fetch(context.Background(), testKey, target); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if got := readFile(t, filepath.Join(target, "README")); got != "first" {
		t.Fatalf("first content should win, got %q", got)
	}
	assertNotExist(t, filepath.Join(target, "extra"))
}

func TestDirectoryPreservesSymlinks(t *testing.T) {
	cacher := NewDirectoryCacher(t.TempDir(), nil)
	source := sourceDir(t, map[string]string{"A": "Out of memory and time"})
	if err := os.Symlink("A", filepath.Join(source, "A-sym")); err != nil {
		t.Fatalf("symlink error: %v", err)
	}

	if err := cacher.Put(context.Background(), testKey, source); err != nil {
		t.Fatalf("put error: %v", err)
	}
	target := filepath.Join(t.TempDir(), "build")
	if _, err := cacher.Fetch(context.Background(), testKey, target); err != nil {
		t.Fatalf("fetch error: %v", err)
	}

	info, err := os.Lstat(filepath.Join(target, "A-sym"))
	if err != nil {
		t.Fatalf("lstat error: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("A-sym should still be a symlink, mode=%v", info.Mode())
	}

	if err := os.WriteFile(filepath.Join(target, "A"), []byte("Wahoo!"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if got := readFile(t, filepath.Join(target, "A-sym")); got != "Wahoo!" {
		t.Fatalf("symlink should resolve to A, got %q", got)
	}
}

func TestDirectoryFetchMergesIntoExistingTarget(t *testing.T) {
	cacher := NewDirectoryCacher(t.TempDir(), nil)
	if err := cacher.Put(context.Background(), testKey, sourceDir(t, map[string]string{"README": "cached"})); err != nil {
		t.Fatalf("put error: %v", err)
	}

	target := sourceDir(t, map[string]string{"hello": "Hello there!"})
	if _, err := cacher.Fetch(context.Background(), testKey, target); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if got := readFile(t, filepath.Join(target, "README")); got != "cached" {
		t.Fatalf("unexpected README %q", got)
	}
	if got := readFile(t, filepath.Join(target, "hello")); got != "Hello there!" {
		t.Fatalf("existing file should survive, got %q", got)
	}
}

func TestDirectoryEntryWithoutMarkerIsAbsent(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, filepath.Join(root, testKey), map[string]string{"README": "half written"})

	cacher := NewDirectoryCacher(root, nil)
	target := filepath.Join(t.TempDir(), "build")
	result, err := cacher.Fetch(context.Background(), testKey, target)
	if err != nil || result.CacheHit {
		t.Fatalf("entry without marker must miss, got %v / %v", result, err)
	}
	assertNotExist(t, target)
}

func TestDirectoryPutReplacesStaleEntry(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, filepath.Join(root, testKey), map[string]string{"junk": "left by a crashed writer"})

	cacher := NewDirectoryCacher(root, nil)
	if err := cacher.Put(context.Background(), testKey, sourceDir(t, map[string]string{"README": "fresh"})); err != nil {
		t.Fatalf("put error: %v", err)
	}

	target := filepath.Join(t.TempDir(), "build")
	if _, err := cacher.Fetch(context.Background(), testKey, target); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	assertNotExist(t, filepath.Join(target, "junk"))
	if got := readFile(t, filepath.Join(target, "README")); got != "fresh" {
		t.Fatalf("unexpected README %q", got)
	}
}

func TestDirectoryPutSkipsWhenLockHeld(t *testing.T) {
	root := t.TempDir()
	held, err := filelock.TryAcquire(filepath.Join(root, testKey+".lock"))
	if err != nil {
		t.Fatalf("acquire error: %v", err)
	}
	defer held.Release()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cacher := NewDirectoryCacher(root, logger)

	if err := cacher.Put(context.Background(), testKey, sourceDir(t, map[string]string{"README": "x"})); err != nil {
		t.Fatalf("contention must not surface as an error: %v", err)
	}
	assertNotExist(t, filepath.Join(root, testKey))
	assertNotExist(t, filepath.Join(root, testKey+".built"))

	last := hook.LastEntry()
	if last == nil || last.Message != "cache_put_skipped" {
		t.Fatalf("expected cache_put_skipped log, got %+v", last)
	}
}

func TestDirectoryPutCleansUpAfterFailedCopy(t *testing.T) {
	root := t.TempDir()
	cacher := NewDirectoryCacher(root, nil)

	source := sourceDir(t, map[string]string{"a-first": "copied before the failure"})
	if err := syscall.Mkfifo(filepath.Join(source, "z-pipe"), 0o644); err != nil {
		t.Skipf("mkfifo unavailable: %v", err)
	}

	err := cacher.Put(context.Background(), testKey, source)
	if err == nil {
		t.Fatalf("expected copy failure to surface")
	}
	assertNotExist(t, filepath.Join(root, testKey))
	assertNotExist(t, filepath.Join(root, testKey+".built"))

	lock, err := filelock.TryAcquire(filepath.Join(root, testKey+".lock"))
	if err != nil {
		t.Fatalf("lock should be released after failure: %v", err)
	}
	lock.Release()
}

func TestDirectoryPutMissingSourceFails(t *testing.T) {
	root := t.TempDir()
	cacher := NewDirectoryCacher(root, nil)

	if err := cacher.Put(context.Background(), testKey, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing source")
	}
	assertNotExist(t, filepath.Join(root, testKey+".built"))
}

func TestDirectoryPutSingleFile(t *testing.T) {
	cacher := NewDirectoryCacher(t.TempDir(), nil)
	source := filepath.Join(t.TempDir(), "artifact.bin")
	if err := os.WriteFile(source, []byte("blob"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	if err := cacher.Put(context.Background(), testKey, source); err != nil {
		t.Fatalf("put error: %v", err)
	}
	target := filepath.Join(t.TempDir(), "artifact.bin")
	result, err := cacher.Fetch(context.Background(), testKey, target)
	if err != nil || !result.CacheHit {
		t.Fatalf("expected hit, got %v / %v", result, err)
	}
	if got := readFile(t, target); got != "blob" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestDirectoryConcurrentPutsProduceOneEntry(t *testing.T) {
	root := t.TempDir()
	logger, hook := test.NewNullLogger()
	cacher := NewDirectoryCacher(root, logger)
	source := sourceDir(t, map[string]string{
		"README":        "Out of memory and time",
		"lib/one.txt":   "1",
		"lib/two.txt":   "2",
		"bin/tool.sh":   "#!/bin/sh",
		"docs/guide.md": "guide",
	})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- cacher.Put(context.Background(), testKey, source)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent put error: %v", err)
		}
	}

	stored := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == "cache_put" {
			stored++
		}
	}
	if stored != 1 {
		t.Fatalf("expected exactly one writer to populate the entry, got %d", stored)
	}

	target := filepath.Join(t.TempDir(), "build")
	result, err := cacher.Fetch(context.Background(), testKey, target)
	if err != nil || !result.CacheHit {
		t.Fatalf("expected hit, got %v / %v", result, err)
	}
	for name, want := range map[string]string{"README": "Out of memory and time", "lib/one.txt": "1", "docs/guide.md": "guide"} {
		if got := readFile(t, filepath.Join(target, name)); got != want {
			t.Fatalf("%s: expected %q got %q", name, want, got)
		}
	}
}

func TestDirectoryRejectsUnsafeKeys(t *testing.T) {
	root := t.TempDir()
	cacher := NewDirectoryCacher(root, nil)
	source := sourceDir(t, map[string]string{"README": "x"})

	for _, key := range []string{"", "..", "../escape", "a/b", "abc.built", "abc.lock"} {
		if err := cacher.Put(context.Background(), key, source); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("put %q: expected ErrInvalidKey, got %v", key, err)
		}
		if _, err := cacher.Fetch(context.Background(), key, t.TempDir()); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("fetch %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestDirectoryHonoursCancelledContext(t *testing.T) {
	cacher := NewDirectoryCacher(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cacher.Put(ctx, testKey, sourceDir(t, map[string]string{"README": "x"})); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	target := filepath.Join(t.TempDir(), "build")
	if _, err := cacher.Fetch(ctx, testKey, target); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertNotExist(t, target)
}

func TestNewXDGDirectoryCacherUsesCacheHome(t *testing.T) {
	cacheHome := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cacheHome)

	cacher, err := NewXDGDirectoryCacher("myproject", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantRoot := filepath.Join(cacheHome, "myproject")
	if cacher.root != wantRoot {
		t.Fatalf("expected root %s, got %s", wantRoot, cacher.root)
	}

	if err := cacher.Put(context.Background(), testKey, sourceDir(t, map[string]string{"README": "X"})); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wantRoot, testKey+".built")); err != nil {
		t.Fatalf("marker should live under the XDG root: %v", err)
	}
}

func TestDirectoryBackendDefaultsToXDGRoot(t *testing.T) {
	cacheHome := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cacheHome)

	built, err := New(BackendDirectory, Options{Name: "proj"})
	if err != nil {
		t.Fatalf("directory backend without Dir should resolve a default root: %v", err)
	}
	dir, ok := built.(*DirectoryCacher)
	if !ok {
		t.Fatalf("unexpected type %T", built)
	}
	if want := filepath.Join(cacheHome, "proj"); dir.root != want {
		t.Fatalf("expected root %s, got %s", want, dir.root)
	}
}
