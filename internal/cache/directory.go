package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/catchy-build/catchy/internal/config"
	"github.com/catchy-build/catchy/internal/filelock"
	"github.com/catchy-build/catchy/internal/fsutil"
	"github.com/catchy-build/catchy/internal/logging"
)

const (
	markerSuffix = ".built"
	lockSuffix   = ".lock"
)

// DirectoryCacher 把条目保存在本地根目录下。对根目录 R 与键 K：
//
//	R/K/...     条目内容
//	R/K.built   完成标记，内容写完之后才创建
//	R/K.lock    写入期间持有的 flock
//
// 读者只看完成标记，因此永远不会读到写了一半的条目。
type DirectoryCacher struct {
	root   string
	logger *logrus.Logger
}

// NewDirectoryCacher 以 root 为根目录构建本地缓存，根目录在首次 Put 时按需创建。
func NewDirectoryCacher(root string, logger *logrus.Logger) *DirectoryCacher {
	return &DirectoryCacher{
		root:   root,
		logger: loggerOrDiscard(logger),
	}
}

// NewXDGDirectoryCacher 在默认用户缓存目录下构建本地缓存：
// $XDG_CACHE_HOME/<name>，未设置时为 ~/.cache/<name>。name 为空时使用 config.DefaultName。
func NewXDGDirectoryCacher(name string, logger *logrus.Logger) (*DirectoryCacher, error) {
	root, err := config.ResolveCacheRoot("", name)
	if err != nil {
		return nil, fmt.Errorf("resolve default cache root: %w", err)
	}
	return NewDirectoryCacher(root, logger), nil
}

// Fetch 若完成标记存在，则把条目拷贝到 target（符号链接保持原样，target 已存在时合并）。
func (c *DirectoryCacher) Fetch(ctx context.Context, key, target string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Miss, err
	}
	if err := validateDirectoryKey(key); err != nil {
		return Miss, err
	}

	built, err := c.inCache(key)
	if err != nil {
		return Miss, err
	}
	fields := logging.CacheFields("directory", key)
	if !built {
		fields["cache_hit"] = false
		c.logger.WithFields(fields).Debug("cache_fetch")
		return Miss, nil
	}

	if err := fsutil.CopyTree(c.entryDir(key), target); err != nil {
		return Miss, fmt.Errorf("copy cache entry %s to %s: %w", key, target, err)
	}

	fields["cache_hit"] = true
	fields["target"] = target
	c.logger.WithFields(fields).Debug("cache_fetch")
	return Hit, nil
}

// Put 在条目不存在时以 flock 保护写入；锁被占用说明另一个写者正在写同一个键，直接返回。
// 拷贝失败时删除写了一半的条目并返回错误，完成标记只会在拷贝成功后写入。
func (c *DirectoryCacher) Put(ctx context.Context, key, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateDirectoryKey(key); err != nil {
		return err
	}

	built, err := c.inCache(key)
	if err != nil || built {
		return err
	}

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}

	err = filelock.With(c.lockPath(key), func() error {
		return c.populate(key, source)
	})
	if errors.Is(err, filelock.ErrLocked) {
		c.logger.WithFields(logging.CacheFields("directory", key)).Debug("cache_put_skipped")
		return nil
	}
	return err
}

// populate 必须在持有 key 的锁时调用。
func (c *DirectoryCacher) populate(key, source string) error {
	// 上一位写者可能在我们首次检查之后、拿到锁之前完成了写入。
	built, err := c.inCache(key)
	if err != nil || built {
		return err
	}

	entry := c.entryDir(key)
	// 没有完成标记的条目目录只可能是崩溃写者留下的残骸。
	if err := os.RemoveAll(entry); err != nil {
		return fmt.Errorf("remove stale entry %s: %w", key, err)
	}

	if err := fsutil.CopyTree(source, entry); err != nil {
		c.discard(key)
		return fmt.Errorf("copy %s into cache: %w", source, err)
	}

	if err := os.WriteFile(c.markerPath(key), nil, 0o644); err != nil {
		c.discard(key)
		return fmt.Errorf("write completion marker for %s: %w", key, err)
	}

	fields := logging.CacheFields("directory", key)
	fields["source"] = source
	c.logger.WithFields(fields).Info("cache_put")
	return nil
}

// discard 尽力清理写了一半的条目，清理失败只记录日志。
func (c *DirectoryCacher) discard(key string) {
	for _, p := range []string{c.markerPath(key), c.entryDir(key)} {
		if err := os.RemoveAll(p); err != nil {
			c.logger.WithError(err).
				WithFields(logging.CacheFields("directory", key)).
				Warn("cache_cleanup_failed")
		}
	}
}

func (c *DirectoryCacher) inCache(key string) (bool, error) {
	_, err := os.Stat(c.markerPath(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("check completion marker for %s: %w", key, err)
	}
}

// validateDirectoryKey 额外拒绝以标记或锁后缀结尾的键，否则它们会与其他键的元数据文件重名。
func validateDirectoryKey(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if strings.HasSuffix(key, markerSuffix) || strings.HasSuffix(key, lockSuffix) {
		return fmt.Errorf("%w: %q uses a reserved suffix", ErrInvalidKey, key)
	}
	return nil
}

func (c *DirectoryCacher) entryDir(key string) string {
	return filepath.Join(c.root, key)
}

func (c *DirectoryCacher) markerPath(key string) string {
	return filepath.Join(c.root, key+markerSuffix)
}

func (c *DirectoryCacher) lockPath(key string) string {
	return filepath.Join(c.root, key+lockSuffix)
}
