// Package fsutil 实现缓存目录与构建目录之间的树拷贝。
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CopyTree 将 src 拷贝到 dst，语义等同于 `cp -rT src dst`：
//   - src 为目录时，dst 不存在则创建，已存在则把内容合并进去；
//   - src 为普通文件或符号链接时，dst 即为目标文件路径；
//   - 符号链接按原样重建，不跟随、不解引用。
func CopyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return copySymlink(src, dst)
	case info.Mode().IsRegular():
		return copyFile(src, dst, info)
	case info.IsDir():
		return copyDir(src, dst)
	default:
		return fmt.Errorf("%s: unsupported file type %s", src, info.Mode().Type())
	}
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			return copySymlink(path, target)
		case d.IsDir():
			return ensureDir(target, info.Mode().Perm())
		case info.Mode().IsRegular():
			return copyFile(path, target, info)
		default:
			return fmt.Errorf("%s: unsupported file type %s", path, info.Mode().Type())
		}
	})
}

// ensureDir 创建目录；若路径上已存在非目录条目则先移除，保证合并拷贝可以继续。
func ensureDir(path string, perm fs.FileMode) error {
	existing, err := os.Lstat(path)
	switch {
	case err == nil && existing.IsDir():
		return nil
	case err == nil:
		if err := os.Remove(path); err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	if err := os.MkdirAll(path, perm|0o700); err != nil {
		return err
	}
	return os.Chmod(path, perm|0o700)
}

func copySymlink(src, dst string) error {
	linkTarget, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := RemoveNonDir(dst); err != nil {
		return err
	}
	return os.Symlink(linkTarget, dst)
}

func copyFile(src, dst string, info fs.FileInfo) error {
	if err := RemoveNonDir(dst); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// RemoveNonDir 删除 path 上已有的文件或符号链接；不存在时什么也不做，是目录时报错。
// 覆盖写入前调用它，避免 O_TRUNC 穿过旧的符号链接写到树外。
func RemoveNonDir(path string) error {
	existing, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if existing.IsDir() {
		return fmt.Errorf("%s: is a directory", path)
	}
	return os.Remove(path)
}
