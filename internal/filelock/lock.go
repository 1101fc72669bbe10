// Package filelock 提供基于 flock(2) 的非阻塞排他锁，用于同一缓存键的写入互斥。
// 锁文件本身只是载体，内容始终为空；进程退出时内核会自动释放锁。
package filelock

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrLocked 表示锁已被其他持有者占用，调用方应视为“有人正在写入”。
var ErrLocked = errors.New("lock unavailable")

// Lock 是一次成功获取的排他锁。
type Lock struct {
	path string
	file *os.File
}

// TryAcquire 以零等待方式获取 path 上的排他锁，锁文件不存在时自动创建。
// 若锁已被占用，立即返回 ErrLocked，不做任何重试。
func TryAcquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return &Lock{path: path, file: f}, nil
}

// Release 释放锁并关闭文件句柄，重复调用是安全的。
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		l.file = nil
		return err
	}

	err := l.file.Close()
	l.file = nil
	return err
}

// With 在持有锁期间执行 fn，无论 fn 正常返回、报错还是 panic，锁都只释放一次。
func With(path string, fn func() error) (err error) {
	lock, err := TryAcquire(path)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); err == nil {
			err = releaseErr
		}
	}()
	return fn()
}
