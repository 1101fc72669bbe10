package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理归档文件的读写。磁盘布局：
//
//	<StoragePath>/<name>    # 例如 c05c2cbd.tar.gz
//
// name 必须是单个路径段。
type Store interface {
	// Get 返回一个可流式读取的归档。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, name string) (*ReadResult, error)

	// Stat 返回归档的描述信息但不打开文件。若不存在则返回 ErrNotFound。
	Stat(ctx context.Context, name string) (*Entry, error)

	// Put 将 body 写入归档。归档一经写入不可替换，已存在时返回 ErrExists。
	// 失败时会清理临时文件。
	Put(ctx context.Context, name string, body io.Reader) (*Entry, error)
}

// Entry 描述一个已存储的归档。
type Entry struct {
	Name      string    `json:"name"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于 HTTP 层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示归档不存在。
	ErrNotFound = errors.New("blob not found")
	// ErrExists 表示归档已存在且本次写入未覆盖。
	ErrExists = errors.New("blob already exists")
	// ErrInvalidName 表示名称不是合法的单个路径段。
	ErrInvalidName = errors.New("invalid blob name")
)
