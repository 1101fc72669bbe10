package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Cacher 是所有缓存后端共享的契约，各实现之间可以互相替换。
type Cacher interface {
	// Fetch 在 key 命中时把缓存条目写入 target 并返回 Hit；未命中返回 Miss 且不创建 target。
	Fetch(ctx context.Context, key, target string) (Result, error)

	// Put 将 source 保存为 key 对应的条目。条目已存在或其他写者正在写入时静默返回 nil。
	Put(ctx context.Context, key, source string) error
}

// Result 表示一次 Fetch 的结果。
type Result struct {
	CacheHit bool
}

var (
	// Hit 表示条目已写入目标目录。
	Hit = Result{CacheHit: true}
	// Miss 表示缓存中没有该条目，目标目录未被触碰。
	Miss = Result{CacheHit: false}
)

// String 返回 "hit" 或 "miss"，便于日志与 CLI 输出。
func (r Result) String() string {
	if r.CacheHit {
		return "hit"
	}
	return "miss"
}

// ErrInvalidKey 表示缓存键无法安全地作为路径段或 URL 段使用。
var ErrInvalidKey = errors.New("invalid cache key")

// ValidateKey 拒绝空键、"." / ".." 以及包含路径分隔符或 NUL 的键。
// 键的唯一性由调用方负责，这里不做校验。
func ValidateKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// StatusError 表示远端对写入请求返回了非 2xx 状态，条目并未被保存。
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}
