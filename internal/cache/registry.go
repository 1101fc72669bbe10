package cache

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Options 汇总构建后端所需的参数，各后端只读取自己关心的字段。
type Options struct {
	// Dir 是 directory 后端的根目录；为空时按 Name 解析默认用户缓存目录。
	Dir  string
	Name string
	// BaseURL/WriteKey 供 http 后端使用。
	BaseURL  string
	WriteKey string

	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Factory 根据 Options 创建一个后端实例。
type Factory func(Options) (Cacher, error)

// Backend 记录一个后端的静态信息，供配置校验、CLI 列表与构建使用。
type Backend struct {
	Key         string
	Description string
	New         Factory
}

var globalRegistry = newRegistry()

type registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func newRegistry() *registry {
	return &registry{backends: make(map[string]Backend)}
}

// Register 将后端加入全局注册表，重复键会返回错误。
func Register(backend Backend) error {
	return globalRegistry.register(backend)
}

// MustRegister 在注册失败时 panic，适合在 init() 中调用。
func MustRegister(backend Backend) {
	if err := Register(backend); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的后端，键不区分大小写。
func Resolve(key string) (Backend, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的后端列表。
func List() []Backend {
	return globalRegistry.list()
}

// Keys 返回所有已注册后端的键值。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, backend := range items {
		result[i] = backend.Key
	}
	return result
}

// New 按键查找后端并用 opts 构建实例。
func New(key string, opts Options) (Cacher, error) {
	backend, ok := Resolve(key)
	if !ok {
		return nil, fmt.Errorf("unknown cache backend %q (available: %s)", key, strings.Join(Keys(), ", "))
	}
	return backend.New(opts)
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(backend Backend) error {
	key := r.normalizeKey(backend.Key)
	if key == "" {
		return fmt.Errorf("backend key is required")
	}
	if backend.New == nil {
		return fmt.Errorf("backend %s has no factory", key)
	}
	backend.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[key]; exists {
		return fmt.Errorf("backend %s already registered", key)
	}
	r.backends[key] = backend
	return nil
}

func (r *registry) resolve(key string) (Backend, bool) {
	if key == "" {
		return Backend{}, false
	}
	normalized := r.normalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	backend, ok := r.backends[normalized]
	return backend, ok
}

func (r *registry) list() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.backends) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.backends))
	for key := range r.backends {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Backend, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.backends[key])
	}
	return result
}
