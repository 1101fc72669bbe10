package cache

import "errors"

const (
	BackendDirectory = "directory"
	BackendHTTP      = "http"
	BackendNone      = "none"
)

func init() {
	MustRegister(Backend{
		Key:         BackendDirectory,
		Description: "local directory with completion markers and per-key flock",
		New: func(opts Options) (Cacher, error) {
			if opts.Dir == "" {
				c, err := NewXDGDirectoryCacher(opts.Name, opts.Logger)
				if err != nil {
					return nil, err
				}
				return c, nil
			}
			return NewDirectoryCacher(opts.Dir, opts.Logger), nil
		},
	})
	MustRegister(Backend{
		Key:         BackendHTTP,
		Description: "remote server storing gzip tar archives via GET/PUT",
		New: func(opts Options) (Cacher, error) {
			if opts.BaseURL == "" {
				return nil, errors.New("http backend requires a base URL")
			}
			return NewHTTPCacher(opts.BaseURL, opts.WriteKey, opts.HTTPClient, opts.Logger), nil
		},
	})
	MustRegister(Backend{
		Key:         BackendNone,
		Description: "caching disabled: every fetch misses, puts are discarded",
		New: func(Options) (Cacher, error) {
			return NewNoCacher(), nil
		},
	})
}
