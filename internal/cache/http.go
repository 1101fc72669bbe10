package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/catchy-build/catchy/internal/archive"
	"github.com/catchy-build/catchy/internal/logging"
)

// DefaultHTTPTimeout 限制单次 GET/PUT 的总时长，防止远端卡死时调用方无限等待。
const DefaultHTTPTimeout = 30 * time.Second

// HTTPCacher 通过简单的 GET/PUT 协议把条目以 gzip tar 归档形式存放在远端：
//
//	GET {baseURL}/{key}.tar.gz            200 命中，其他状态未命中
//	PUT {baseURL}/{key}.tar.gz?key=TOKEN  上传归档
type HTTPCacher struct {
	baseURL  string
	writeKey string
	client   *http.Client
	logger   *logrus.Logger
}

// NewHTTPCacher 构建远端缓存。client 为空时使用带 DefaultHTTPTimeout 的默认客户端。
func NewHTTPCacher(baseURL, writeKey string, client *http.Client, logger *logrus.Logger) *HTTPCacher {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPCacher{
		baseURL:  strings.TrimRight(baseURL, "/"),
		writeKey: writeKey,
		client:   client,
		logger:   loggerOrDiscard(logger),
	}
}

// Fetch 下载归档并剥离一层前缀解包到 target。非 200 状态视为未命中，target 不会被创建。
// 响应体先完整落到临时文件，下载中断不会留下半截的 target。
func (c *HTTPCacher) Fetch(ctx context.Context, key, target string) (Result, error) {
	if err := ValidateKey(key); err != nil {
		return Miss, err
	}
	entryURL := c.entryURL(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entryURL, nil)
	if err != nil {
		return Miss, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Miss, fmt.Errorf("fetch %s: %w", entryURL, err)
	}
	defer resp.Body.Close()

	fields := logging.CacheFields("http", key)
	fields["status"] = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		fields["cache_hit"] = false
		c.logger.WithFields(fields).Debug("cache_fetch")
		return Miss, nil
	}

	tmp, err := os.CreateTemp("", "catchy-fetch-*.tar.gz")
	if err != nil {
		return Miss, fmt.Errorf("create temp archive: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return Miss, fmt.Errorf("download %s: %w", entryURL, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Miss, err
	}

	if err := archive.Unpack(tmp, target, 1); err != nil {
		return Miss, fmt.Errorf("unpack %s: %w", entryURL, err)
	}

	fields["cache_hit"] = true
	fields["size_bytes"] = size
	c.logger.WithFields(fields).Debug("cache_fetch")
	return Hit, nil
}

// Put 把 source 打包后 PUT 到远端，并附带写入令牌。服务端是否校验令牌不在客户端职责内，
// 但非 2xx 响应意味着没有存下来，会以 *StatusError 返回。
func (c *HTTPCacher) Put(ctx context.Context, key, source string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	archivePath, err := archive.PackFile(source)
	if err != nil {
		return fmt.Errorf("pack %s: %w", source, err)
	}
	defer os.Remove(archivePath)

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	entryURL := c.entryURL(key)
	putURL := entryURL
	if c.writeKey != "" {
		putURL += "?" + url.Values{"key": {c.writeKey}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/gzip")

	resp, err := c.client.Do(req)
	if err != nil {
		// 不把带令牌的 URL 写进错误信息。
		return fmt.Errorf("upload %s: %w", entryURL, redactURLError(err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	fields := logging.CacheFields("http", key)
	fields["status"] = resp.StatusCode
	fields["size_bytes"] = info.Size()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WithFields(fields).Warn("cache_put_rejected")
		return &StatusError{Method: http.MethodPut, URL: entryURL, StatusCode: resp.StatusCode}
	}

	c.logger.WithFields(fields).Info("cache_put")
	return nil
}

func (c *HTTPCacher) entryURL(key string) string {
	return c.baseURL + "/" + url.PathEscape(key) + ".tar.gz"
}

// redactURLError 去掉 *url.Error 中携带的完整 URL。
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
