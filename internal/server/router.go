package server

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/catchy-build/catchy/internal/blobstore"
	"github.com/catchy-build/catchy/internal/logging"
)

// ArchiveSuffix is the only object name suffix the server will serve or store.
const ArchiveSuffix = ".tar.gz"

// DefaultBodyLimit caps the size of an uploaded archive.
const DefaultBodyLimit = 1 << 30

// AppOptions controls how the archive server behaves.
type AppOptions struct {
	Logger *logrus.Logger
	Store  blobstore.Store
	// WriteKey, when non-empty, must be presented as `?key=` on PUT.
	WriteKey  string
	BodyLimit int
}

const contextKeyRequestID = "_catchy_request_id"

// NewApp builds the Fiber application serving cache archives.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Store == nil {
		return nil, errors.New("blob store is required")
	}
	limit := opts.BodyLimit
	if limit <= 0 {
		limit = DefaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     limit,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &archiveHandler{logger: opts.Logger, store: opts.Store, writeKey: opts.WriteKey}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Add([]string{fiber.MethodGet, fiber.MethodHead}, "/:name", h.read)
	app.Put("/:name", h.write)

	return app, nil
}

// requestContextMiddleware 生成请求 ID 并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		fields := logging.RequestFields(reqID, c.Method(), c.Path(), status)
		fields["action"] = "archive_request"
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		entry := logger.WithFields(fields)
		if status >= fiber.StatusInternalServerError {
			entry.WithError(err).Error("request failed")
		} else {
			entry.Debug("request served")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

type archiveHandler struct {
	logger   *logrus.Logger
	store    blobstore.Store
	writeKey string
}

func archiveName(c fiber.Ctx) (string, bool) {
	name := c.Params("name")
	if !strings.HasSuffix(name, ArchiveSuffix) || len(name) == len(ArchiveSuffix) {
		return "", false
	}
	if blobstore.ValidateName(name) != nil {
		return "", false
	}
	return name, true
}

func notFound(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
}

func (h *archiveHandler) read(c fiber.Ctx) error {
	name, ok := archiveName(c)
	if !ok {
		return notFound(c)
	}

	result, err := h.store.Get(c.Context(), name)
	if errors.Is(err, blobstore.ErrNotFound) {
		return notFound(c)
	}
	if err != nil {
		return err
	}
	defer result.Reader.Close()

	c.Set(fiber.HeaderContentType, "application/gzip")
	c.Response().Header.SetContentLength(int(result.Entry.SizeBytes))
	c.Status(fiber.StatusOK)
	if c.Method() == fiber.MethodHead {
		return nil
	}

	if _, err := io.Copy(c.Response().BodyWriter(), result.Reader); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read archive failed: %v", err))
	}
	return nil
}

func (h *archiveHandler) write(c fiber.Ctx) error {
	name, ok := archiveName(c)
	if !ok {
		return notFound(c)
	}
	if !h.authorized(c.Query("key")) {
		h.logger.WithFields(logrus.Fields{
			"action":     "archive_put_forbidden",
			"name":       name,
			"request_id": RequestID(c),
		}).Warn("write key mismatch")
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	}

	if _, err := h.store.Stat(c.Context(), name); err == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "exists"})
	} else if !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}

	entry, err := h.store.Put(c.Context(), name, bytes.NewReader(c.Body()))
	if errors.Is(err, blobstore.ErrExists) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "exists"})
	}
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"action":     "archive_put",
		"name":       name,
		"size_bytes": entry.SizeBytes,
		"request_id": RequestID(c),
	}).Info("archive stored")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "stored"})
}

func (h *archiveHandler) authorized(presented string) bool {
	if h.writeKey == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.writeKey)) == 1
}
