package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit returns middleware that limits the maximum request body size.
// defaultLimit applies to most endpoints while webhookLimit applies to
// POST /webhooks/* (Stripe event payloads with expanded objects run larger
// than admin API requests).
//
// Limits are specified as human-readable strings: "1M" for 1 megabyte,
// "10M" for 10 megabytes, etc. Supported suffixes are K (kilobytes),
// M (megabytes), and G (gigabytes). A bare number is treated as bytes.
func BodyLimit(defaultLimit string, webhookLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	webhookBytes := parseLimit(webhookLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Body == nil || c.Request().Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if strings.HasPrefix(c.Request().URL.Path, "/webhooks/") {
				limit = webhookBytes
			}

			// Check Content-Length header first for early rejection
			if c.Request().ContentLength > limit {
				return payloadTooLargeError(c)
			}

			// Wrap the body so chunked requests are also capped.
			c.Request().Body = &limitedReader{
				reader: c.Request().Body,
				limit:  limit,
			}

			err := next(c)
			if err == errBodyTooLarge {
				return payloadTooLargeError(c)
			}
			return err
		}
	}
}

var errBodyTooLarge = fmt.Errorf("request body too large")

type limitedReader struct {
	reader io.ReadCloser
	limit  int64
	read   int64
}

func (r *limitedReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read += int64(n)
	if r.read > r.limit {
		return n, errBodyTooLarge
	}
	return n, err
}

func (r *limitedReader) Close() error {
	return r.reader.Close()
}

// parseLimit converts a human-readable size string ("1M", "512K") to bytes.
// Unparseable values fall back to 1 megabyte.
func parseLimit(limit string) int64 {
	limit = strings.TrimSpace(strings.ToUpper(limit))
	if limit == "" {
		return 1 << 20
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(limit, "G"):
		multiplier = 1 << 30
		limit = strings.TrimSuffix(limit, "G")
	case strings.HasSuffix(limit, "M"):
		multiplier = 1 << 20
		limit = strings.TrimSuffix(limit, "M")
	case strings.HasSuffix(limit, "K"):
		multiplier = 1 << 10
		limit = strings.TrimSuffix(limit, "K")
	}

	n, err := strconv.ParseInt(limit, 10, 64)
	if err != nil || n <= 0 {
		return 1 << 20
	}
	return n * multiplier
}

func payloadTooLargeError(c echo.Context) error {
	if !c.Response().Committed {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error": "request body exceeds the allowed size",
		})
	}
	return nil
}
