package api

import (
	"compress/gzip"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// GzipRequestMiddleware decompresses gzip-encoded request bodies. An invalid
// gzip header fails the request with a 400 HTTPError carrying the cause.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body").SetInternal(err)
			}
			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

// errorHandler renders every error that reaches echo, from middleware or
// unknown routes alike, in the board's failure envelope. Internal causes are
// logged, never sent.
func errorHandler(logger log.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
			if he.Internal != nil {
				err = he.Internal
			}
		}
		entry := logger.WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Request().URL.Path,
			"status": code,
		}).WithError(err)
		if code >= http.StatusInternalServerError {
			entry.Error("board request failed")
		} else {
			entry.Debug("board request rejected")
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, failure(msg))
		}
		if err != nil {
			logger.WithError(err).Warn("write error response")
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(header http.Header) (string, error) {
	raw := strings.TrimSpace(header.Get(echo.HeaderAuthorization))
	if raw == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", errBadAuthorization
	}
	return strings.TrimSpace(token), nil
}

// checkCredential compares the request's bearer token with the configured
// shared secret. An empty secret disables the check.
func checkCredential(header http.Header, secret string) error {
	if secret == "" {
		return nil
	}
	token, err := bearerToken(header)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return errBadAuthorization
	}
	return nil
}
