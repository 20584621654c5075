package protocol

import (
	"errors"
	"net/http"
)

// errors for parsing and analysis, each one ends the connection
var (
	errInvalid         = errors.New("invalid request")
	errMethod          = errors.New("unsupported method")
	errVersion         = errors.New("unsupported http version")
	errHeader          = errors.New("malformed header")
	errHeaderTooLong   = errors.New("header value too long")
	errNoContentLength = errors.New("lack of argument (Content-length)")
	errContentLength   = errors.New("bad Content-length")
	errTooLarge        = errors.New("request too large")
	errNotFound        = errors.New("not found")
	errRetries         = errors.New("too many empty reads")
)

// status code an error is reported with
func statusOf(err error) int {
	switch {
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
