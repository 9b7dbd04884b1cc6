package core

import "errors"

// Error kinds. Every adapter and sink error wraps exactly one of these.
var (
	ErrConfig       = errors.New("configuration error")
	ErrAuth         = errors.New("authentication failed")
	ErrTransport    = errors.New("transport error")
	ErrParse        = errors.New("parse error")
	ErrNotFound     = errors.New("not found")
	ErrWrite        = errors.New("write failed")
	ErrNotConnected = errors.New("not connected")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrConfig, "config"},
	{ErrAuth, "auth"},
	{ErrTransport, "transport"},
	{ErrParse, "parse"},
	{ErrNotFound, "not_found"},
	{ErrWrite, "write"},
	{ErrNotConnected, "not_connected"},
}

// KindOf returns a short label for the error kind, suitable as a metric
// label. Returns "unknown" for errors that wrap no kind.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}

// IsFatal reports whether err should stop the process. Only configuration
// and authentication failures are fatal; everything else is retried on the
// next cycle.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrAuth)
}
