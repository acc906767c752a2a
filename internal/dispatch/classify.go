package dispatch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/dgallion1/docmd/internal/engine"
)

// Classify maps a raw engine error onto a Kind. Engines never classify
// their own errors; this is the single place that does.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var se *engine.StatusError
	if errors.As(err, &se) {
		if k, ok := classifyStatus(se.StatusCode); ok {
			return k
		}
		return KindEngine
	}

	switch {
	case errors.Is(err, engine.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, engine.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, engine.ErrUnsupportedInput):
		return KindUnsupportedInput
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return KindTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindEngine
}

func classifyStatus(code int) (Kind, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited, true
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return KindTimeout, true
	case code >= 500:
		return KindTransientServer, true
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindUnauthorized, true
	case code == http.StatusBadRequest, code == http.StatusNotFound,
		code == http.StatusRequestEntityTooLarge, code == http.StatusUnsupportedMediaType,
		code == http.StatusUnprocessableEntity:
		return KindUnsupportedInput, true
	}
	return "", false
}
