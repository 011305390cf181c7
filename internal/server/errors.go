package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/satindergrewal/deckd/internal/audio"
	"github.com/satindergrewal/deckd/internal/catalog"
	"github.com/satindergrewal/deckd/internal/chain"
)

// statusOf maps an engine error to an HTTP status code.
func statusOf(err error) int {
	var (
		idx  *audio.IndexOutOfRangeError
		load *audio.SourceLoadError
	)
	switch {
	case errors.Is(err, ErrDeckNotFound), errors.Is(err, catalog.ErrTrackNotFound):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrDestroyed):
		return http.StatusGone
	case errors.Is(err, audio.ErrNoSource), errors.Is(err, audio.ErrSuperseded), errors.Is(err, ErrDeckExists):
		return http.StatusConflict
	case errors.As(err, &idx), errors.Is(err, audio.ErrInvalidLoopRange), errors.Is(err, audio.ErrLoopNotSet):
		return http.StatusUnprocessableEntity
	case errors.As(err, &load):
		return http.StatusBadGateway
	case errors.Is(err, errBadGesture), errors.Is(err, chain.ErrUnknownParameter), errors.Is(err, ErrInvalidLabel):
		return http.StatusBadRequest
	case errors.Is(err, errNoCatalog):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
