package http

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"rulebook/app/internal/assistant"
	"rulebook/app/internal/auth"
	"rulebook/app/internal/games"
	"rulebook/app/internal/llm"
	"rulebook/app/internal/storage"
)

const errorFallbackMessage = "We couldn't process your request right now."

// problem maps a service error to an HTTP error. Unexpected errors are
// recorded and reported as 500 without leaking their text.
func (s *Server) problem(ctx context.Context, err error, message string, fields logrus.Fields) error {
	cause := eris.Cause(err).Error()

	switch {
	case eris.Is(err, games.ErrInvalidInput),
		eris.Is(err, games.ErrInvalidStatus),
		eris.Is(err, storage.ErrInvalidPath),
		eris.Is(err, storage.ErrEmptyObject):
		return huma.Error400BadRequest(detail(err, cause))
	case eris.Is(err, auth.ErrMissingToken), eris.Is(err, auth.ErrInvalidToken):
		return huma.Error401Unauthorized(cause)
	case eris.Is(err, games.ErrForbidden):
		return huma.Error403Forbidden(cause)
	case eris.Is(err, games.ErrGameNotFound),
		eris.Is(err, games.ErrImageNotFound),
		eris.Is(err, games.ErrRuleNotFound),
		eris.Is(err, storage.ErrObjectNotFound):
		return huma.Error404NotFound(cause)
	case eris.Is(err, assistant.ErrRulesNotReady):
		return huma.Error409Conflict(cause)
	case eris.Is(err, llm.ErrContentFiltered), eris.Is(err, llm.ErrRefused):
		return huma.Error422UnprocessableEntity(cause)
	}

	s.recordError(ctx, err, message, fields)
	return huma.Error500InternalServerError(errorFallbackMessage)
}

// detail returns the message wrapped directly around the sentinel, falling
// back to the sentinel text.
func detail(err error, fallback string) string {
	unpacked := eris.Unpack(err)
	if len(unpacked.ErrChain) > 0 && unpacked.ErrChain[0].Msg != "" {
		return unpacked.ErrChain[0].Msg
	}
	return fallback
}

func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error(message)
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}
