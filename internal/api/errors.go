package api

import (
	"errors"
	"net/http"

	"github.com/IliaW/recipe-box/internal/aws_s3"
	"github.com/IliaW/recipe-box/internal/extractor"
	"github.com/IliaW/recipe-box/internal/persistence"
	"github.com/IliaW/recipe-box/internal/photo"
	"github.com/IliaW/recipe-box/internal/service"
)

// AppError is the error body every endpoint answers with.
type AppError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Code + ": " + e.Message
}

type errorEnvelope struct {
	Error   *AppError `json:"error"`
	Success bool      `json:"success"`
}

func newAppError(status int, code string, message string) *AppError {
	return &AppError{Status: status, Code: code, Message: message}
}

var extractorStatus = map[extractor.Kind]int{
	extractor.KindInvalidInput:        http.StatusBadRequest,
	extractor.KindUpstreamUnreachable: http.StatusBadGateway,
	extractor.KindTimeout:             http.StatusGatewayTimeout,
	extractor.KindPayloadTooLarge:     http.StatusUnprocessableEntity,
	extractor.KindNotHTML:             http.StatusUnprocessableEntity,
	extractor.KindNoMatch:             http.StatusUnprocessableEntity,
	extractor.KindUpstreamStatus:      http.StatusBadGateway,
}

func isExtractorError(err error) bool {
	for _, target := range []error{
		extractor.ErrInvalidInput,
		extractor.ErrUpstreamUnreachable,
		extractor.ErrTimeout,
		extractor.ErrPayloadTooLarge,
		extractor.ErrNotHTML,
		extractor.ErrNoMatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var statusErr *extractor.StatusError
	return errors.As(err, &statusErr)
}

// toAppError maps domain errors to their wire code. Unknown errors become a 500 without details.
func toAppError(err error) *AppError {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, persistence.ErrNotFound):
		return newAppError(http.StatusNotFound, "not_found", "recipe not found")
	case errors.Is(err, aws_s3.ErrPhotoNotFound):
		return newAppError(http.StatusNotFound, "not_found", "photo not found")
	case errors.Is(err, service.ErrInvalidRecipe):
		return newAppError(http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, service.ErrQueueFull):
		return newAppError(http.StatusServiceUnavailable, "queue_full", err.Error())
	case errors.Is(err, photo.ErrTooLarge):
		return newAppError(http.StatusRequestEntityTooLarge, "photo_too_large", err.Error())
	case errors.Is(err, photo.ErrEmpty), errors.Is(err, photo.ErrUnsupportedFormat):
		return newAppError(http.StatusUnsupportedMediaType, "unsupported_photo", err.Error())
	case isExtractorError(err):
		kind := extractor.KindOf(err)
		return newAppError(extractorStatus[kind], string(kind), err.Error())
	default:
		return newAppError(http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
