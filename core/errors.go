package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DispatchErrorBadInput        = "DISPATCH_BAD_INPUT"
	DispatchErrorNotFound        = "DISPATCH_NOT_FOUND"
	DispatchErrorLaneNotFound    = "DISPATCH_LANE_NOT_FOUND"
	DispatchErrorConflict        = "DISPATCH_CONFLICT"
	DispatchErrorRateLimited     = "DISPATCH_RATE_LIMITED"
	DispatchErrorDeliveryFailed  = "DISPATCH_DELIVERY_FAILED"
	DispatchErrorSignatureReject = "DISPATCH_SIGNATURE_REJECTED"
	DispatchErrorInternal        = "DISPATCH_INTERNAL_ERROR"
)

func dispatchErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureDispatchErrorEnvelope(richErr)
	}

	switch {
	case goerrors.Is(err, ErrJobNotFound),
		goerrors.Is(err, ErrRegistrationNotFound),
		goerrors.Is(err, ErrTemplateNotFound),
		goerrors.Is(err, ErrAttemptNotFound):
		return newDispatchError(err.Error(), goerrors.CategoryNotFound, DispatchErrorNotFound)
	case goerrors.Is(err, ErrLaneNotFound):
		return newDispatchError(err.Error(), goerrors.CategoryNotFound, DispatchErrorLaneNotFound)
	case goerrors.Is(err, ErrInvalidPayload),
		goerrors.Is(err, ErrInvalidChannel),
		goerrors.Is(err, ErrInvalidEndpoint):
		return newDispatchError(err.Error(), goerrors.CategoryBadInput, DispatchErrorBadInput)
	case goerrors.Is(err, ErrInvalidJobStatusTransition),
		goerrors.Is(err, ErrJobNotTerminal):
		return newDispatchError(err.Error(), goerrors.CategoryConflict, DispatchErrorConflict)
	case goerrors.Is(err, ErrPermanentDelivery):
		return newDispatchError(err.Error(), goerrors.CategoryOperation, DispatchErrorDeliveryFailed)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return newDispatchError(err.Error(), goerrors.CategoryAuth, DispatchErrorSignatureReject)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newDispatchError(err.Error(), goerrors.CategoryRateLimit, DispatchErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newDispatchError(err.Error(), goerrors.CategoryBadInput, DispatchErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureDispatchErrorEnvelope(mapped)
}

func newDispatchError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureDispatchErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureDispatchErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = dispatchHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultDispatchTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultDispatchTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return DispatchErrorBadInput
	case goerrors.CategoryNotFound:
		return DispatchErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return DispatchErrorSignatureReject
	case goerrors.CategoryConflict:
		return DispatchErrorConflict
	case goerrors.CategoryRateLimit:
		return DispatchErrorRateLimited
	case goerrors.CategoryOperation:
		return DispatchErrorDeliveryFailed
	default:
		return DispatchErrorInternal
	}
}

func dispatchHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// MapError converts any engine error to the canonical envelope used at API
// boundaries.
func MapError(err error) *goerrors.Error {
	return dispatchErrorMapper(err)
}
