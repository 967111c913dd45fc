package api

import (
	"context"
	"errors"
	"net/http"

	"thrivesight/pkg/core"
	"thrivesight/pkg/model"
	"thrivesight/pkg/storage"
)

type errorKind uint

const (
	kindInternal errorKind = iota
	kindInvalidArg
	kindNotFound
	kindUnavailable
	kindPrecondition
	kindCanceled
	kindTimeout
)

// apiError pairs an error with the HTTP status it is reported with.
type apiError struct {
	kind errorKind
	msg  string
	err  error
}

func (e *apiError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *apiError) Unwrap() error { return e.err }

func (e *apiError) HTTPStatus() int {
	switch e.kind {
	case kindInvalidArg:
		return http.StatusBadRequest
	case kindNotFound:
		return http.StatusNotFound
	case kindUnavailable:
		return http.StatusServiceUnavailable
	case kindPrecondition:
		return http.StatusUnprocessableEntity
	case kindCanceled:
		return 499 // client closed request
	case kindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func badRequest(err error) *apiError {
	return &apiError{kind: kindInvalidArg, msg: "invalid request", err: err}
}

// classify maps service and model errors onto API error kinds.
func classify(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, core.ErrNoModel), errors.Is(err, model.ErrUntrained):
		return &apiError{kind: kindUnavailable, msg: "prediction unavailable", err: err}
	case errors.Is(err, model.ErrInvalidInput):
		return &apiError{kind: kindInvalidArg, msg: "invalid input", err: err}
	case errors.Is(err, core.ErrNoTrainingData):
		return &apiError{kind: kindPrecondition, msg: "no training data", err: err}
	case errors.Is(err, storage.ErrNotFound):
		return &apiError{kind: kindNotFound, msg: "not found", err: err}
	case errors.Is(err, context.Canceled):
		return &apiError{kind: kindCanceled, msg: "request canceled", err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &apiError{kind: kindTimeout, msg: "request timed out", err: err}
	}
	return &apiError{kind: kindInternal, msg: "internal error", err: err}
}
