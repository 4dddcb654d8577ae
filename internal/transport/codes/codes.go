// Package codes maps book errors onto wire error codes.
package codes

import (
	"context"
	"errors"
	"net/http"

	"github.com/daibi/Avatar-Oracle-Book/internal/protocol"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/avatar"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/book"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/ownership"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

// Of returns the protocol code for err, or "" for nil.
func Of(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, avatar.ErrNotAuthorized), errors.Is(err, ownership.ErrNotOwner):
		return protocol.ErrNoPermission
	case errors.Is(err, avatar.ErrInvalidBeneficiary), errors.Is(err, ownership.ErrZeroAddress),
		errors.Is(err, ownership.ErrBadAddress),
		errors.Is(err, randomness.ErrEmptyFulfillment):
		return protocol.ErrBadRequest
	case errors.Is(err, avatar.ErrCreationDisabled):
		return protocol.ErrCreationDisabled
	case errors.Is(err, avatar.ErrRandomnessUnavailable):
		return protocol.ErrRandomness
	case errors.Is(err, avatar.ErrExhausted):
		return protocol.ErrExhausted
	case errors.Is(err, randomness.ErrUnknownRequest):
		return protocol.ErrUnknownRequest
	case errors.Is(err, avatar.ErrNotFound), errors.Is(err, ownership.ErrNoToken):
		return protocol.ErrNotFound
	case errors.Is(err, avatar.ErrNotRendered):
		return protocol.ErrNotRendered
	case errors.Is(err, avatar.ErrAlreadyRendered), errors.Is(err, randomness.ErrDuplicateRequest):
		return protocol.ErrConflict
	case errors.Is(err, book.ErrStopped), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return protocol.ErrBusy
	default:
		return protocol.ErrInternal
	}
}

func HTTPStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case protocol.ErrBadRequest, protocol.ErrProtoBadRequest, protocol.ErrProtoVersion:
		return http.StatusBadRequest
	case protocol.ErrNoPermission:
		return http.StatusForbidden
	case protocol.ErrNotFound, protocol.ErrUnknownRequest:
		return http.StatusNotFound
	case protocol.ErrCreationDisabled, protocol.ErrRandomness, protocol.ErrBusy:
		return http.StatusServiceUnavailable
	case protocol.ErrExhausted, protocol.ErrNotRendered, protocol.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
