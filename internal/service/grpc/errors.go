package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/agromarket/internal/domain"
)

// toStatus переводит доменную ошибку в gRPC-статус. Уже готовый статус
// возвращается как есть, неизвестные ошибки скрываются за Internal.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var verr domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrAmountOverflow),
		errors.Is(err, domain.ErrImageNotUploaded),
		errors.Is(err, domain.ErrUnsupportedMedia),
		errors.Is(err, domain.ErrWeakPassword),
		errors.Is(err, domain.ErrPasswordMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated),
		errors.Is(err, domain.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case domain.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.IsVersionConflict(err):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrEmailAlreadyRegistered):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrCheckoutFailed):
		return status.Error(codes.Unavailable, domain.ErrCheckoutFailed.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
