package remote

import (
	"context"
	"errors"

	"github.com/signalsfoundry/crowd-simulator/internal/config"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/controller"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrInvalidRequest is returned for malformed command payloads.
var ErrInvalidRequest = errors.New("invalid request")

// ToStatusError maps controller and configuration errors onto gRPC status
// codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, config.ErrInvalidConfig):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, controller.ErrNotRunning),
		errors.Is(err, controller.ErrNotPaused),
		errors.Is(err, controller.ErrNotSingleStep):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, controller.ErrAlreadyStarted):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
