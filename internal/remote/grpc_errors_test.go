package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/signalsfoundry/crowd-simulator/internal/config"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/controller"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "invalid request", err: fmt.Errorf("%w: empty stimulus", ErrInvalidRequest), code: codes.InvalidArgument},
		{name: "invalid config", err: fmt.Errorf("%w: bad kind", config.ErrInvalidConfig), code: codes.InvalidArgument},
		{name: "not running", err: controller.ErrNotRunning, code: codes.FailedPrecondition},
		{name: "not paused", err: controller.ErrNotPaused, code: codes.FailedPrecondition},
		{name: "not single step", err: controller.ErrNotSingleStep, code: codes.FailedPrecondition},
		{name: "already started", err: controller.ErrAlreadyStarted, code: codes.AlreadyExists},
		{name: "canceled", err: context.Canceled, code: codes.Canceled},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
