package probe

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gateway-fm/rpcprobe/internal/rpc"
	"github.com/gateway-fm/rpcprobe/pkg/types"
)

func TestClassifyRead(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorKind
	}{
		{
			name: "provider error object",
			err:  &rpc.RPCError{Code: -32603, Message: "internal"},
			want: types.ErrKindProvider,
		},
		{
			name: "malformed payload",
			err:  &rpc.MalformedResponseError{Field: "nonce", Err: errors.New("bad hex")},
			want: types.ErrKindProvider,
		},
		{
			name: "wrapped malformed payload",
			err:  fmt.Errorf("all retries failed: %w", &rpc.MalformedResponseError{Err: errors.New("x")}),
			want: types.ErrKindProvider,
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: types.ErrKindTimeout,
		},
		{
			name: "transport failure",
			err:  errors.New("connection refused"),
			want: types.ErrKindConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyRead(tt.err).Kind; got != tt.want {
				t.Errorf("classifyRead() kind = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifySend(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorKind
	}{
		{
			name: "rejected transaction",
			err:  &rpc.RPCError{Code: -32000, Message: "nonce too low"},
			want: types.ErrKindSubmission,
		},
		{
			name: "malformed hash",
			err:  &rpc.MalformedResponseError{Field: "transaction hash", Err: errors.New("bad")},
			want: types.ErrKindProvider,
		},
		{
			name: "transport failure",
			err:  errors.New("broken pipe"),
			want: types.ErrKindConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifySend(tt.err).Kind; got != tt.want {
				t.Errorf("classifySend() kind = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorFatal(t *testing.T) {
	for _, tt := range []struct {
		kind  types.ErrorKind
		fatal bool
	}{
		{types.ErrKindConfig, true},
		{types.ErrKindSigning, true},
		{types.ErrKindConnection, false},
		{types.ErrKindProvider, false},
		{types.ErrKindSubmission, false},
		{types.ErrKindTimeout, false},
	} {
		e := newError(tt.kind, errors.New("x"))
		if got := e.Fatal(); got != tt.fatal {
			t.Errorf("Fatal() for %s = %v, want %v", tt.kind, got, tt.fatal)
		}
	}
}

func TestKind(t *testing.T) {
	e := newError(types.ErrKindTimeout, errors.New("late"))
	if got := Kind(fmt.Errorf("wrapped: %w", e)); got != types.ErrKindTimeout {
		t.Errorf("Kind() = %s, want timeout", got)
	}
	if got := Kind(errors.New("plain")); got != types.ErrKindConnection {
		t.Errorf("Kind() fallback = %s, want connection", got)
	}
}
