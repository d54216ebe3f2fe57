package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/gateway-fm/rpcprobe/internal/rpc"
	"github.com/gateway-fm/rpcprobe/pkg/types"
)

// Error is a probe failure tagged with its kind. Only config and signing
// kinds abort a whole run; all other kinds are scoped to one iteration.
type Error struct {
	Kind types.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether this error aborts the whole run.
func (e *Error) Fatal() bool {
	return e.Kind == types.ErrKindConfig || e.Kind == types.ErrKindSigning
}

func newError(kind types.ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Kind extracts the error kind, defaulting to connection for untagged errors.
func Kind(err error) types.ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return types.ErrKindConnection
}

// classifyRead tags a failure from a read call (nonce, block number, receipt).
// Malformed payloads and provider-side error objects are provider faults;
// everything else is transport.
func classifyRead(err error) *Error {
	var malformed *rpc.MalformedResponseError
	if errors.As(err, &malformed) {
		return newError(types.ErrKindProvider, err)
	}
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return newError(types.ErrKindProvider, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(types.ErrKindTimeout, err)
	}
	return newError(types.ErrKindConnection, err)
}

// classifySend tags a failure from eth_sendRawTransaction. A provider error
// object here means the transaction was rejected (bad nonce, insufficient
// funds, underpriced gas).
func classifySend(err error) *Error {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return newError(types.ErrKindSubmission, err)
	}
	var malformed *rpc.MalformedResponseError
	if errors.As(err, &malformed) {
		return newError(types.ErrKindProvider, err)
	}
	return newError(types.ErrKindConnection, err)
}
