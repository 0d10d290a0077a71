package qdrant

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrUnavailable is returned when the server cannot be reached or timed out.
	ErrUnavailable = errors.New("qdrant unavailable")

	// ErrNotFound is returned when the collection or point does not exist.
	ErrNotFound = errors.New("qdrant resource not found")

	// ErrDimensionMismatch is returned when an existing collection was created for another vector size.
	ErrDimensionMismatch = errors.New("collection vector size mismatch")

	// ErrInvalidArgument is returned for requests the server rejected as malformed.
	ErrInvalidArgument = errors.New("invalid qdrant request")
)

// TranslateError maps gRPC status codes onto the package sentinels while
// keeping the original error in the chain.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Join(ErrUnavailable, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return errors.Join(ErrUnavailable, err)
	case codes.NotFound:
		return errors.Join(ErrNotFound, err)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return errors.Join(ErrInvalidArgument, err)
	}
	return err
}
