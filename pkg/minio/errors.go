package minio

import (
	"errors"
	"net/http"

	"github.com/minio/minio-go/v7"
)

var (
	// ErrObjectNotFound is returned when the key or bucket does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrAccessDenied is returned when the credentials lack permission.
	ErrAccessDenied = errors.New("access denied")
)

// TranslateError maps S3 error responses onto the package sentinels.
// Everything else is returned unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey", resp.Code == "NoSuchBucket", resp.StatusCode == http.StatusNotFound:
		return ErrObjectNotFound
	case resp.Code == "AccessDenied", resp.StatusCode == http.StatusForbidden:
		return ErrAccessDenied
	}
	return err
}
