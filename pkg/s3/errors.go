package s3

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrObjectNotFound is returned for missing keys and buckets.
var ErrObjectNotFound = errors.New("object not found")

// TranslateError maps the SDK's not-found shapes onto ErrObjectNotFound.
// HeadObject and HeadBucket carry no error body, so the generic API error
// code is checked as well.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}

	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return ErrObjectNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return ErrObjectNotFound
		}
	}
	return err
}
