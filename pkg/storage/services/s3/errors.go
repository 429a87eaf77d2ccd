package s3

import (
	"errors"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittostore/pkg/storage"
)

// mapError converts an SDK error into a storage error of the matching
// kind. API error codes take precedence over HTTP status codes, since
// HEAD responses carry no body and only the status is known.
func mapError(err error) *storage.Error {
	var se *storage.Error
	if errors.As(err, &se) {
		return se
	}

	kind := storage.KindUnexpected
	temporary := false

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "NoSuchUpload":
			kind = storage.KindNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			kind = storage.KindPermissionDenied
		case "PreconditionFailed", "NotModified":
			kind = storage.KindConditionNotMatch
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequests":
			kind, temporary = storage.KindRateLimited, true
		case "InternalError", "ServiceUnavailable", "RequestTimeout":
			temporary = true
		case "InvalidRange", "EntityTooSmall", "EntityTooLarge", "InvalidPart":
			kind = storage.KindInvalidInput
		}
	}

	var respErr *awshttp.ResponseError
	if kind == storage.KindUnexpected && !temporary && errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			kind = storage.KindNotFound
		case code == http.StatusForbidden:
			kind = storage.KindPermissionDenied
		case code == http.StatusPreconditionFailed, code == http.StatusNotModified:
			kind = storage.KindConditionNotMatch
		case code == http.StatusTooManyRequests:
			kind, temporary = storage.KindRateLimited, true
		case code >= 500:
			temporary = true
		}
	}

	e := storage.NewError(kind, "S3 request failed").WithCause(err)
	if temporary {
		e = e.SetTemporary()
	}
	return e
}

// isNotFound reports whether err means the key does not exist.
func isNotFound(err error) bool {
	return mapError(err).Kind == storage.KindNotFound
}
