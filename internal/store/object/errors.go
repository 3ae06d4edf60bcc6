package object

import (
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
)

func translateErr(service, operation string, err error) error {
	if err == nil {
		return nil
	}
	aerr, ok := err.(awserr.Error)
	if !ok {
		return bunsuierr.Wrap(bunsuierr.ServiceUnavailable, service, operation, err)
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket:
		return bunsuierr.Wrap(bunsuierr.ResourceNotFound, service, operation, err)
	case "SlowDown", "RequestLimitExceeded", "Throttling":
		return bunsuierr.Wrap(bunsuierr.Throttling, service, operation, err)
	case "RequestTimeout":
		return bunsuierr.Wrap(bunsuierr.Timeout, service, operation, err)
	default:
		return bunsuierr.Wrap(bunsuierr.ServiceUnavailable, service, operation, err)
	}
}
