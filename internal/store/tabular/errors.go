package tabular

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
)

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// translateErr maps an AWS SDK error into the module's error taxonomy so
// retry.BackoffPolicy and retry.CircuitBreaker can reason about it uniformly
// with errors from the object-store and scheduler adapters.
func translateErr(service, operation string, err error) error {
	if err == nil {
		return nil
	}
	aerr, ok := err.(awserr.Error)
	if !ok {
		return bunsuierr.Wrap(bunsuierr.ServiceUnavailable, service, operation, err)
	}
	switch aerr.Code() {
	case dynamodb.ErrCodeProvisionedThroughputExceededException, dynamodb.ErrCodeRequestLimitExceeded:
		return bunsuierr.Wrap(bunsuierr.Throttling, service, operation, err)
	case dynamodb.ErrCodeResourceNotFoundException:
		return bunsuierr.Wrap(bunsuierr.ResourceNotFound, service, operation, err)
	case dynamodb.ErrCodeConditionalCheckFailedException, dynamodb.ErrCodeValidationException:
		return bunsuierr.Wrap(bunsuierr.Validation, service, operation, err)
	case dynamodb.ErrCodeInternalServerError:
		return bunsuierr.Wrap(bunsuierr.ServiceUnavailable, service, operation, err)
	default:
		return bunsuierr.Wrap(bunsuierr.ServiceUnavailable, service, operation, err)
	}
}
