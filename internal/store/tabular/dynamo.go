package tabular

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
	"github.com/bunsuihq/bunsui/internal/config"
	"github.com/bunsuihq/bunsui/internal/domain"
	"github.com/bunsuihq/bunsui/internal/obs"
	"github.com/bunsuihq/bunsui/internal/retry"
)

// DynamoStore is the AWS DynamoDB implementation of Store, persisting
// sessions, job-history records, and pipeline metadata across three tables
// with the GSIs documented in the access-pattern catalogue this adapter
// implements: sessions-by-pipeline/-status/-user, job-history-by-pipeline/
// -status, pipelines-by-user.
type DynamoStore struct {
	client  *dynamodb.DynamoDB
	prefix  string
	backoff retry.BackoffPolicy
	breaker *retry.CircuitBreaker
}

func NewDynamoStore(cfg *config.Config) (*DynamoStore, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:   aws.String(cfg.Region),
		Endpoint: aws.String(cfg.Tabular.Endpoint),
	})
	if err != nil {
		return nil, bunsuierr.Wrap(bunsuierr.Configuration, "tabular", "new_session", err)
	}
	return &DynamoStore{
		client:  dynamodb.New(sess),
		prefix:  cfg.Tabular.TablePrefix,
		backoff: retry.DefaultBackoffPolicy(),
		breaker: retry.NewCircuitBreaker("tabular", cfg.CircuitBreaker),
	}, nil
}

func (s *DynamoStore) table(name string) string {
	return fmt.Sprintf("%s-%s", s.prefix, name)
}

func (s *DynamoStore) call(ctx context.Context, operation string, fn func(attempt int) error) error {
	_, span := obs.StartAdapterSpan(ctx, "tabular", operation)
	defer span.End()
	start := time.Now()
	err := s.breaker.Call(func() error {
		return s.backoff.Do(ctx, func(attempt int) error {
			if attempt > 0 {
				obs.AdapterRetries.WithLabelValues("tabular", operation).Inc()
			}
			return fn(attempt)
		})
	})
	obs.AdapterLatency.WithLabelValues("tabular", operation).Observe(time.Since(start).Seconds())
	if err != nil {
		obs.RecordError(ctx, err)
		return err
	}
	obs.SetSpanSuccess(ctx)
	return nil
}

type sessionItem struct {
	SessionID string `dynamodbav:"session_id"`
	CreatedAt string `dynamodbav:"created_at"`
	Blob      []byte `dynamodbav:"blob"`

	PipelineID string `dynamodbav:"pipeline_id"`
	Status     string `dynamodbav:"status"`
	UserID     string `dynamodbav:"user_id"`
}

func (s *DynamoStore) PutSession(ctx context.Context, sess *domain.Session) error {
	return s.call(ctx, "put_session", func(int) error {
		blob, err := marshalJSON(sess)
		if err != nil {
			return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "put_session", err)
		}
		item, err := dynamodbattribute.MarshalMap(sessionItem{
			SessionID:  sess.SessionID,
			CreatedAt:  sess.CreatedAt.UTC().Format(time.RFC3339Nano),
			Blob:       blob,
			PipelineID: sess.PipelineID,
			Status:     string(sess.Status),
			UserID:     sess.UserID,
		})
		if err != nil {
			return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "put_session", err)
		}
		_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table(TableSessions)),
			Item:      item,
		})
		return translateErr("tabular", "put_session", err)
	})
}

func (s *DynamoStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var out *domain.Session
	err := s.call(ctx, "get_session", func(int) error {
		key, _ := dynamodbattribute.MarshalMap(map[string]string{"session_id": sessionID})
		resp, err := s.client.QueryWithContext(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table(TableSessions)),
			KeyConditionExpression: aws.String("session_id = :sid"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":sid": key["session_id"],
			},
			Limit:            aws.Int64(1),
			ScanIndexForward: aws.Bool(false),
		})
		if err != nil {
			return translateErr("tabular", "get_session", err)
		}
		if len(resp.Items) == 0 {
			return bunsuierr.ErrSessionNotFound
		}
		var item sessionItem
		if err := dynamodbattribute.UnmarshalMap(resp.Items[0], &item); err != nil {
			return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "get_session", err)
		}
		var sess domain.Session
		if err := unmarshalJSON(item.Blob, &sess); err != nil {
			return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "get_session", err)
		}
		out = &sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DynamoStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Session, error) {
	var out []*domain.Session
	err := s.call(ctx, "list_sessions", func(int) error {
		input := &dynamodb.QueryInput{
			TableName:        aws.String(s.table(TableSessions)),
			ScanIndexForward: aws.Bool(false),
		}
		if filter.Limit > 0 {
			input.Limit = aws.Int64(int64(filter.Limit))
		}

		switch {
		case filter.PipelineID != "":
			input.IndexName = aws.String("sessions-by-pipeline-index")
			input.KeyConditionExpression = aws.String("pipeline_id = :v")
			v, _ := dynamodbattribute.Marshal(filter.PipelineID)
			input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{":v": v}
		case filter.Status != "":
			input.IndexName = aws.String("sessions-by-status-index")
			input.KeyConditionExpression = aws.String("#s = :v")
			input.ExpressionAttributeNames = map[string]*string{"#s": aws.String("status")}
			v, _ := dynamodbattribute.Marshal(string(filter.Status))
			input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{":v": v}
		case filter.UserID != "":
			input.IndexName = aws.String("sessions-by-user-index")
			input.KeyConditionExpression = aws.String("user_id = :v")
			v, _ := dynamodbattribute.Marshal(filter.UserID)
			input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{":v": v}
		default:
			return bunsuierr.New(bunsuierr.Validation, "tabular", "list_sessions", "one of PipelineID/Status/UserID is required")
		}

		resp, err := s.client.QueryWithContext(ctx, input)
		if err != nil {
			return translateErr("tabular", "list_sessions", err)
		}
		for _, raw := range resp.Items {
			var item sessionItem
			if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
				return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "list_sessions", err)
			}
			var sess domain.Session
			if err := unmarshalJSON(item.Blob, &sess); err != nil {
				return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "list_sessions", err)
			}
			out = append(out, &sess)
		}
		return nil
	})
	return out, err
}

func (s *DynamoStore) DeleteSession(ctx context.Context, sessionID string) error {
	existing, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.call(ctx, "delete_session", func(int) error {
		key, _ := dynamodbattribute.MarshalMap(map[string]string{
			"session_id": sessionID,
			"created_at": existing.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		_, err := s.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table(TableSessions)),
			Key:       key,
		})
		return translateErr("tabular", "delete_session", err)
	})
}

type jobHistoryItem struct {
	SessionID    string `dynamodbav:"session_id"`
	JobTimestamp string `dynamodbav:"job_timestamp"`
	JobID        string `dynamodbav:"job_id"`
	PipelineID   string `dynamodbav:"pipeline_id"`
	JobStatus    string `dynamodbav:"job_status"`
	StartedAt    string `dynamodbav:"started_at,omitempty"`
	CompletedAt  string `dynamodbav:"completed_at,omitempty"`
	ErrorMessage string `dynamodbav:"error_message,omitempty"`
}

func (s *DynamoStore) AppendJobHistory(ctx context.Context, rec JobHistoryRecord) error {
	return s.call(ctx, "append_job_history", func(int) error {
		item := jobHistoryItem{
			SessionID:    rec.SessionID,
			JobTimestamp: fmt.Sprintf("%s#%s", rec.JobID, rec.Timestamp.UTC().Format(time.RFC3339Nano)),
			JobID:        rec.JobID,
			PipelineID:   rec.PipelineID,
			JobStatus:    string(rec.JobStatus),
			ErrorMessage: rec.ErrorMessage,
		}
		if rec.StartedAt != nil {
			item.StartedAt = rec.StartedAt.UTC().Format(time.RFC3339Nano)
		}
		if rec.CompletedAt != nil {
			item.CompletedAt = rec.CompletedAt.UTC().Format(time.RFC3339Nano)
		}
		av, err := dynamodbattribute.MarshalMap(item)
		if err != nil {
			return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "append_job_history", err)
		}
		_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table(TableJobHistory)),
			Item:      av,
		})
		return translateErr("tabular", "append_job_history", err)
	})
}

func (s *DynamoStore) ListJobHistory(ctx context.Context, sessionID string) ([]JobHistoryRecord, error) {
	var out []JobHistoryRecord
	err := s.call(ctx, "list_job_history", func(int) error {
		v, _ := dynamodbattribute.Marshal(sessionID)
		resp, err := s.client.QueryWithContext(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table(TableJobHistory)),
			KeyConditionExpression:    aws.String("session_id = :sid"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{":sid": v},
		})
		if err != nil {
			return translateErr("tabular", "list_job_history", err)
		}
		for _, raw := range resp.Items {
			var item jobHistoryItem
			if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
				return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "list_job_history", err)
			}
			out = append(out, jobHistoryRecordFromItem(item))
		}
		return nil
	})
	return out, err
}

func (s *DynamoStore) ListFailedJobs(ctx context.Context, limit int32) ([]JobHistoryRecord, error) {
	var out []JobHistoryRecord
	err := s.call(ctx, "list_failed_jobs", func(int) error {
		v, _ := dynamodbattribute.Marshal(string(domain.JobFailed))
		input := &dynamodb.QueryInput{
			TableName:              aws.String(s.table(TableJobHistory)),
			IndexName:              aws.String("job-history-by-status-index"),
			KeyConditionExpression: aws.String("job_status = :v"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":v": v,
			},
		}
		if limit > 0 {
			input.Limit = aws.Int64(int64(limit))
		}
		resp, err := s.client.QueryWithContext(ctx, input)
		if err != nil {
			return translateErr("tabular", "list_failed_jobs", err)
		}
		for _, raw := range resp.Items {
			var item jobHistoryItem
			if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
				return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "list_failed_jobs", err)
			}
			out = append(out, jobHistoryRecordFromItem(item))
		}
		return nil
	})
	return out, err
}

func jobHistoryRecordFromItem(item jobHistoryItem) JobHistoryRecord {
	rec := JobHistoryRecord{
		SessionID:    item.SessionID,
		JobID:        item.JobID,
		PipelineID:   item.PipelineID,
		JobStatus:    domain.JobStatus(item.JobStatus),
		ErrorMessage: item.ErrorMessage,
	}
	if item.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, item.StartedAt); err == nil {
			rec.StartedAt = &t
		}
	}
	if item.CompletedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, item.CompletedAt); err == nil {
			rec.CompletedAt = &t
		}
	}
	return rec
}

type pipelineItem struct {
	PipelineID string `dynamodbav:"pipeline_id"`
	Version    string `dynamodbav:"version"`
	UserID     string `dynamodbav:"user_id"`
	CreatedAt  string `dynamodbav:"created_at"`
	Blob       []byte `dynamodbav:"blob"`
}

func (s *DynamoStore) PutPipeline(ctx context.Context, p *domain.Pipeline) error {
	return s.call(ctx, "put_pipeline", func(int) error {
		blob, err := marshalJSON(p)
		if err != nil {
			return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "put_pipeline", err)
		}
		av, err := dynamodbattribute.MarshalMap(pipelineItem{
			PipelineID: p.PipelineID,
			Version:    p.Version,
			UserID:     p.UserID,
			CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339Nano),
			Blob:       blob,
		})
		if err != nil {
			return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "put_pipeline", err)
		}
		_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table(TablePipelines)),
			Item:      av,
		})
		return translateErr("tabular", "put_pipeline", err)
	})
}

func (s *DynamoStore) GetPipeline(ctx context.Context, pipelineID, version string) (*domain.Pipeline, error) {
	var out *domain.Pipeline
	err := s.call(ctx, "get_pipeline", func(int) error {
		key, _ := dynamodbattribute.MarshalMap(map[string]string{
			"pipeline_id": pipelineID,
			"version":     version,
		})
		resp, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.table(TablePipelines)),
			Key:       key,
		})
		if err != nil {
			return translateErr("tabular", "get_pipeline", err)
		}
		if len(resp.Item) == 0 {
			return bunsuierr.ErrPipelineNotFound
		}
		var item pipelineItem
		if err := dynamodbattribute.UnmarshalMap(resp.Item, &item); err != nil {
			return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "get_pipeline", err)
		}
		var p domain.Pipeline
		if err := unmarshalJSON(item.Blob, &p); err != nil {
			return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "get_pipeline", err)
		}
		out = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DynamoStore) ListPipelinesByUser(ctx context.Context, userID string, limit int32) ([]*domain.Pipeline, error) {
	var out []*domain.Pipeline
	err := s.call(ctx, "list_pipelines_by_user", func(int) error {
		v, _ := dynamodbattribute.Marshal(userID)
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(s.table(TablePipelines)),
			IndexName:                 aws.String("pipelines-by-user-index"),
			KeyConditionExpression:    aws.String("user_id = :v"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{":v": v},
			ScanIndexForward:          aws.Bool(false),
		}
		if limit > 0 {
			input.Limit = aws.Int64(int64(limit))
		}
		resp, err := s.client.QueryWithContext(ctx, input)
		if err != nil {
			return translateErr("tabular", "list_pipelines_by_user", err)
		}
		for _, raw := range resp.Items {
			var item pipelineItem
			if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
				return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "list_pipelines_by_user", err)
			}
			var p domain.Pipeline
			if err := unmarshalJSON(item.Blob, &p); err != nil {
				return bunsuierr.Wrap(bunsuierr.Validation, "tabular", "list_pipelines_by_user", err)
			}
			out = append(out, &p)
		}
		return nil
	})
	return out, err
}

// EnsureTables creates the sessions, job-history, and pipelines tables with
// their GSIs if they do not already exist. Intended for local/dev bootstrap
// against a DynamoDB Local endpoint, not production provisioning.
func (s *DynamoStore) EnsureTables(ctx context.Context) error {
	tables := []*dynamodb.CreateTableInput{
		sessionsTableInput(s.table(TableSessions)),
		jobHistoryTableInput(s.table(TableJobHistory)),
		pipelinesTableInput(s.table(TablePipelines)),
	}
	for _, input := range tables {
		_, err := s.client.CreateTableWithContext(ctx, input)
		if err != nil {
			if awsErr, ok := err.(interface{ Code() string }); ok && awsErr.Code() == dynamodb.ErrCodeResourceInUseException {
				continue
			}
			return translateErr("tabular", "ensure_tables", err)
		}
	}
	return nil
}

func sessionsTableInput(name string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("session_id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("created_at"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("pipeline_id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("status"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("user_id"), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("session_id"), KeyType: aws.String("HASH")},
			{AttributeName: aws.String("created_at"), KeyType: aws.String("RANGE")},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			gsi("sessions-by-pipeline-index", "pipeline_id", "created_at"),
			gsi("sessions-by-status-index", "status", "created_at"),
			gsi("sessions-by-user-index", "user_id", "created_at"),
		},
	}
}

func jobHistoryTableInput(name string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("session_id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("job_timestamp"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("pipeline_id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("job_status"), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("session_id"), KeyType: aws.String("HASH")},
			{AttributeName: aws.String("job_timestamp"), KeyType: aws.String("RANGE")},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			gsi("job-history-by-pipeline-index", "pipeline_id", "job_timestamp"),
			gsi("job-history-by-status-index", "job_status", "job_timestamp"),
		},
	}
}

func pipelinesTableInput(name string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("pipeline_id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("version"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("user_id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("created_at"), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("pipeline_id"), KeyType: aws.String("HASH")},
			{AttributeName: aws.String("version"), KeyType: aws.String("RANGE")},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			gsi("pipelines-by-user-index", "user_id", "created_at"),
		},
	}
}

func gsi(name, hashKey, rangeKey string) *dynamodb.GlobalSecondaryIndex {
	return &dynamodb.GlobalSecondaryIndex{
		IndexName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(hashKey), KeyType: aws.String("HASH")},
			{AttributeName: aws.String(rangeKey), KeyType: aws.String("RANGE")},
		},
		Projection: &dynamodb.Projection{ProjectionType: aws.String("ALL")},
	}
}
