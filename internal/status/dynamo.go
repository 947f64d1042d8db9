package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/somdiproy/smartcode-review/internal/domain"
)

// DynamoAPI is the slice of the DynamoDB client the store needs. Tests
// supply fakes.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// dynamoItem is the table shape: the result travels as serialized JSON in
// resultJson, mirroring what pollers read back.
type dynamoItem struct {
	AnalysisID string `dynamodbav:"analysisId"`
	Status     string `dynamodbav:"status"`
	Message    string `dynamodbav:"message"`
	ResultJSON string `dynamodbav:"resultJson,omitempty"`
	Progress   int    `dynamodbav:"progressPercentage"`
	Timestamp  int64  `dynamodbav:"timestamp"`
	TTL        int64  `dynamodbav:"ttl"`
}

// DynamoStore persists status records in a DynamoDB table keyed by
// analysisId, with the table's TTL attribute set to "ttl".
type DynamoStore struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoStore wraps a DynamoDB client for the given table.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, now: time.Now}
}

// Save writes the record with a conditional expression that refuses to touch
// an item already in a terminal state. The guard is evaluated inside
// DynamoDB, so concurrent writers cannot interleave around it.
func (d *DynamoStore) Save(ctx context.Context, rec *domain.StatusRecord) error {
	Stamp(rec, d.now())

	item := dynamoItem{
		AnalysisID: rec.AnalysisID,
		Status:     string(rec.Status),
		Message:    rec.Message,
		Progress:   rec.Progress,
		Timestamp:  rec.Timestamp,
		TTL:        rec.TTL,
	}
	if rec.Result != nil {
		b, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("%w: marshal result: %v", ErrPersistence, err)
		}
		item.ResultJSON = string(b)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("%w: marshal item: %v", ErrPersistence, err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(analysisId) OR NOT (#s IN (:completed, :failed))"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: string(domain.StatusCompleted)},
			":failed":    &types.AttributeValueMemberS{Value: string(domain.StatusFailed)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrTerminal
		}
		return fmt.Errorf("%w: put item: %v", ErrPersistence, err)
	}
	return nil
}

// Get reads the record for id. Items past their TTL that DynamoDB has not
// reaped yet are treated as missing.
func (d *DynamoStore) Get(ctx context.Context, id string) (*domain.StatusRecord, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"analysisId": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get item: %v", ErrPersistence, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("%w: unmarshal item: %v", ErrPersistence, err)
	}
	if item.TTL > 0 && item.TTL <= d.now().Unix() {
		return nil, ErrNotFound
	}

	rec := &domain.StatusRecord{
		AnalysisID: item.AnalysisID,
		Status:     domain.AnalysisStatus(item.Status),
		Message:    item.Message,
		Progress:   item.Progress,
		Timestamp:  item.Timestamp,
		TTL:        item.TTL,
	}
	if item.ResultJSON != "" {
		var res domain.ReviewResult
		if err := json.Unmarshal([]byte(item.ResultJSON), &res); err != nil {
			return nil, fmt.Errorf("%w: unmarshal result: %v", ErrPersistence, err)
		}
		rec.Result = &res
	}
	return rec, nil
}
