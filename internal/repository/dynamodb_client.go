package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"line-chat-relay/internal/domain"
)

const (
	attrUserID    = "userId"
	attrTimestamp = "unixTimestamp"

	// maxBatchWriteItems is the DynamoDB BatchWriteItem request limit.
	maxBatchWriteItems = 25
	maxBatchAttempts   = 5
)

var (
	// ErrStoreRead marks a failed read from the session store.
	ErrStoreRead = errors.New("store read failed")
	// ErrStoreWrite marks a failed write or delete against the session store.
	ErrStoreWrite = errors.New("store write failed")
	// ErrInvalidMessage is returned when a message is rejected before reaching the table.
	ErrInvalidMessage = errors.New("invalid message")
)

// unprocessedBackoff is the base delay before re-submitting unprocessed batch items.
var unprocessedBackoff = 100 * time.Millisecond

var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// SessionStore defines the per-user message log operations consumed by the usecase layer.
type SessionStore interface {
	Append(ctx context.Context, userID, content string, role domain.Role, timestamp int64) error
	ReadWindow(ctx context.Context, userID string, limit int) ([]domain.Message, error)
	EraseAll(ctx context.Context, userID string) error
}

// Client wraps a DynamoDB table keyed by (userId, unixTimestamp).
type Client struct {
	api       dynamodbAPI
	tableName string
}

var _ SessionStore = (*Client)(nil)

// record is the persisted item layout.
type record struct {
	UserID    string `dynamodbav:"userId"`
	Timestamp int64  `dynamodbav:"unixTimestamp"`
	Role      string `dynamodbav:"role"`
	Content   string `dynamodbav:"content"`
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// Append writes one message. A zero timestamp is replaced with the current
// time in milliseconds.
func (c *Client) Append(ctx context.Context, userID, content string, role domain.Role, timestamp int64) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("repository: Append: %w: user id is required", ErrInvalidMessage)
	}
	if !role.Persistable() {
		return fmt.Errorf("repository: Append: %w: unknown role %q", ErrInvalidMessage, role)
	}
	if timestamp == 0 {
		timestamp = nowMillis()
	}

	item, err := attributevalue.MarshalMap(record{
		UserID:    userID,
		Timestamp: timestamp,
		Role:      string(role),
		Content:   content,
	})
	if err != nil {
		return fmt.Errorf("repository: Append marshal: %w: %w", ErrStoreWrite, err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w: %w", ErrStoreWrite, err)
	}
	return nil
}

// pageLimit converts a remaining item count to a Query Limit, saturating at
// the int32 range.
func pageLimit(n int) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(n)
}

// ReadWindow returns up to limit of the most recent messages for userID in
// chronological order.
func (c *Client) ReadWindow(ctx context.Context, userID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	var (
		items    []map[string]types.AttributeValue
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("#uid = :uid"),
			ExpressionAttributeNames: map[string]string{
				"#uid": attrUserID,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
			},
			// Read newest first so LIMIT favors the most recent context.
			ScanIndexForward:  aws.Bool(false),
			Limit:             aws.Int32(pageLimit(limit - len(items))),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ReadWindow query: %w: %w", ErrStoreRead, err)
		}
		if out == nil {
			break
		}
		items = append(items, out.Items...)
		// A page may stop short of Limit at the 1 MB boundary.
		if len(items) >= limit || len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	var records []record
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, fmt.Errorf("repository: ReadWindow unmarshal: %w: %w", ErrStoreRead, err)
	}

	msgs := make([]domain.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, domain.Message{
			UserID:    r.UserID,
			Timestamp: r.Timestamp,
			Role:      domain.Role(r.Role),
			Content:   r.Content,
		})
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// EraseAll deletes every message for userID. It is not atomic; a partially
// completed erase is finished by calling it again.
func (c *Client) EraseAll(ctx context.Context, userID string) error {
	paginator := dynamodb.NewQueryPaginator(c.api, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("#uid = :uid"),
		ProjectionExpression:   aws.String("#uid, #ts"),
		ExpressionAttributeNames: map[string]string{
			"#uid": attrUserID,
			"#ts":  attrTimestamp,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("repository: EraseAll query: %w: %w", ErrStoreWrite, err)
		}
		for start := 0; start < len(page.Items); start += maxBatchWriteItems {
			end := min(start+maxBatchWriteItems, len(page.Items))
			if err := c.deleteBatch(ctx, page.Items[start:end]); err != nil {
				return fmt.Errorf("repository: EraseAll: %w", err)
			}
		}
	}
	return nil
}

// deleteBatch removes up to maxBatchWriteItems keys, re-submitting whatever
// DynamoDB reports as unprocessed.
func (c *Client) deleteBatch(ctx context.Context, keys []map[string]types.AttributeValue) error {
	requests := make([]types.WriteRequest, 0, len(keys))
	for _, item := range keys {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: keyOf(item)},
		})
	}

	for attempt := 0; len(requests) > 0; attempt++ {
		if attempt >= maxBatchAttempts {
			return fmt.Errorf("%w: %d deletes still unprocessed after %d attempts", ErrStoreWrite, len(requests), maxBatchAttempts)
		}
		if attempt > 0 {
			if err := sleep(ctx, unprocessedBackoff*time.Duration(1<<(attempt-1))); err != nil {
				return fmt.Errorf("%w: %w", ErrStoreWrite, err)
			}
		}

		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.tableName: requests},
		})
		if err != nil {
			return fmt.Errorf("batch delete: %w: %w", ErrStoreWrite, err)
		}
		if out == nil {
			return nil
		}
		requests = out.UnprocessedItems[c.tableName]
	}
	return nil
}

func keyOf(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUserID:    item[attrUserID],
		attrTimestamp: item[attrTimestamp],
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
