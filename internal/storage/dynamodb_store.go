package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/TheMichaelB/safe/internal/events"
	"github.com/TheMichaelB/safe/internal/models"
)

const (
	dynamoKeyAttr  = "key"
	dynamoDataAttr = "data"
	dynamoTimeAttr = "updated_at"
)

// DynamoDBStore keeps blobs as items in a table with a string hash key
// named "key" and a binary "data" attribute.
type DynamoDBStore struct {
	client    *dynamodb.Client
	tableName string
	timeout   time.Duration
	logger    *events.Logger
}

// NewDynamoDBStore creates a DynamoDB blob store for the safe's table.
func NewDynamoDBStore(ctx context.Context, desc *models.SafeDescriptor, region, endpoint string, timeout time.Duration, logger *events.Logger) (*DynamoDBStore, error) {
	cfg, err := loadAWSConfig(ctx, desc, region)
	if err != nil {
		return nil, err
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &DynamoDBStore{
		client:    client,
		tableName: desc.ContainerName,
		timeout:   timeout,
		logger: logger.WithFields(map[string]interface{}{
			"component": "dynamodb_store",
			"table":     desc.ContainerName,
		}),
	}, nil
}

// Put writes an item, replacing any existing one.
func (s *DynamoDBStore) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			dynamoKeyAttr:  &types.AttributeValueMemberS{Value: key},
			dynamoDataAttr: &types.AttributeValueMemberB{Value: data},
			dynamoTimeAttr: &types.AttributeValueMemberN{
				Value: fmt.Sprintf("%d", time.Now().Unix()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"key":  key,
		"size": len(data),
	}).Debug("Wrote blob to DynamoDB")

	return nil
}

// Get reads an item with a strongly consistent read.
func (s *DynamoDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	dataAttr, ok := result.Item[dynamoDataAttr].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("invalid data attribute type for %s", key)
	}

	return dataAttr.Value, nil
}

// List scans the table for keys with the given prefix.
func (s *DynamoDBStore) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	input := &dynamodb.ScanInput{
		TableName:                aws.String(s.tableName),
		ProjectionExpression:     aws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#k": dynamoKeyAttr},
		ConsistentRead:           aws.Bool(true),
	}
	if prefix != "" {
		input.FilterExpression = aws.String("begins_with(#k, :prefix)")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		}
	}

	var keys []string
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}
		for _, item := range page.Items {
			if keyAttr, ok := item[dynamoKeyAttr].(*types.AttributeValueMemberS); ok {
				keys = append(keys, keyAttr.Value)
			}
		}
	}

	return keys, nil
}

// Delete removes an item and reports ErrNotFound when nothing was deleted.
func (s *DynamoDBStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete: %w", err)
	}

	if len(result.Attributes) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	s.logger.WithField("key", key).Debug("Deleted blob from DynamoDB")
	return nil
}

// Close is a no-op.
func (s *DynamoDBStore) Close() error {
	return nil
}
