package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute names of the cache table. The table's TTL feature is enabled on
// attrExpiry, so expired items disappear without any sweeper on our side.
const (
	attrKey    = "RequestHash"
	attrValue  = "Response"
	attrExpiry = "TTL"
)

// DynamoAPI is the subset of the DynamoDB client used by the store.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Dynamo is the durable store: one item per cache key in a DynamoDB table
// with TTL expiry.
type Dynamo struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamo creates a DynamoDB-backed store on the given table.
func NewDynamo(client DynamoAPI, table string) *Dynamo {
	return &Dynamo{client: client, table: table, now: time.Now}
}

// Get returns the value for key, or ErrMiss if absent or expired.
//
// DynamoDB's TTL deletion lags the expiry time by up to minutes, so the
// read path re-checks the expiry attribute and treats a stale item as a
// miss rather than serving it.
func (d *Dynamo) Get(ctx context.Context, key string) (string, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			attrKey: &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return "", fmt.Errorf("dynamodb get: %w", err)
	}
	if len(out.Item) == 0 {
		return "", ErrMiss
	}

	if exp, ok := out.Item[attrExpiry].(*types.AttributeValueMemberN); ok {
		epoch, err := strconv.ParseInt(exp.Value, 10, 64)
		if err == nil && d.now().Unix() >= epoch {
			return "", ErrMiss
		}
	}

	val, ok := out.Item[attrValue].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamodb get: item %s has no %s attribute", key, attrValue)
	}
	return val.Value, nil
}

// Put stores value under key with an absolute expiry of now + ttl.
func (d *Dynamo) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	expiry := d.now().Add(ttl).Unix()
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item: map[string]types.AttributeValue{
			attrKey:    &types.AttributeValueMemberS{Value: key},
			attrValue:  &types.AttributeValueMemberS{Value: value},
			attrExpiry: &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}
	return nil
}
