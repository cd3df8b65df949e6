// Package datasource executes operation descriptors against a DynamoDB
// table. One Connector wraps one configured table; its client and in-flight
// budget are shared by all concurrent requests.
package datasource

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/notegate/notegate/config"
	"github.com/notegate/notegate/mapping"
)

// defaultPageSize is the Query page size when the caller specifies none.
const defaultPageSize = 20

// backoffBase is the first retry delay; it doubles per attempt.
const backoffBase = 50 * time.Millisecond

// DynamoAPI is the slice of the DynamoDB client the connector uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Connector executes operation descriptors against one table.
type Connector struct {
	id          string
	table       string
	hashKey     string
	index       string
	maxAttempts int
	acquireWait time.Duration

	client  DynamoAPI
	cursors *CursorCodec
	// sem bounds concurrent backend calls; acquisition waits at most
	// acquireWait before the operation fails as throttled.
	sem chan struct{}
	log *logrus.Entry
}

// NewConnector wires a connector from its configuration.
func NewConnector(ds config.DataSourceConfig, client DynamoAPI, cursors *CursorCodec) *Connector {
	return &Connector{
		id:          ds.ID,
		table:       processedTableName(ds.Table),
		hashKey:     ds.HashKey,
		index:       ds.Index,
		maxAttempts: ds.MaxAttempts,
		acquireWait: ds.AcquireTimeout.Std(),
		client:      client,
		cursors:     cursors,
		sem:         make(chan struct{}, ds.MaxInFlight),
		log:         logrus.WithField("dataSource", ds.ID),
	}
}

// ID returns the data source identifier.
func (c *Connector) ID() string {
	return c.id
}

// Execute runs one operation and returns the backend result as the
// environment for response mapping: "item" for single-item operations,
// "items" and "nextToken" for queries.
//
// GetItem and Query are read-only and safely retryable. PutItem overwrites
// by key (last write wins) and DeleteItem tolerates absent keys, so both are
// idempotent as well; the connector retries all four on throttle.
func (c *Connector) Execute(ctx context.Context, op *mapping.OperationDescriptor) (map[string]interface{}, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	switch op.Kind {
	case mapping.OpGetItem:
		return c.getItem(ctx, op)
	case mapping.OpPutItem:
		return c.putItem(ctx, op)
	case mapping.OpDeleteItem:
		return c.deleteItem(ctx, op)
	case mapping.OpQuery:
		return c.query(ctx, op)
	default:
		return nil, &BackendError{Kind: Malformed, Message: "unknown operation " + string(op.Kind)}
	}
}

// acquire reserves an in-flight slot.
func (c *Connector) acquire(ctx context.Context) (func(), error) {
	timer := time.NewTimer(c.acquireWait)
	defer timer.Stop()
	select {
	case c.sem <- struct{}{}:
		return func() { <-c.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &BackendError{Kind: ThrottledRetryable, Message: "no backend capacity within " + c.acquireWait.String()}
	}
}

// withRetry runs fn with bounded exponential backoff on throttled errors.
func (c *Connector) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := backoffBase
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !retryable(err) || attempt >= c.maxAttempts {
			return err
		}
		c.log.WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt,
			"delay":     delay.String(),
		}).Warn("backend throttled, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (c *Connector) getItem(ctx context.Context, op *mapping.OperationDescriptor) (map[string]interface{}, error) {
	var out *dynamodb.GetItemOutput
	err := c.withRetry(ctx, "GetItem", func() error {
		var callErr error
		out, callErr = c.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(c.table),
			Key:            attrMap(op.Key),
			ConsistentRead: aws.Bool(true),
		})
		return classify("GetItem", callErr)
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, &BackendError{Kind: NotFound, Message: "item does not exist"}
	}
	item, err := unmarshalItem(out.Item)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"item": item}, nil
}

func (c *Connector) putItem(ctx context.Context, op *mapping.OperationDescriptor) (map[string]interface{}, error) {
	item := make(map[string]types.AttributeValue, len(op.Key)+len(op.Attributes))
	for name, v := range op.Key {
		item[name] = attrValue(v)
	}
	for name, v := range op.Attributes {
		item[name] = attrValue(v)
	}
	err := c.withRetry(ctx, "PutItem", func() error {
		_, callErr := c.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.table),
			Item:      item,
		})
		return classify("PutItem", callErr)
	})
	if err != nil {
		return nil, err
	}
	// PutItem does not echo the item, so the written attributes are the
	// result the response template sees.
	written, err := unmarshalItem(item)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"item": written}, nil
}

func (c *Connector) deleteItem(ctx context.Context, op *mapping.OperationDescriptor) (map[string]interface{}, error) {
	var out *dynamodb.DeleteItemOutput
	err := c.withRetry(ctx, "DeleteItem", func() error {
		var callErr error
		out, callErr = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    aws.String(c.table),
			Key:          attrMap(op.Key),
			ReturnValues: types.ReturnValueAllOld,
		})
		return classify("DeleteItem", callErr)
	})
	if err != nil {
		return nil, err
	}
	// Deleting an absent key is not an error; the result just has no item.
	if len(out.Attributes) == 0 {
		return map[string]interface{}{"item": nil}, nil
	}
	item, err := unmarshalItem(out.Attributes)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"item": item}, nil
}

func (c *Connector) query(ctx context.Context, op *mapping.OperationDescriptor) (map[string]interface{}, error) {
	kce, eav := keyConditionExpression(op.KeyCondition)
	limit := op.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	startKey, err := c.cursors.Decode(op.Cursor, op.Owner)
	if err != nil {
		return nil, err
	}

	qi := &dynamodb.QueryInput{
		TableName:                 aws.String(c.table),
		KeyConditionExpression:    aws.String(kce),
		ExpressionAttributeValues: eav,
		Limit:                     aws.Int32(limit),
		ExclusiveStartKey:         startKey,
	}
	// A condition that does not start from the table hash key has to go
	// through the configured index.
	if _, onTable := op.KeyCondition[c.hashKey]; !onTable && c.index != "" {
		qi.IndexName = aws.String(c.index)
	} else {
		qi.ConsistentRead = aws.Bool(true)
	}

	var out *dynamodb.QueryOutput
	err = c.withRetry(ctx, "Query", func() error {
		var callErr error
		out, callErr = c.client.Query(ctx, qi)
		return classify("Query", callErr)
	})
	if err != nil {
		return nil, err
	}

	items := make([]map[string]interface{}, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, &BackendError{Kind: Malformed, Message: "decode query result", cause: err}
	}
	nextToken, err := c.cursors.Encode(out.LastEvaluatedKey, op.Owner)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"items":     toInterfaceSlice(items),
		"nextToken": nil,
	}
	if nextToken != "" {
		result["nextToken"] = nextToken
	}
	return result, nil
}

func unmarshalItem(item map[string]types.AttributeValue) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := attributevalue.UnmarshalMap(item, &m); err != nil {
		return nil, &BackendError{Kind: Malformed, Message: "decode item", cause: err}
	}
	return m, nil
}

// toInterfaceSlice widens the item slice for template evaluation.
func toInterfaceSlice(items []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
