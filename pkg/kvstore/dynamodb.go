package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrPartition = "pk"
	attrSort      = "sk"
)

// DynamoDB is the production Store, backed by a single table with a
// partition key "pk" and sort key "sk" plus two global secondary indexes
// named by IndexByModel and IndexByManifest.
type DynamoDB struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoDB constructs a DynamoDB-backed Store for the given table
// name. region selects the AWS region; baseURL, if non-empty, overrides
// the service endpoint (used against a local DynamoDB Local instance in
// tests).
func NewDynamoDB(ctx context.Context, region, table, baseURL string) (*DynamoDB, error) {
	if table == "" {
		return nil, fmt.Errorf("kvstore: table name required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("kvstore: load AWS config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if baseURL != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(baseURL)
		})
	}

	return &DynamoDB{client: dynamodb.NewFromConfig(awsCfg, opts...), table: table}, nil
}

func (d *DynamoDB) PutIfAbsent(ctx context.Context, item Item) error {
	av, err := itemToAttributeValues(item)
	if err != nil {
		return err
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(" + attrPartition + ")"),
	})
	if isConditionalCheckFailed(err) {
		return ErrConditionFailed
	}
	return err
}

func (d *DynamoDB) Get(ctx context.Context, partition, sort string) (Item, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key:       keyAttributeValues(partition, sort),
	})
	if err != nil {
		return Item{}, false, err
	}
	if out.Item == nil {
		return Item{}, false, nil
	}

	item, err := attributeValuesToItem(out.Item)
	if err != nil {
		return Item{}, false, err
	}
	return item, true, nil
}

func (d *DynamoDB) Put(ctx context.Context, item Item) error {
	av, err := itemToAttributeValues(item)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(d.table), Item: av})
	return err
}

func (d *DynamoDB) PutIfVersion(ctx context.Context, item Item, expectedVersion int) error {
	av, err := itemToAttributeValues(item)
	if err != nil {
		return err
	}

	var condition string
	values := map[string]types.AttributeValue{}
	if expectedVersion == 0 {
		condition = "attribute_not_exists(version) OR version = :v"
	} else {
		condition = "version = :v"
	}
	values[":v"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(d.table),
		Item:                      av,
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeValues: values,
	})
	if isConditionalCheckFailed(err) {
		return ErrConditionFailed
	}
	return err
}

func (d *DynamoDB) Query(ctx context.Context, partition string) ([]Item, error) {
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String(attrPartition + " = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: partition},
		},
	})
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(out.Items))
	for _, raw := range out.Items {
		item, err := attributeValuesToItem(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// UpdateCounter increments counterAttr by delta only if its current
// value is below ceiling. It first attempts the "last writer" update,
// conditioned on the pre-increment value being exactly ceiling-delta;
// only that attempt also sets extra attributes, so at most one caller
// ever observes reachedCeiling=true and applies them. If that condition
// doesn't hold (this isn't the increment that reaches ceiling), it
// falls back to a plain conditional increment. Each attempt is a single
// DynamoDB UpdateItem call, race-free against concurrent writers.
func (d *DynamoDB) UpdateCounter(ctx context.Context, partition, sort, counterAttr string, delta, ceiling int, extra map[string]any) (int, bool, error) {
	newValue, ok, err := d.tryUpdateCounter(ctx, partition, sort, counterAttr, delta, ceiling, ceiling-delta, extra)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return newValue, true, nil
	}

	newValue, ok, err = d.tryUpdateCounter(ctx, partition, sort, counterAttr, delta, ceiling, -1, nil)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, ErrConditionFailed
	}
	return newValue, false, nil
}

// tryUpdateCounter attempts one conditional increment. When priorValue
// is >= 0, the update additionally requires counterAttr to currently
// equal priorValue (used to detect "this call is the one reaching
// ceiling") and applies extra on success; pass priorValue -1 to skip
// that extra condition and omit extra. ok is false (no error) when the
// condition expression didn't hold, so callers can try a fallback.
func (d *DynamoDB) tryUpdateCounter(ctx context.Context, partition, sort, counterAttr string, delta, ceiling, priorValue int, extra map[string]any) (int, bool, error) {
	update := fmt.Sprintf("SET %s = %s + :delta", counterAttr, counterAttr)
	condition := counterAttr + " < :ceiling"
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":delta":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", delta)},
		":ceiling": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ceiling)},
	}

	if priorValue >= 0 {
		condition += " AND " + counterAttr + " = :prior"
		values[":prior"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", priorValue)}

		i := 0
		for k, v := range extra {
			nameAlias := fmt.Sprintf("#e%d", i)
			valueAlias := fmt.Sprintf(":e%d", i)
			names[nameAlias] = k
			av, err := attributevalue.Marshal(v)
			if err != nil {
				return 0, false, fmt.Errorf("kvstore: marshal extra attribute %q: %w", k, err)
			}
			values[valueAlias] = av
			update += fmt.Sprintf(", %s = %s", nameAlias, valueAlias)
			i++
		}
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       keyAttributeValues(partition, sort),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  namesOrNil(names),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if isConditionalCheckFailed(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	var newValue int
	if n, ok := out.Attributes[counterAttr].(*types.AttributeValueMemberN); ok {
		if _, err := fmt.Sscanf(n.Value, "%d", &newValue); err != nil {
			return 0, false, fmt.Errorf("kvstore: parse counter value %q: %w", n.Value, err)
		}
	}
	return newValue, true, nil
}

func (d *DynamoDB) QueryIndex(ctx context.Context, indexName, key string) ([]Item, error) {
	partitionAttr := "model_id"
	if indexName == IndexByManifest {
		partitionAttr = "manifest_id"
	}

	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		IndexName:              aws.String(indexName),
		KeyConditionExpression: aws.String(partitionAttr + " = :k"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(out.Items))
	for _, raw := range out.Items {
		item, err := attributeValuesToItem(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func keyAttributeValues(partition, sort string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPartition: &types.AttributeValueMemberS{Value: partition},
		attrSort:      &types.AttributeValueMemberS{Value: sort},
	}
}

func itemToAttributeValues(item Item) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(item.Attrs)
	if err != nil {
		return nil, fmt.Errorf("kvstore: marshal item attrs: %w", err)
	}
	av[attrPartition] = &types.AttributeValueMemberS{Value: item.Partition}
	av[attrSort] = &types.AttributeValueMemberS{Value: item.Sort}
	return av, nil
}

func attributeValuesToItem(av map[string]types.AttributeValue) (Item, error) {
	var attrs map[string]any
	if err := attributevalue.UnmarshalMap(av, &attrs); err != nil {
		return Item{}, fmt.Errorf("kvstore: unmarshal item attrs: %w", err)
	}

	partition, _ := attrs[attrPartition].(string)
	sort, _ := attrs[attrSort].(string)
	delete(attrs, attrPartition)
	delete(attrs, attrSort)

	return Item{Partition: partition, Sort: sort, Attrs: attrs}, nil
}

func namesOrNil(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

func isConditionalCheckFailed(err error) bool {
	if err == nil {
		return false
	}
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}
