package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zzenonn/chunkplace/internal/css"
	zerrors "github.com/zzenonn/chunkplace/internal/errors"
)

// API is the part of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// node is one metadata node. Root is implicit and never stored.
type node struct {
	Parent string `dynamodbav:"parent"`
	Name   string `dynamodbav:"name"`
	Value  string `dynamodbav:"value,omitempty"`
}

// DynamoStore is a css.MetadataStore over a DynamoDB table.
type DynamoStore struct {
	client    API
	tableName string
}

var _ css.MetadataStore = (*DynamoStore)(nil)

// NewDynamoStore initializes a new DynamoStore.
func NewDynamoStore(client API, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// Exists reports whether path has an item.
func (s *DynamoStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.get(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, zerrors.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Read returns the value at path.
func (s *DynamoStore) Read(ctx context.Context, path string) (string, error) {
	n, err := s.get(ctx, path)
	if err != nil {
		return "", err
	}
	return n.Value, nil
}

// Children queries every item whose parent is path.
func (s *DynamoStore) Children(ctx context.Context, path string) ([]string, error) {
	if path != css.Root {
		if _, err := s.get(ctx, path); err != nil {
			return nil, err
		}
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#parent = :parent"),
		ProjectionExpression:   aws.String("#name"),
		ExpressionAttributeNames: map[string]string{
			"#parent": "parent",
			"#name":   "name",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":parent": &types.AttributeValueMemberS{Value: path},
		},
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, zerrors.Unavailable("query", path, err)
		}
		for _, item := range page.Items {
			var n node
			if err := attributevalue.UnmarshalMap(item, &n); err != nil {
				return nil, zerrors.Malformed(path, err)
			}
			names = append(names, n.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Write puts the item for path after creating any missing ancestors.
// Ancestors are written conditionally so an existing value is never reset.
func (s *DynamoStore) Write(ctx context.Context, path, value string) error {
	if err := css.Validate(path); err != nil {
		return err
	}
	if path == css.Root {
		return fmt.Errorf("cannot write the root node")
	}

	for _, ancestor := range css.Ancestors(path) {
		if err := s.put(ctx, ancestor, "", true); err != nil {
			return err
		}
	}
	return s.put(ctx, path, value, false)
}

func (s *DynamoStore) get(ctx context.Context, path string) (node, error) {
	if err := css.Validate(path); err != nil {
		return node{}, err
	}
	if path == css.Root {
		return node{}, nil
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"parent": &types.AttributeValueMemberS{Value: css.Parent(path)},
			"name":   &types.AttributeValueMemberS{Value: css.Base(path)},
		},
	})
	if err != nil {
		return node{}, zerrors.Unavailable("get", path, err)
	}
	if out.Item == nil {
		return node{}, zerrors.NotFound(path)
	}

	var n node
	if err := attributevalue.UnmarshalMap(out.Item, &n); err != nil {
		return node{}, zerrors.Malformed(path, err)
	}
	return n, nil
}

func (s *DynamoStore) put(ctx context.Context, path, value string, ifAbsent bool) error {
	item, err := attributevalue.MarshalMap(node{
		Parent: css.Parent(path),
		Name:   css.Base(path),
		Value:  value,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal node %s: %w", path, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if ifAbsent {
		input.ConditionExpression = aws.String("attribute_not_exists(#name)")
		input.ExpressionAttributeNames = map[string]string{"#name": "name"}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var exists *types.ConditionalCheckFailedException
		if ifAbsent && errors.As(err, &exists) {
			return nil
		}
		return zerrors.Unavailable("put", path, err)
	}
	return nil
}
