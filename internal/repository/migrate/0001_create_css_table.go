package migrate

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	CSSTableVersion = "20250731000000_css_table"

	PurposeTagKey   = "Purpose"
	PurposeTagValue = "ChunkPlacementMetadata"
)

// API is the part of the DynamoDB client a migration needs.
type API interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	dynamodb.DescribeTableAPIClient
}

// CreateCSSTable creates the node table: one item per metadata node, keyed
// by parent path and node name so children are a single Query.
type CreateCSSTable struct {
	tableName string
	// WaitTimeout bounds how long Up waits for the table to become active.
	WaitTimeout time.Duration
}

func NewCreateCSSTable(tableName string) *CreateCSSTable {
	return &CreateCSSTable{tableName: tableName, WaitTimeout: 5 * time.Minute}
}

func (m *CreateCSSTable) Version() string {
	return CSSTableVersion
}

func (m *CreateCSSTable) TableName() string {
	return m.tableName
}

func (m *CreateCSSTable) Up(ctx context.Context, client API) error {
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("parent"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("name"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("parent"),
				KeyType:       types.KeyTypeHash, // Partition Key
			},
			{
				AttributeName: aws.String("name"),
				KeyType:       types.KeyTypeRange, // Sort Key
			},
		},
		TableName:   aws.String(m.tableName),
		BillingMode: types.BillingModePayPerRequest,
		Tags: []types.Tag{
			{
				Key:   aws.String(PurposeTagKey),
				Value: aws.String(PurposeTagValue),
			},
		},
	}

	if _, err := client.CreateTable(ctx, input); err != nil {
		return err
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(m.tableName),
	}, m.WaitTimeout)
}

func (m *CreateCSSTable) Down(ctx context.Context, client API) error {
	_, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(m.tableName),
	})
	return err
}
