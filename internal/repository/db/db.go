package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	taggingtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/chunkplace/internal/repository/migrate"
)

type DynamoDb struct {
	Client        *dynamodb.Client
	TaggingClient *resourcegroupstaggingapi.Client
	tableName     string
}

func NewDatabase(awsConfig aws.Config, tableName string) (*DynamoDb, error) {
	if tableName == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}
	return &DynamoDb{
		Client:        dynamodb.NewFromConfig(awsConfig),
		TaggingClient: resourcegroupstaggingapi.NewFromConfig(awsConfig),
		tableName:     tableName,
	}, nil
}

// Store returns a MetadataStore over the configured table.
func (d *DynamoDb) Store() *DynamoStore {
	return NewDynamoStore(d.Client, d.tableName)
}

// MigrateDb creates the metadata table and waits until it is active.
func (d *DynamoDb) MigrateDb(ctx context.Context) error {
	m := migrate.NewCreateCSSTable(d.tableName)
	log.Infof("Applying migration %s", m.Version())
	if err := m.Up(ctx, d.Client); err != nil {
		return fmt.Errorf("migration %s: %w", m.Version(), err)
	}
	return nil
}

// MigrateDown drops the metadata table.
func (d *DynamoDb) MigrateDown(ctx context.Context) error {
	m := migrate.NewCreateCSSTable(d.tableName)
	log.Infof("Rolling back migration %s", m.Version())
	if err := m.Down(ctx, d.Client); err != nil {
		return fmt.Errorf("rollback %s: %w", m.Version(), err)
	}
	return nil
}

// TaggingAPI is the slice of the Resource Groups Tagging API used for discovery.
type TaggingAPI interface {
	resourcegroupstaggingapi.GetResourcesAPIClient
}

// DiscoverTables lists DynamoDB tables tagged as chunk placement metadata.
func DiscoverTables(ctx context.Context, client TaggingAPI) ([]string, error) {
	paginator := resourcegroupstaggingapi.NewGetResourcesPaginator(client, &resourcegroupstaggingapi.GetResourcesInput{
		ResourceTypeFilters: []string{"dynamodb:table"},
		TagFilters: []taggingtypes.TagFilter{{
			Key:    aws.String(migrate.PurposeTagKey),
			Values: []string{migrate.PurposeTagValue},
		}},
	})

	var tables []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to discover tables: %w", err)
		}
		for _, res := range page.ResourceTagMappingList {
			arn := aws.ToString(res.ResourceARN)
			if _, name, ok := strings.Cut(arn, ":table/"); ok {
				tables = append(tables, name)
			}
		}
	}
	return tables, nil
}
