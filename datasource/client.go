package datasource

import (
	"context"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/notegate/notegate/config"
)

// NewClient builds a DynamoDB client for one data source. When the LOCAL
// environment variable is set the client targets that endpoint instead of
// the real service, for development against a local DynamoDB.
func NewClient(ctx context.Context, ds config.DataSourceConfig) (*dynamodb.Client, error) {
	loadOpts := func(o *awsconfig.LoadOptions) error {
		if ds.Region != "" {
			o.Region = ds.Region
		}
		return nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts)
	if err != nil {
		return nil, err
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	clientOpts := func(o *dynamodb.Options) {}
	if local, present := os.LookupEnv("LOCAL"); present && local != "false" {
		clientOpts = func(o *dynamodb.Options) {
			o.EndpointResolver = dynamodb.EndpointResolverFromURL(local)
		}
	}
	return dynamodb.NewFromConfig(cfg, clientOpts), nil
}

// processedTableName applies the per-environment table suffix override: with
// TABLE_SUFFIX_NOTEGATE=dev, "notegate-notes" becomes "notegate-dev-notes".
func processedTableName(tableName string) string {
	prefix := strings.Split(tableName, "-")[0]
	suffix, present := os.LookupEnv("TABLE_SUFFIX_" + strings.ToUpper(prefix))
	if present {
		return strings.Replace(tableName, prefix+"-", prefix+"-"+suffix+"-", 1)
	}
	return tableName
}
