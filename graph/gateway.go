package graph

import (
	"context"
	"fmt"

	"github.com/notegate/notegate/auth"
	"github.com/notegate/notegate/config"
	"github.com/notegate/notegate/datasource"
	"github.com/notegate/notegate/mapping"
)

// NewGateway assembles the executor from configuration: schema, template
// engine, connectors, registry and credential verifier. Everything built
// here is immutable for the life of the process; any failure is fatal.
func NewGateway(ctx context.Context, cfg *config.Config) (*Executor, error) {
	schema, err := ParseSchemaFile(cfg.SchemaFile)
	if err != nil {
		return nil, err
	}

	cursors := datasource.NewCursorCodec(cfg.CursorSecret)
	connectors := make(map[string]*datasource.Connector, len(cfg.DataSources))
	ownerKeys := make(map[string]string, len(cfg.DataSources))
	for _, ds := range cfg.DataSources {
		client, err := datasource.NewClient(ctx, ds)
		if err != nil {
			return nil, fmt.Errorf("data source %q: %w", ds.ID, err)
		}
		connectors[ds.ID] = datasource.NewConnector(ds, client, cursors)
		ownerKeys[ds.ID] = ds.RangeKey
	}

	engine := mapping.NewEngine()
	registry, err := NewRegistry(cfg.Resolvers, schema, engine, connectors, ownerKeys)
	if err != nil {
		return nil, err
	}

	verifier := auth.NewVerifier(cfg.Auth)
	return NewExecutor(schema, registry, verifier, cfg.Server.Deadline.Std()), nil
}
