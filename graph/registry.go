package graph

import (
	"fmt"

	"github.com/notegate/notegate/config"
	"github.com/notegate/notegate/datasource"
	"github.com/notegate/notegate/mapping"
)

// Binding ties one schema field to a data source and its two compiled
// mapping templates.
type Binding struct {
	TypeName  string
	FieldName string
	Connector *datasource.Connector
	// OwnerKey is the backing table's owner-subject attribute; every
	// operation this binding produces must scope to it.
	OwnerKey string
	Request  *mapping.RequestMapping
	Response *mapping.ResponseMapping
}

// Name returns the "Type.field" binding key.
func (b *Binding) Name() string {
	return b.TypeName + "." + b.FieldName
}

// Registry holds all resolver bindings. It is populated once at startup and
// read-only during request processing.
type Registry struct {
	bindings map[string]*Binding
}

// NewRegistry compiles resolver bindings and validates each against the
// schema. Any inconsistency here is a fatal startup error.
func NewRegistry(
	resolvers []config.ResolverConfig,
	schema *Schema,
	engine *mapping.Engine,
	connectors map[string]*datasource.Connector,
	ownerKeys map[string]string,
) (*Registry, error) {
	r := &Registry{bindings: make(map[string]*Binding, len(resolvers))}
	for _, rc := range resolvers {
		name := rc.Type + "." + rc.Field
		if schema.GetField(rc.Type, rc.Field) == nil {
			return nil, fmt.Errorf("resolver %q: field does not exist in schema", name)
		}
		conn, ok := connectors[rc.DataSource]
		if !ok {
			return nil, fmt.Errorf("resolver %q: unknown data source %q", name, rc.DataSource)
		}
		request, err := engine.CompileRequest(rc.Request)
		if err != nil {
			return nil, fmt.Errorf("resolver %q: %w", name, err)
		}
		response, err := engine.CompileResponse(rc.Response)
		if err != nil {
			return nil, fmt.Errorf("resolver %q: %w", name, err)
		}
		r.bindings[name] = &Binding{
			TypeName:  rc.Type,
			FieldName: rc.Field,
			Connector: conn,
			OwnerKey:  ownerKeys[rc.DataSource],
			Request:   request,
			Response:  response,
		}
	}
	return r, nil
}

// Lookup returns the binding for a (type, field) pair. A miss during
// execution is a schema/config inconsistency, not a client error.
func (r *Registry) Lookup(typeName, fieldName string) (*Binding, bool) {
	b, ok := r.bindings[typeName+"."+fieldName]
	return b, ok
}
