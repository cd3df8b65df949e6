// Package graph coordinates GraphQL execution: it validates operations
// against the schema, walks selection sets, and drives the resolver
// pipeline of registry lookup, template evaluation and backend execution.
package graph

import (
	"fmt"
	"os"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// Schema is the parsed SDL document. It is loaded once at startup and
// immutable afterwards, so concurrent reads need no locking.
type Schema struct {
	ast *ast.Schema
}

// ParseSchema parses a GraphQL SDL string.
func ParseSchema(sdl string) (*Schema, error) {
	source := &ast.Source{Name: "schema", Input: sdl}
	schema, err := gqlparser.LoadSchema(source)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &Schema{ast: schema}, nil
}

// ParseSchemaFile parses a GraphQL SDL document from a file.
func ParseSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	source := &ast.Source{Name: path, Input: string(data)}
	schema, err := gqlparser.LoadSchema(source)
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return &Schema{ast: schema}, nil
}

// AST returns the underlying gqlparser schema.
func (s *Schema) AST() *ast.Schema {
	return s.ast
}

// GetType returns a type definition by name, or nil.
func (s *Schema) GetType(name string) *ast.Definition {
	return s.ast.Types[name]
}

// GetField returns a field definition by type and field name, or nil.
func (s *Schema) GetField(typeName, fieldName string) *ast.FieldDefinition {
	def := s.GetType(typeName)
	if def == nil {
		return nil
	}
	for _, field := range def.Fields {
		if field.Name == fieldName {
			return field
		}
	}
	return nil
}
