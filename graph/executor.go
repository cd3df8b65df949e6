package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/validator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/notegate/notegate/auth"
	"github.com/notegate/notegate/datasource"
	"github.com/notegate/notegate/mapping"
)

// CredentialVerifier validates a raw bearer credential.
type CredentialVerifier interface {
	Extract(ctx context.Context, rawCredential string) (*auth.IdentityContext, error)
}

// Executor runs GraphQL operations. Each operation moves through
// authentication, validation and field-by-field execution; auth and
// validation failures abort before any resolver runs, field failures
// degrade that field to null and never abort siblings.
type Executor struct {
	schema   *Schema
	registry *Registry
	verifier CredentialVerifier
	deadline time.Duration
	log      *logrus.Entry
}

// NewExecutor wires an executor from its immutable collaborators.
func NewExecutor(schema *Schema, registry *Registry, verifier CredentialVerifier, deadline time.Duration) *Executor {
	return &Executor{
		schema:   schema,
		registry: registry,
		verifier: verifier,
		deadline: deadline,
		log:      logrus.WithField("component", "executor"),
	}
}

// Execute authenticates, validates and executes one operation.
func (e *Executor) Execute(ctx context.Context, rawCredential string, req *Request) *Response {
	if req == nil || req.Query == "" {
		QueryAuthFailureCounter.WithLabelValues(KindValidation).Inc()
		return failed(&Error{Message: "query is required", Kind: KindValidation})
	}

	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	// Received -> Authenticated. Any credential failure ends the operation
	// here; no resolver runs on a partially authenticated request.
	identity, err := e.verifier.Extract(ctx, rawCredential)
	if err != nil {
		QueryAuthFailureCounter.WithLabelValues(KindAuth).Inc()
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			return failed(&Error{Message: authErr.Message, Kind: KindAuth})
		}
		e.log.WithError(err).Error("credential verification failed")
		return failed(&Error{Message: "unauthorized", Kind: KindAuth})
	}

	// Authenticated -> Validated. Validation is exhaustive: every violation
	// gqlparser finds is reported, not just the first.
	doc, listErr := gqlparser.LoadQuery(e.schema.AST(), req.Query)
	if len(listErr) > 0 {
		QueryAuthFailureCounter.WithLabelValues(KindValidation).Inc()
		errs := make([]*Error, len(listErr))
		for i, gqlErr := range listErr {
			errs[i] = &Error{Message: gqlErr.Message, Kind: KindValidation}
		}
		return failed(errs...)
	}

	op := selectOperation(doc, req.OperationName)
	if op == nil {
		return failed(&Error{Message: "no matching operation in document", Kind: KindValidation})
	}
	if op.Operation == ast.Subscription {
		return failed(&Error{Message: "subscriptions are not supported", Kind: KindValidation})
	}

	vars, varErr := validator.VariableValues(e.schema.AST(), op, req.Variables)
	if varErr != nil {
		QueryAuthFailureCounter.WithLabelValues(KindValidation).Inc()
		return failed(&Error{Message: varErr.Error(), Kind: KindValidation})
	}

	// Validated -> Executing -> Composing.
	return e.executeRoot(ctx, identity, doc, op, vars)
}

func selectOperation(doc *ast.QueryDocument, name string) *ast.OperationDefinition {
	for _, op := range doc.Operations {
		if name == "" || op.Name == name {
			return op
		}
	}
	return nil
}

// executeRoot resolves the root selection set. Top-level query fields run
// concurrently; mutation fields run serially in document order. Results and
// errors are composed in document order regardless.
func (e *Executor) executeRoot(ctx context.Context, identity *auth.IdentityContext, doc *ast.QueryDocument, op *ast.OperationDefinition, vars map[string]interface{}) *Response {
	rootType := "Query"
	if op.Operation == ast.Mutation {
		rootType = "Mutation"
	}
	fields := flattenSelections(doc, op.SelectionSet)

	type rootResult struct {
		value   interface{}
		errs    []*Error
		bubbled bool
	}
	results := make([]rootResult, len(fields))

	run := func(i int, field *ast.Field) {
		value, errs, ok := e.resolveField(ctx, identity, doc, rootType, field, vars, nil, []interface{}{aliasOf(field)})
		results[i] = rootResult{value: value, errs: errs, bubbled: !ok}
	}

	if op.Operation == ast.Mutation {
		for i, field := range fields {
			run(i, field)
		}
	} else {
		var wg sync.WaitGroup
		for i, field := range fields {
			wg.Add(1)
			go func(i int, field *ast.Field) {
				defer wg.Done()
				run(i, field)
			}(i, field)
		}
		wg.Wait()
	}

	data := make(map[string]interface{}, len(fields))
	var errs []*Error
	dataNulled := false
	for i, field := range fields {
		errs = append(errs, results[i].errs...)
		if results[i].bubbled {
			// A non-nullable root field degraded to null; the nearest
			// nullable ancestor is the data envelope itself.
			dataNulled = true
			continue
		}
		data[aliasOf(field)] = results[i].value
	}

	resp := &Response{Data: data, Errors: errs}
	if dataNulled {
		resp.Data = nil
	}
	return resp
}

// resolveField resolves one field: bound fields run the full registry ->
// template -> backend pipeline, unbound fields project from the parent
// value. The third return is false when this position must become null but
// its type forbids it, telling the caller to null itself instead.
func (e *Executor) resolveField(ctx context.Context, identity *auth.IdentityContext, doc *ast.QueryDocument, typeName string, field *ast.Field, vars map[string]interface{}, source map[string]interface{}, path []interface{}) (interface{}, []*Error, bool) {
	if field.Name == "__typename" {
		return typeName, nil, true
	}

	fieldDef := e.schema.GetField(typeName, field.Name)
	if fieldDef == nil {
		// Validation guarantees the field exists; reaching here is a
		// schema/registry inconsistency.
		e.log.WithField("field", typeName+"."+field.Name).Error("resolved field missing from schema")
		return nil, []*Error{{Path: path, Message: "internal error", Kind: KindInternal}}, !isNonNull(fieldDef)
	}

	if binding, ok := e.registry.Lookup(typeName, field.Name); ok {
		return e.resolveBound(ctx, identity, doc, binding, field, fieldDef, vars, source, path)
	}

	if typeName == "Query" || typeName == "Mutation" {
		// Root fields must be bound; a miss is a fatal config inconsistency
		// surfaced to the caller only as a generic internal error.
		e.log.WithField("field", typeName+"."+field.Name).Error("no resolver binding for root field")
		QueryFailureCounter.WithLabelValues(typeName+"."+field.Name, KindInternal).Inc()
		return nil, []*Error{{Path: path, Message: "internal error", Kind: KindInternal}}, !fieldDef.Type.NonNull
	}

	// Default property resolver: project the field from the parent value.
	var value interface{}
	if source != nil {
		value = source[field.Name]
	}
	return e.completeValue(ctx, identity, doc, fieldDef.Type, field.SelectionSet, value, vars, path)
}

// resolveBound runs the resolver pipeline for a bound field.
func (e *Executor) resolveBound(ctx context.Context, identity *auth.IdentityContext, doc *ast.QueryDocument, binding *Binding, field *ast.Field, fieldDef *ast.FieldDefinition, vars map[string]interface{}, source map[string]interface{}, path []interface{}) (interface{}, []*Error, bool) {
	name := binding.Name()
	nullable := !fieldDef.Type.NonNull

	QueryCounter.WithLabelValues(name).Inc()
	start := time.Now()
	startTimer := prometheus.NewTimer(prometheus.ObserverFunc(QueryTimer.WithLabelValues(name).Set))
	defer func() {
		QueryHistogram.WithLabelValues(name).Observe(time.Since(start).Seconds())
		startTimer.ObserveDuration()
	}()
	oldspan := trace.SpanFromContext(ctx)
	tracer := oldspan.TracerProvider().Tracer(name)
	ctx, span := tracer.Start(ctx, name)
	defer span.End()
	span.SetAttributes(attribute.String("subject", identity.SubjectID))

	log := e.log.WithFields(logrus.Fields{
		"resolver": name,
		"traceID":  span.SpanContext().TraceID().String(),
	})

	fail := func(kind, message string, cause error) (interface{}, []*Error, bool) {
		span.RecordError(cause)
		span.SetStatus(codes.Error, cause.Error())
		QueryFailureCounter.WithLabelValues(name, kind).Inc()
		log.WithError(cause).Warn("field resolution failed")
		return nil, []*Error{{Path: path, Message: message, Kind: kind}}, nullable
	}

	args, err := argumentValues(field, vars)
	if err != nil {
		return fail(KindEvaluation, err.Error(), err)
	}
	log.WithField("arguments", args).Info("resolving field")

	mctx := &mapping.Context{
		Identity: identity.Claims,
		Args:     args,
		Source:   source,
	}

	desc, err := binding.Request.Evaluate(mctx)
	if err != nil {
		return fail(KindEvaluation, err.Error(), err)
	}

	// Row-level isolation: every operation must be scoped to the caller.
	// A descriptor that is not is a misconfigured binding, never a
	// client-facing detail.
	if !ownerScoped(desc, binding.OwnerKey, identity.SubjectID) {
		log.Error("operation descriptor is not scoped to the caller's subject")
		span.SetStatus(codes.Error, "unscoped operation descriptor")
		QueryFailureCounter.WithLabelValues(name, KindInternal).Inc()
		return nil, []*Error{{Path: path, Message: "internal error", Kind: KindInternal}}, nullable
	}
	desc.Owner = identity.SubjectID

	result, err := binding.Connector.Execute(ctx, desc)
	if err != nil {
		if ctx.Err() != nil {
			return fail(KindTimeout, "operation deadline exceeded", ctx.Err())
		}
		var backendErr *datasource.BackendError
		if errors.As(err, &backendErr) && backendErr.Kind == datasource.NotFound {
			// An absent item is a legitimate null, not a field error.
			return e.completeValue(ctx, identity, doc, fieldDef.Type, field.SelectionSet, nil, vars, path)
		}
		if errors.As(err, &backendErr) {
			return fail(KindBackend, string(backendErr.Kind), err)
		}
		return fail(KindBackend, "backend operation failed", err)
	}

	value, err := binding.Response.Evaluate(mctx, result)
	if err != nil {
		return fail(KindEvaluation, err.Error(), err)
	}

	return e.completeValue(ctx, identity, doc, fieldDef.Type, field.SelectionSet, value, vars, path)
}

// completeValue shapes a resolved value against its schema type and
// selection set, applying standard null-propagation rules: a null in a
// non-nullable position nulls the nearest nullable ancestor and discards
// that ancestor's subtree.
func (e *Executor) completeValue(ctx context.Context, identity *auth.IdentityContext, doc *ast.QueryDocument, typ *ast.Type, sels ast.SelectionSet, value interface{}, vars map[string]interface{}, path []interface{}) (interface{}, []*Error, bool) {
	if value == nil {
		if typ.NonNull {
			return nil, []*Error{{
				Path:    path,
				Message: "cannot return null for non-nullable field",
				Kind:    KindInternal,
			}}, false
		}
		return nil, nil, true
	}

	// List type.
	if typ.Elem != nil {
		items, ok := value.([]interface{})
		if !ok {
			return nil, []*Error{{Path: path, Message: "internal error", Kind: KindInternal}}, !typ.NonNull
		}
		out := make([]interface{}, len(items))
		var errs []*Error
		for i, item := range items {
			v, itemErrs, itemOK := e.completeValue(ctx, identity, doc, typ.Elem, sels, item, vars, append(append([]interface{}{}, path...), i))
			errs = append(errs, itemErrs...)
			if !itemOK {
				// A non-nullable element failed; the list itself nulls.
				return nil, errs, !typ.NonNull
			}
			out[i] = v
		}
		return out, errs, true
	}

	def := e.schema.GetType(typ.NamedType)
	if def == nil || def.Kind != ast.Object {
		// Scalars and enums pass through as produced by the template.
		return value, nil, true
	}

	obj, ok := value.(map[string]interface{})
	if !ok {
		e.log.WithField("type", def.Name).Error("resolved value is not an object")
		return nil, []*Error{{Path: path, Message: "internal error", Kind: KindInternal}}, !typ.NonNull
	}

	// Child fields need the parent value for their context, so they run
	// after it completes; within the object they resolve in document order.
	result := make(map[string]interface{})
	var errs []*Error
	for _, sub := range flattenSelections(doc, sels) {
		childPath := append(append([]interface{}{}, path...), aliasOf(sub))
		v, subErrs, subOK := e.resolveField(ctx, identity, doc, def.Name, sub, vars, obj, childPath)
		errs = append(errs, subErrs...)
		if !subOK {
			// A non-nullable child nulled; this object becomes null and its
			// remaining subtree is discarded.
			return nil, errs, !typ.NonNull
		}
		result[aliasOf(sub)] = v
	}
	return result, errs, true
}

// ownerScoped reports whether the descriptor's key or key condition pins the
// owner attribute to the caller's subject id.
func ownerScoped(desc *mapping.OperationDescriptor, ownerKey, subject string) bool {
	if ownerKey == "" {
		return false
	}
	if v, ok := desc.Key[ownerKey]; ok {
		return v == mapping.StringValue(subject)
	}
	if v, ok := desc.KeyCondition[ownerKey]; ok {
		return v == mapping.StringValue(subject)
	}
	return false
}

// flattenSelections expands fragment spreads and inline fragments into a
// flat field list, preserving document order.
func flattenSelections(doc *ast.QueryDocument, sels ast.SelectionSet) []*ast.Field {
	var fields []*ast.Field
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			fields = append(fields, s)
		case *ast.FragmentSpread:
			for _, frag := range doc.Fragments {
				if frag.Name == s.Name {
					fields = append(fields, flattenSelections(doc, frag.SelectionSet)...)
					break
				}
			}
		case *ast.InlineFragment:
			fields = append(fields, flattenSelections(doc, s.SelectionSet)...)
		}
	}
	return fields
}

// argumentValues resolves a field's literal and variable arguments. A
// literal that survives validation but cannot be represented, such as an
// out-of-range integer, fails the whole field rather than vanishing from
// the template context.
func argumentValues(field *ast.Field, vars map[string]interface{}) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(field.Arguments))
	for _, arg := range field.Arguments {
		v, err := arg.Value.Value(vars)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Name, err)
		}
		args[arg.Name] = v
	}
	return args, nil
}

func aliasOf(field *ast.Field) string {
	if field.Alias != "" {
		return field.Alias
	}
	return field.Name
}

func isNonNull(def *ast.FieldDefinition) bool {
	return def != nil && def.Type.NonNull
}
