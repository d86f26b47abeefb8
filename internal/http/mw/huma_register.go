package mw

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// OperationOption is a function that modifies an operation.
type OperationOption func(*huma.Operation)

// WithTags adds tags to the operation.
func WithTags(tags ...string) OperationOption {
	return func(op *huma.Operation) {
		op.Tags = append(op.Tags, tags...)
	}
}

// WithSummary sets the operation summary.
func WithSummary(summary string) OperationOption {
	return func(op *huma.Operation) {
		op.Summary = summary
	}
}

// WithDescription sets the operation description.
func WithDescription(desc string) OperationOption {
	return func(op *huma.Operation) {
		op.Description = desc
	}
}

// WithOperationID sets a custom operation ID.
func WithOperationID(id string) OperationOption {
	return func(op *huma.Operation) {
		op.OperationID = id
	}
}

// WithHidden hides the operation from OpenAPI documentation.
func WithHidden() OperationOption {
	return func(op *huma.Operation) {
		op.Hidden = true
	}
}

// PublicGet registers a public GET endpoint (no auth required).
func PublicGet[I, O any](api huma.API, path string, handler func(ctx context.Context, input *I) (*O, error), opts ...OperationOption) {
	op := huma.Operation{
		Method: http.MethodGet,
		Path:   path,
	}
	for _, opt := range opts {
		opt(&op)
	}
	huma.Register(api, op, handler)
}

// ProtectedGet registers a GET endpoint that requires admin bearer auth.
func ProtectedGet[I, O any](api huma.API, path string, handler func(ctx context.Context, input *I) (*O, error), opts ...OperationOption) {
	op := huma.Operation{
		Method:   http.MethodGet,
		Path:     path,
		Security: []map[string][]string{{SecurityScheme: {}}},
	}
	for _, opt := range opts {
		opt(&op)
	}
	huma.Register(api, op, handler)
}
