package graph

// Request is an incoming GraphQL operation.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Response is the operation result. Data carries whatever partial tree
// survived null propagation; Errors lists every recorded failure in order.
type Response struct {
	Data   interface{} `json:"data"`
	Errors []*Error    `json:"errors,omitempty"`
}

// Error kinds as surfaced to callers.
const (
	KindAuth       = "AuthError"
	KindValidation = "ValidationError"
	KindEvaluation = "EvaluationError"
	KindBackend    = "BackendError"
	KindInternal   = "InternalError"
	KindTimeout    = "Timeout"
)

// Error is one entry in the response error list.
type Error struct {
	Path    []interface{} `json:"path,omitempty"`
	Message string        `json:"message"`
	Kind    string        `json:"kind"`
}

// failed builds a pre-execution failure response: no data, one or more
// operation-scoped errors.
func failed(errs ...*Error) *Response {
	return &Response{Errors: errs}
}
