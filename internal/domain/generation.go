package domain

import "context"

// Generator is the external answer-generation collaborator: an opaque
// call/response interface over the LLM. This system owns only the timeout and
// retry policy around it, never its internals.
type Generator interface {
	Generate(ctx context.Context, question, contextText string) (string, error)
}
