package engine

import (
	"context"

	"github.com/gene-999/emycin/pkg/emycin/kb"
)

// Answer is one value/certainty pair supplied by the operator. A bare
// answer carries certainty 1.
type Answer struct {
	Value string
	CF    float64
}

// Question is a request for operator input about one goal. WhyAsking and
// CurrentRule let the asker resolve "why" and "rule" meta-commands locally
// before returning a real reply.
type Question struct {
	Instance *Instance
	Param    *kb.Parameter

	// Invalid carries the validation error of the previous reply when the
	// engine re-asks after a malformed answer.
	Invalid error

	WhyAsking   func() string
	CurrentRule func() string
}

// Reply is the operator's eventual response: either answers, or an explicit
// Unknown, which is terminal for the goal.
type Reply struct {
	Unknown bool
	Answers []Answer
}

// Asker supplies operator input. Ask blocks until the operator settles on a
// value or declines; meta-commands are handled inside Ask and never reach
// the engine.
type Asker interface {
	Ask(ctx context.Context, q Question) (Reply, error)
}

// AskerFunc adapts a function to the Asker interface.
type AskerFunc func(ctx context.Context, q Question) (Reply, error)

// Ask implements Asker.
func (f AskerFunc) Ask(ctx context.Context, q Question) (Reply, error) {
	return f(ctx, q)
}
