package broker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter decides whether a message is handed to the handler. The zero
// Filter matches everything.
//
// Expressions are CEL and see these variables:
//
//	id              string
//	properties      map(string, string)
//	body            dyn     (the body parsed as JSON, null if it is not JSON)
//	text            string  (the raw body)
//	size            int
//	delivery_count  int
//	partition       string
//
// Example: `properties["type"] == "order" && body.total > 100`.
type Filter struct {
	expr string
	prog cel.Program
}

// NewFilter compiles expr. An empty expression yields a match-all filter.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("properties", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("body", cel.DynType),
		cel.Variable("text", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("delivery_count", cel.IntType),
		cel.Variable("partition", cel.StringType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return Filter{}, fmt.Errorf("broker: filter must evaluate to bool, got %s", out)
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{expr: expr, prog: prog}, nil
}

// Expression returns the source expression.
func (f Filter) Expression() string { return f.expr }

// Match evaluates the filter. Evaluation errors and non-bool results count
// as a mismatch and are returned as err.
func (f Filter) Match(msg Message) (bool, error) {
	if f.prog == nil {
		return true, nil
	}

	var body any
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		body = nil
	}
	props := msg.Properties
	if props == nil {
		props = map[string]string{}
	}

	out, _, err := f.prog.Eval(map[string]any{
		"id":             msg.ID,
		"properties":     props,
		"body":           body,
		"text":           string(msg.Body),
		"size":           int64(len(msg.Body)),
		"delivery_count": int64(msg.DeliveryCount),
		"partition":      msg.Partition,
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("broker: filter returned %T, want bool", out.Value())
	}
	return b, nil
}
