// ABOUTME: Approval policies deciding whether an inbound request is auto-accepted
// ABOUTME: Auto, manual, and CEL expression policies over the request fields

package connection

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Request is what a policy sees of an inbound connection request.
type Request struct {
	Account string
	Memo    string
	// Topic is the requester's inbound topic, if it sent one.
	Topic string
}

// ApprovalPolicy decides whether a request is established without an operator.
type ApprovalPolicy interface {
	Approve(req Request) (bool, error)
}

type autoApprove struct{}

func (autoApprove) Approve(Request) (bool, error) { return true, nil }

type manualApprove struct{}

func (manualApprove) Approve(Request) (bool, error) { return false, nil }

// AutoApprove establishes every request.
func AutoApprove() ApprovalPolicy { return autoApprove{} }

// ManualApprove parks every request in needs_confirmation.
func ManualApprove() ApprovalPolicy { return manualApprove{} }

// CELPolicy approves requests for which a CEL expression evaluates to true.
// The expression sees a map named request with string keys account, memo and
// topic, e.g. `request.account in ["0.0.1001", "0.0.1002"]`.
type CELPolicy struct {
	expr string
	prg  cel.Program
}

// NewCELPolicy compiles expr. The expression must produce a bool.
func NewCELPolicy(expr string) (*CELPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling approval expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("approval expression must be bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building approval program: %w", err)
	}
	return &CELPolicy{expr: expr, prg: prg}, nil
}

// Approve evaluates the expression against req.
func (p *CELPolicy) Approve(req Request) (bool, error) {
	out, _, err := p.prg.Eval(map[string]any{
		"request": map[string]string{
			"account": req.Account,
			"memo":    req.Memo,
			"topic":   req.Topic,
		},
	})
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", p.expr, err)
	}
	approved, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("approval expression returned %T", out.Value())
	}
	return approved, nil
}

// String returns the source expression.
func (p *CELPolicy) String() string { return p.expr }

// PolicyFromConfig maps an approval mode to a policy. mode is auto, manual or
// expression; expr is only used for expression.
func PolicyFromConfig(mode, expr string) (ApprovalPolicy, error) {
	switch mode {
	case "", "auto":
		return AutoApprove(), nil
	case "manual":
		return ManualApprove(), nil
	case "expression":
		return NewCELPolicy(expr)
	default:
		return nil, fmt.Errorf("unknown approval mode %q", mode)
	}
}
