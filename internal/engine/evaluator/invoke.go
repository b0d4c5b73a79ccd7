package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tiger/osss-validator/internal/rules"
)

var (
	// ErrRuleTimeout indicates a rule invocation exceeded the engine timeout.
	ErrRuleTimeout = errors.New("rule execution timeout")
	// ErrRulePanic indicates a rule panicked; the panic value is in the message.
	ErrRulePanic = errors.New("rule panicked")
)

type invokeResult struct {
	output rules.Output
	err    error
}

// invoke runs rule under timeout. Rules that ignore ctx keep running in the
// background after a timeout; their result is discarded.
func invoke(ctx context.Context, rule rules.Rule, in rules.Input, timeout time.Duration) (rules.Output, error) {
	callCtx := ctx
	if callCtx == nil {
		callCtx = context.Background()
	}
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
	}
	defer cancel()

	resultCh := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- invokeResult{err: fmt.Errorf("%w: %v", ErrRulePanic, r)}
			}
		}()
		out, err := rule.Evaluate(callCtx, in)
		resultCh <- invokeResult{output: out, err: err}
	}()

	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return rules.Output{}, fmt.Errorf("%w after %s", ErrRuleTimeout, timeout)
		}
		return rules.Output{}, callCtx.Err()
	case result := <-resultCh:
		if result.err != nil {
			if errors.Is(result.err, context.DeadlineExceeded) {
				return rules.Output{}, fmt.Errorf("%w after %s", ErrRuleTimeout, timeout)
			}
			return rules.Output{}, result.err
		}
		return result.output, nil
	}
}
