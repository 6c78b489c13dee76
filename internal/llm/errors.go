package llm

import "fmt"

// Stage identifies where a semantic matching attempt failed.
type Stage string

// Failure stages.
const (
	StageConfig    Stage = "config"
	StageTransport Stage = "transport"
	StageParse     Stage = "parse"
)

// StrategyError reports a semantic matcher failure with enough context for the
// caller to decide whether to fall back to another strategy.
type StrategyError struct {
	Err   error
	Stage Stage
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("semantic matcher %s failure: %v", e.Stage, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}
