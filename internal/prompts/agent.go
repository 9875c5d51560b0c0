package prompts

import "fmt"

// Prefixes for the trace messages a think-act run appends.
const (
	ThoughtPrefix    = "Thought: "
	ActionPrefix     = "Action: "
	ToolResultPrefix = "Tool result: "
)

// DirectToolPrefix marks input that bypasses the model and calls a tool
// directly, as in "tool: add 3 4".
const DirectToolPrefix = "tool:"

// IterationLimitMessage is returned when a run reaches its iteration cap
// without a final answer.
const IterationLimitMessage = "I reached the maximum number of reasoning steps without finishing. Please narrow the request or try again."

// CancelledMessage is returned when the caller abandons a run between
// iterations.
const CancelledMessage = "The request was cancelled before it finished."

// LLMFailure renders a provider failure as the assistant's turn.
func LLMFailure(err error) string {
	return fmt.Sprintf("LLM call failed: %v", err)
}

// ToolFailure renders a tool lookup or execution failure as text the
// model can read on its next turn.
func ToolFailure(err error) string {
	return fmt.Sprintf("Tool call failed: %v", err)
}

// ToolResult formats a tool's output as a tool-result message.
func ToolResult(result string) string {
	return ToolResultPrefix + result
}
