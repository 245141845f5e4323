package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed tool call for the LLM.
type ErrorKind string

const (
	KindToolNotFound     ErrorKind = "tool_not_found"
	KindInvalidArguments ErrorKind = "invalid_arguments"
	KindToolExecution    ErrorKind = "tool_execution"
	KindTimeout          ErrorKind = "timeout"
)

// ToolFailure is the Err arm of a ToolOutcome.
type ToolFailure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Tool    string    `json:"tool"`
}

// ToolOutcome is the result of dispatching one tool call: exactly one of
// Value (Ok) or Failure (Err) is meaningful. Failures are never fatal to a
// conversation; they are reported back to the LLM as tool messages.
type ToolOutcome struct {
	CallID   string
	Tool     string
	Value    any
	Failure  *ToolFailure
	Duration time.Duration
}

func Ok(call ToolCall, value any) ToolOutcome {
	return ToolOutcome{CallID: call.ID, Tool: call.Name, Value: value}
}

func Fail(call ToolCall, kind ErrorKind, err error) ToolOutcome {
	return ToolOutcome{
		CallID:  call.ID,
		Tool:    call.Name,
		Failure: &ToolFailure{Kind: kind, Message: err.Error(), Tool: call.Name},
	}
}

// FailFromError classifies err into the matching failure kind.
func FailFromError(call ToolCall, err error) ToolOutcome {
	return Fail(call, ClassifyToolError(err), err)
}

func (o ToolOutcome) IsOk() bool { return o.Failure == nil }

// Content renders the outcome as the tool message body: the JSON value on
// success, {"error": {...}} on failure.
func (o ToolOutcome) Content() string {
	if o.Failure != nil {
		b, _ := json.Marshal(map[string]any{"error": o.Failure})
		return string(b)
	}
	if s, ok := o.Value.(string); ok {
		return s
	}
	b, err := json.Marshal(o.Value)
	if err != nil {
		b, _ = json.Marshal(map[string]any{"error": ToolFailure{
			Kind:    KindToolExecution,
			Message: fmt.Sprintf("result is not JSON-serialisable: %v", err),
			Tool:    o.Tool,
		}})
	}
	return string(b)
}

// Message converts the outcome into the tool-role message appended to history.
func (o ToolOutcome) Message() Message {
	return Message{
		Role:       RoleTool,
		Content:    o.Content(),
		ToolCallID: o.CallID,
		ToolName:   o.Tool,
	}
}

func ClassifyToolError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrToolNotFound):
		return KindToolNotFound
	case errors.Is(err, ErrInvalidArguments):
		return KindInvalidArguments
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindToolExecution
	}
}
