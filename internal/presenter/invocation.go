// Package presenter renders agent tool invocations for the chat surface.
// Rendering is a pure function of the invocation and the side-channel
// result set; nothing here mutates its inputs or performs I/O.
package presenter

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Invocation is a single tool call requested by the agent. The presence of
// a result, not its value, decides the phase: HasResult is true even for
// an explicit JSON null.
type Invocation struct {
	ToolCallID string
	ToolName   string
	Args       map[string]any
	Result     any
	HasResult  bool
}

type invocationJSON struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Args       map[string]any `json:"args,omitempty"`
}

// UnmarshalJSON records whether the "result" key was present.
func (inv *Invocation) UnmarshalJSON(data []byte) error {
	var base invocationJSON
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}

	*inv = Invocation{ToolCallID: base.ToolCallID, ToolName: base.ToolName, Args: base.Args}
	if raw, ok := keys["result"]; ok {
		inv.HasResult = true
		if err := json.Unmarshal(raw, &inv.Result); err != nil {
			return fmt.Errorf("presenter: decode result: %w", err)
		}
	}
	return nil
}

// MarshalJSON emits "result" only when the invocation has one.
func (inv Invocation) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"toolCallId": inv.ToolCallID,
		"toolName":   inv.ToolName,
	}
	if inv.Args != nil {
		out["args"] = inv.Args
	}
	if inv.HasResult {
		out["result"] = inv.Result
	}
	return json.Marshal(out)
}

// WithResult returns a copy of inv carrying result.
func (inv Invocation) WithResult(result any) Invocation {
	out := inv
	out.Args = maps.Clone(inv.Args)
	out.Result = result
	out.HasResult = true
	return out
}

// ResultSet is the side-channel list of search hits supplied by the chat
// loop; only searchNotes consults it.
type ResultSet []any
