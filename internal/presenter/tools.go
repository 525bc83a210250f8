package presenter

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Tool names understood by the presenter.
const (
	ToolNotesForDateRange   = "getNotesForDateRange"
	ToolSearchNotes         = "searchNotes"
	ToolAskForConfirmation  = "askForConfirmation"
	ToolYouTubeTranscript   = "getYouTubeTranscript"
	ToolModifyCurrentNote   = "modifyCurrentNote"
	ToolLastModifiedFiles   = "getLastModifiedFiles"
	ToolQueryScreenpipe     = "queryScreenpipe"
	ToolAnalyzeProductivity = "analyzeProductivity"
	ToolSummarizeMeeting    = "summarizeMeeting"
	ToolTrackProjectTime    = "trackProjectTime"
)

// Outcome is an optional tool result.
type Outcome[T any] struct {
	Value T
	Ok    bool
}

// Call is the decoded, typed form of an Invocation. The concrete types
// below are its only implementations.
type Call interface {
	Tool() string
	Resolved() bool
}

type NotesForDateRange struct{ Result Outcome[any] }

type SearchNotes struct{ Result Outcome[any] }

type AskForConfirmation struct {
	Message string
	Result  Outcome[string]
}

type YouTubeTranscript struct {
	// Result.Value is the error text reported by the tool, if any.
	Result Outcome[string]
}

type ModifyCurrentNote struct{ Result Outcome[any] }

type LastModifiedFiles struct {
	// Result.Value is the count as the tool reported it. Any falsy value
	// means the count could not be determined.
	Result Outcome[any]
}

type QueryScreenpipe struct{ Result Outcome[any] }

type AnalyzeProductivity struct {
	Days   Outcome[float64]
	Result Outcome[any]
}

type SummarizeMeeting struct{ Result Outcome[any] }

type TrackProjectTime struct {
	ProjectKeyword string
	Days           Outcome[float64]
	Result         Outcome[any]
}

// Unknown is any tool the presenter has no table entry for.
type Unknown struct {
	Name   string
	Result Outcome[any]
}

func (NotesForDateRange) Tool() string   { return ToolNotesForDateRange }
func (SearchNotes) Tool() string         { return ToolSearchNotes }
func (AskForConfirmation) Tool() string  { return ToolAskForConfirmation }
func (YouTubeTranscript) Tool() string   { return ToolYouTubeTranscript }
func (ModifyCurrentNote) Tool() string   { return ToolModifyCurrentNote }
func (LastModifiedFiles) Tool() string   { return ToolLastModifiedFiles }
func (QueryScreenpipe) Tool() string     { return ToolQueryScreenpipe }
func (AnalyzeProductivity) Tool() string { return ToolAnalyzeProductivity }
func (SummarizeMeeting) Tool() string    { return ToolSummarizeMeeting }
func (TrackProjectTime) Tool() string    { return ToolTrackProjectTime }
func (u Unknown) Tool() string           { return u.Name }

func (c NotesForDateRange) Resolved() bool   { return c.Result.Ok }
func (c SearchNotes) Resolved() bool         { return c.Result.Ok }
func (c AskForConfirmation) Resolved() bool  { return c.Result.Ok }
func (c YouTubeTranscript) Resolved() bool   { return c.Result.Ok }
func (c ModifyCurrentNote) Resolved() bool   { return c.Result.Ok }
func (c LastModifiedFiles) Resolved() bool   { return c.Result.Ok }
func (c QueryScreenpipe) Resolved() bool     { return c.Result.Ok }
func (c AnalyzeProductivity) Resolved() bool { return c.Result.Ok }
func (c SummarizeMeeting) Resolved() bool    { return c.Result.Ok }
func (c TrackProjectTime) Resolved() bool    { return c.Result.Ok }
func (c Unknown) Resolved() bool             { return c.Result.Ok }

// Decode converts an Invocation into its typed Call.
func Decode(inv Invocation) Call {
	raw := Outcome[any]{Value: inv.Result, Ok: inv.HasResult}

	switch inv.ToolName {
	case ToolNotesForDateRange:
		return NotesForDateRange{Result: raw}
	case ToolSearchNotes:
		return SearchNotes{Result: raw}
	case ToolAskForConfirmation:
		return AskForConfirmation{
			Message: stringArg(inv.Args, "message"),
			Result:  Outcome[string]{Value: formatValue(inv.Result), Ok: inv.HasResult},
		}
	case ToolYouTubeTranscript:
		out := YouTubeTranscript{Result: Outcome[string]{Ok: inv.HasResult}}
		if obj, ok := inv.Result.(map[string]any); ok {
			if e, ok := obj["error"]; ok && truthy(e) {
				out.Result.Value = formatValue(e)
			}
		}
		return out
	case ToolModifyCurrentNote:
		return ModifyCurrentNote{Result: raw}
	case ToolLastModifiedFiles:
		return LastModifiedFiles{Result: raw}
	case ToolQueryScreenpipe:
		return QueryScreenpipe{Result: raw}
	case ToolAnalyzeProductivity:
		return AnalyzeProductivity{Days: numberArg(inv.Args, "days"), Result: raw}
	case ToolSummarizeMeeting:
		return SummarizeMeeting{Result: raw}
	case ToolTrackProjectTime:
		return TrackProjectTime{
			ProjectKeyword: stringArg(inv.Args, "projectKeyword"),
			Days:           numberArg(inv.Args, "days"),
			Result:         raw,
		}
	default:
		return Unknown{Name: inv.ToolName, Result: raw}
	}
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	return formatValue(v)
}

func numberArg(args map[string]any, key string) Outcome[float64] {
	n, ok := number(args[key])
	return Outcome[float64]{Value: n, Ok: ok}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case int:
		return x != 0
	}
	return true
}

// formatValue renders a decoded JSON value the way it reads in prose. A
// null renders as nothing.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
