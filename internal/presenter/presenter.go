package presenter

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is the display phase of an invocation.
type Phase string

const (
	PhasePending              Phase = "pending"
	PhaseAwaitingConfirmation Phase = "awaiting-confirmation"
	PhaseResolved             Phase = "resolved"
)

// Choice is the literal result attached by a confirmation affordance.
type Choice string

const (
	ChoiceYes Choice = "Yes"
	ChoiceNo  Choice = "No"
)

// ErrNotAwaitingConfirmation is returned by Confirm for invocations that do
// not offer confirmation affordances.
var ErrNotAwaitingConfirmation = errors.New("invocation is not awaiting confirmation")

const noMatches = "No files matching that criteria were found"

// Affordance is an action the user can take to resolve an invocation.
type Affordance struct {
	Label  string `json:"label"`
	Result Choice `json:"result"`
}

// Content is the body rendered under the title. Value holds an emphasized
// literal, such as the answer to a confirmation.
type Content struct {
	Text        string       `json:"text"`
	Value       string       `json:"value,omitempty"`
	Affordances []Affordance `json:"affordances,omitempty"`
}

// Display is what the chat surface renders for one invocation.
type Display struct {
	ToolCallID string   `json:"toolCallId"`
	Title      string   `json:"title"`
	Phase      Phase    `json:"phase"`
	Content    *Content `json:"content,omitempty"`
}

// String renders the display as plain text.
func (d Display) String() string {
	var b strings.Builder
	b.WriteString(d.Title)
	if d.Content == nil {
		return b.String()
	}
	if d.Content.Text != "" {
		b.WriteString("\n")
		b.WriteString(d.Content.Text)
	}
	if d.Content.Value != "" {
		b.WriteString("\n")
		b.WriteString(d.Content.Value)
	}
	for i, a := range d.Content.Affordances {
		if i == 0 {
			b.WriteString("\n")
		} else {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "[%s]", a.Label)
	}
	return b.String()
}

type entry struct {
	title    string
	pending  func(Call) string
	resolved func(Call) string
}

func fixed(s string) func(Call) string { return func(Call) string { return s } }

var tools = map[string]entry{
	ToolNotesForDateRange: {
		title:   "Fetching Notes",
		pending: fixed("Retrieving your notes for the specified time period..."),
		resolved: func(c Call) string {
			return "All notes modified within the following time period were added to the AI context: " +
				formatValue(c.(NotesForDateRange).Result.Value)
		},
	},
	ToolSearchNotes: {
		title:   "Searching Notes",
		pending: fixed("Scouring your notes for relevant information..."),
		resolved: func(c Call) string {
			return fmt.Sprintf("Notes that contained %s were added to the AI context", formatValue(c.(SearchNotes).Result.Value))
		},
	},
	ToolAskForConfirmation: {
		title: "Confirmation Required",
	},
	ToolYouTubeTranscript: {
		title:   "YouTube Transcript",
		pending: fixed("Fetching the video transcript..."),
		resolved: func(c Call) string {
			if msg := c.(YouTubeTranscript).Result.Value; msg != "" {
				return "Oops! Couldn't fetch the transcript: " + msg
			}
			return "YouTube transcript successfully retrieved"
		},
	},
	ToolModifyCurrentNote: {
		title:   "Note Modification",
		pending: fixed("Applying changes to your note..."),
		resolved: func(c Call) string {
			return "Changes applied: " + formatValue(c.(ModifyCurrentNote).Result.Value)
		},
	},
	ToolLastModifiedFiles: {
		title:   "Recent File Activity",
		pending: fixed("Checking your recent file activity..."),
		resolved: func(c Call) string {
			count := c.(LastModifiedFiles).Result.Value
			if !truthy(count) {
				return "Hmm, I couldn't determine your recent file activity"
			}
			suffix := ""
			if n, ok := number(count); ok && n > 1 {
				suffix = "s"
			}
			return fmt.Sprintf("You've modified %s file%s recently", formatValue(count), suffix)
		},
	},
	ToolQueryScreenpipe: {
		title:    "Querying Screenpipe Data",
		pending:  fixed("Querying Screenpipe data..."),
		resolved: fixed("Screenpipe data successfully queried and added to context"),
	},
	ToolAnalyzeProductivity: {
		title: "Analyzing Productivity",
		pending: func(c Call) string {
			return "Analyzing productivity" + period(c.(AnalyzeProductivity).Days) + "..."
		},
		resolved: func(c Call) string {
			return "Productivity analysis completed" + period(c.(AnalyzeProductivity).Days)
		},
	},
	ToolSummarizeMeeting: {
		title:    "Summarizing Meeting",
		pending:  fixed("Summarizing meeting audio..."),
		resolved: fixed("Meeting summary generated"),
	},
	ToolTrackProjectTime: {
		title: "Tracking Project Time",
		pending: func(c Call) string {
			t := c.(TrackProjectTime)
			return fmt.Sprintf("Tracking time for project %q%s...", t.ProjectKeyword, over(t.Days))
		},
		resolved: func(c Call) string {
			t := c.(TrackProjectTime)
			return fmt.Sprintf("Project time tracked for %q%s", t.ProjectKeyword, over(t.Days))
		},
	},
}

func period(days Outcome[float64]) string {
	if !days.Ok {
		return ""
	}
	return " for the last " + formatValue(days.Value) + " days"
}

func over(days Outcome[float64]) string {
	if !days.Ok {
		return ""
	}
	return " over the last " + formatValue(days.Value) + " days"
}

// Title returns the display title for a tool name.
func Title(toolName string) string {
	if e, ok := tools[toolName]; ok {
		return e.title
	}
	return "Tool Invocation"
}

// PhaseOf reports the display phase of inv.
func PhaseOf(inv Invocation) Phase {
	switch {
	case inv.HasResult:
		return PhaseResolved
	case inv.ToolName == ToolAskForConfirmation:
		return PhaseAwaitingConfirmation
	default:
		return PhasePending
	}
}

// Present renders inv. results is the side-channel search result set; a
// searchNotes invocation with no results renders the no-match message in
// every phase.
func Present(inv Invocation, results ResultSet) Display {
	d := Display{
		ToolCallID: inv.ToolCallID,
		Title:      Title(inv.ToolName),
		Phase:      PhaseOf(inv),
	}

	if inv.ToolName == ToolSearchNotes && len(results) == 0 {
		d.Content = &Content{Text: noMatches}
		return d
	}

	call := Decode(inv)
	switch c := call.(type) {
	case Unknown:
		return d
	case AskForConfirmation:
		d.Content = confirmation(c)
		return d
	}

	e := tools[inv.ToolName]
	render := e.pending
	if call.Resolved() {
		render = e.resolved
	}
	d.Content = &Content{Text: render(call)}
	return d
}

func confirmation(c AskForConfirmation) *Content {
	content := &Content{Text: c.Message}
	if c.Result.Ok {
		content.Value = c.Result.Value
		return content
	}
	content.Affordances = []Affordance{
		{Label: "Confirm", Result: ChoiceYes},
		{Label: "Cancel", Result: ChoiceNo},
	}
	return content
}

// Confirm resolves a pending askForConfirmation invocation with choice and
// returns the resolved copy. inv is left untouched.
func Confirm(inv Invocation, choice Choice) (Invocation, error) {
	if PhaseOf(inv) != PhaseAwaitingConfirmation {
		return Invocation{}, fmt.Errorf("confirm %s (%s): %w", inv.ToolCallID, inv.ToolName, ErrNotAwaitingConfirmation)
	}
	if choice != ChoiceYes && choice != ChoiceNo {
		return Invocation{}, fmt.Errorf("confirm %s: unsupported choice %q", inv.ToolCallID, choice)
	}
	return inv.WithResult(string(choice)), nil
}

// ParseChoice accepts "yes"/"no" in any case.
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "confirm":
		return ChoiceYes, nil
	case "no", "n", "cancel":
		return ChoiceNo, nil
	}
	return "", fmt.Errorf("unknown choice %q", s)
}
