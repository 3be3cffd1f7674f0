package task

import "testing"

func TestCanCancel(t *testing.T) {
	cases := map[Status]bool{
		StatusQueued:    true,
		StatusRunning:   true,
		StatusCompleted: false,
		StatusFailed:    false,
		StatusCancelled: false,
	}
	for status, want := range cases {
		if got := CanCancel(status); got != want {
			t.Errorf("CanCancel(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusQueued:    false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestClassifyEventType(t *testing.T) {
	cases := map[string]EventCategory{
		"assistant":    EventAssistant,
		"tool_use":     EventToolUse,
		"tool_result":  EventToolResult,
		"result":       EventResult,
		"error":        EventError,
		"system":       EventSystem,
		"unrecognized": EventSystem,
		"":             EventSystem,
	}
	for in, want := range cases {
		if got := ClassifyEventType(in); got != want {
			t.Errorf("ClassifyEventType(%q) = %s, want %s", in, got, want)
		}
	}
}
