package completion

import "testing"

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello there", "hello there"},
		{"leading block", "<think>let me see</think>Sure thing.", "Sure thing."},
		{"block plus surrounding whitespace", "  <think>hmm</think>\n\nAnswer.", "Answer."},
		{"multiline block", "<think>line one\nline two\n</think>done", "done"},
		{"two blocks", "<think>a</think>left<think>b</think> right", "left right"},
		{"only reasoning", "<think>nothing else</think>", ""},
		{"empty input", "", ""},
		{"unclosed tag left alone", "<think>never closed... hello", "<think>never closed... hello"},
		{"trims without tags", "  spaced out \n", "spaced out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripReasoning(tt.in); got != tt.want {
				t.Errorf("StripReasoning(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
