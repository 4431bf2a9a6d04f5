package addressing

import "testing"

func TestShouldRespond(t *testing.T) {
	tests := []struct {
		name   string
		kind   ChatKind
		text   string
		handle string
		want   bool
	}{
		{"direct always responds", ChatDirect, "anything", "bot", true},
		{"direct responds even without mention", ChatDirect, "hello", "bot", true},
		{"group without mention is silent", ChatGroup, "hello", "bot", false},
		{"group with mention responds", ChatGroup, "hello @bot", "bot", true},
		{"group mention mid-sentence", ChatGroup, "hey @bot what's up", "bot", true},
		{"group mention is case-insensitive", ChatGroup, "hey @Bot", "bot", true},
		{"group bare handle without at-sign is silent", ChatGroup, "hello bot", "bot", false},
		{"group mention of someone else is silent", ChatGroup, "hello @other", "bot", false},
		{"group empty handle is silent", ChatGroup, "hello @bot", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRespond(tt.kind, tt.text, tt.handle); got != tt.want {
				t.Fatalf("ShouldRespond(%q, %q, %q) = %v, want %v", tt.kind, tt.text, tt.handle, got, tt.want)
			}
		})
	}
}
