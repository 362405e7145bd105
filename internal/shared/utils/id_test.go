package utils

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestGenerateID(t *testing.T) {
	got := GenerateID()

	if len(got) != 32 {
		t.Errorf("GenerateID() length = %d, want 32", len(got))
	}
	for _, char := range got {
		if !isHexChar(char) {
			t.Errorf("GenerateID() contains non-hex character: %c", char)
		}
	}
}

func TestGenerateIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := GenerateID()
		if ids[id] {
			t.Fatalf("GenerateID() generated duplicate: %s", id)
		}
		ids[id] = true
	}
}

func TestGenerateShortID(t *testing.T) {
	if got := GenerateShortID(); len(got) != 8 {
		t.Errorf("GenerateShortID() length = %d, want 8", len(got))
	}
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID("abcd1234")

	if !strings.HasPrefix(id, "abcd1234-") {
		t.Errorf("NewRequestID() = %q, want prefix %q", id, "abcd1234-")
	}
	// "abcd1234-" + canonical 36-char uuid
	if len(id) != len("abcd1234-")+36 {
		t.Errorf("NewRequestID() length = %d, want %d", len(id), len("abcd1234-")+36)
	}
}

func TestNewRequestIDConcurrent(t *testing.T) {
	count := 1000
	ch := make(chan string, count)

	for i := 0; i < count; i++ {
		go func() {
			ch <- NewRequestID("same")
		}()
	}

	ids := make(map[string]bool)
	for i := 0; i < count; i++ {
		id := <-ch
		if ids[id] {
			t.Errorf("Concurrent NewRequestID() generated duplicate: %s", id)
		}
		ids[id] = true
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func isHexChar(char rune) bool {
	return (char >= '0' && char <= '9') || (char >= 'a' && char <= 'f')
}

func BenchmarkNewRequestID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewRequestID("abcd1234")
	}
}
