package translator

import (
	"net/http"
	"testing"
)

func TestParseStructured(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantErr  bool
		wantFull string
		wantSegs int
	}{
		{
			name:     "plain json",
			input:    `{"original_text":"出口","transliteration":"chūkǒu","full_translation":"Exit","aligned_segments":[{"original":"出口","translation":"Exit"}]}`,
			wantFull: "Exit",
			wantSegs: 1,
		},
		{
			name:     "fenced json",
			input:    "```json\n{\"full_translation\":\"Exit\"}\n```",
			wantFull: "Exit",
			wantSegs: 0,
		},
		{
			name:     "leading chatter",
			input:    "Sure! {\"full_translation\":\"Exit\"} Hope this helps.",
			wantFull: "Exit",
		},
		{
			name:    "missing translation",
			input:   `{"original_text":"出口"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   "Exit",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStructured(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.FullTranslation != tt.wantFull {
				t.Errorf("expected %q, got %q", tt.wantFull, got.FullTranslation)
			}
			if got.AlignedSegments == nil {
				t.Error("expected non-nil aligned segments")
			}
			if len(got.AlignedSegments) != tt.wantSegs {
				t.Errorf("expected %d segments, got %d", tt.wantSegs, len(got.AlignedSegments))
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code      int
		want      Classification
		transient bool
	}{
		{http.StatusTooManyRequests, RateLimited, true},
		{http.StatusServiceUnavailable, Overloaded, true},
		{529, Overloaded, true},
		{http.StatusGatewayTimeout, Unavailable, true},
		{http.StatusInternalServerError, Unavailable, true},
		{http.StatusBadRequest, Malformed, false},
		{http.StatusForbidden, Malformed, false},
		{http.StatusConflict, Unknown, true},
	}

	for _, tt := range tests {
		got := ClassifyStatus(tt.code)
		if got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", tt.code, got, tt.want)
		}
		if got.Transient() != tt.transient {
			t.Errorf("ClassifyStatus(%d).Transient() = %v, want %v", tt.code, got.Transient(), tt.transient)
		}
	}
}
