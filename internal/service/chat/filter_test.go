package chat_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"maca-service/internal/service/chat"
)

func TestSanitize(t *testing.T) {
	f := chat.NewFilter()

	cases := []struct {
		in       string
		want     string
		filtered bool
	}{
		{"  good luck all  ", "good luck all", false},
		{"   ", "", false},
		{"what the SH1T", chat.RemovedMessage, true},
		{"f.u.c.k", "f.u.c.k", false},
		{"you b!tch", chat.RemovedMessage, true},
		{"a$$hole move", chat.RemovedMessage, true},
		{"scunthorpe united", "scunthorpe united", false},
	}
	for _, tc := range cases {
		got, filtered := f.Sanitize(tc.in)
		if got != tc.want || filtered != tc.filtered {
			t.Fatalf("Sanitize(%q) = %q/%v, want %q/%v", tc.in, got, filtered, tc.want, tc.filtered)
		}
	}
}

func TestSanitizeTruncates(t *testing.T) {
	f := chat.NewFilter()
	got, _ := f.Sanitize(strings.Repeat("é", 300))
	if n := utf8.RuneCountInString(got); n != chat.MaxMessageLength {
		t.Fatalf("expected %d runes, got %d", chat.MaxMessageLength, n)
	}
}
