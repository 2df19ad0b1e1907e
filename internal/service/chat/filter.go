package chat

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageLength = 240
	RemovedMessage   = "[message removed by profanity filter]"
)

var profaneWords = map[string]struct{}{
	"asshole":      {},
	"bastard":      {},
	"bitch":        {},
	"cunt":         {},
	"dick":         {},
	"dumbass":      {},
	"faggot":       {},
	"fuck":         {},
	"motherfucker": {},
	"nigger":       {},
	"pussy":        {},
	"shit":         {},
	"slut":         {},
	"whore":        {},
}

var leet = strings.NewReplacer(
	"@", "a",
	"$", "s",
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"!", "i",
)

// Filter is the word-list profanity filter applied to table chat.
type Filter struct {
	words map[string]struct{}
}

func NewFilter() *Filter {
	return &Filter{words: profaneWords}
}

func isTokenChar(r rune) bool {
	return r < utf8.RuneSelf && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '@' || r == '!' || r == '$')
}

func normalize(token string) string {
	translated := leet.Replace(strings.ToLower(token))
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r
		}
		return -1
	}, translated)
}

// ContainsProfanity reports whether any word of message, after leetspeak
// normalization, is on the word list.
func (f *Filter) ContainsProfanity(message string) bool {
	for _, token := range strings.FieldsFunc(message, func(r rune) bool { return !isTokenChar(r) }) {
		if _, bad := f.words[normalize(token)]; bad {
			return true
		}
	}
	return false
}

// Sanitize trims and truncates a chat message. A message containing
// profanity is replaced whole and filtered is true. An empty result means
// there is nothing to send.
func (f *Filter) Sanitize(message string) (clean string, filtered bool) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", false
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageLength {
		trimmed = string([]rune(trimmed)[:MaxMessageLength])
	}
	if !f.ContainsProfanity(trimmed) {
		return trimmed, false
	}
	return RemovedMessage, true
}
