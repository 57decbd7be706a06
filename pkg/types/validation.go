package types

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{4,12}$`)

// ValidateSessionID checks a client-supplied session code.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return ErrInvalidSessionID
	}
	return nil
}

// ValidatePlayerName checks a display name. Names are compared case-sensitively.
func ValidatePlayerName(name string) error {
	if strings.TrimSpace(name) == "" || utf8.RuneCountInString(name) > 24 {
		return ErrInvalidPlayerName
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return ErrInvalidPlayerName
		}
	}
	return nil
}

// ValidateChatText checks a chat line.
func ValidateChatText(text string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n == 0 || n > 500 {
		return ErrInvalidChatText
	}
	return nil
}

// ValidateAreaSpec checks the shape of a placement request. Bounds and
// collisions are the board's concern.
func ValidateAreaSpec(spec AreaSpec) error {
	if !spec.Type.Valid() {
		return ErrInvalidAreaType
	}
	return nil
}
