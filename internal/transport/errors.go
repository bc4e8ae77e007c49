package transport

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnreachable marks a send failure after which the recipient can never be
// reached again through the current chat relationship.
var ErrUnreachable = errors.New("recipient unreachable")

// unreachableKeywords are lower-cased fragments of Telegram API descriptions
// that indicate a permanent delivery failure.
var unreachableKeywords = []string{
	"user not found",
	"chat member not found",
	"bot was kicked",
	"user is deactivated",
	"chat not found",
	"group chat was deactivated",
	"have no rights to send a message",
	"user restricted",
	"bot was blocked by the user",
}

// Unreachable wraps err so that IsUnreachable reports true for it.
func Unreachable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// IsUnreachable classifies a send error as permanent (true) or transient (false).
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnreachable) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, kw := range unreachableKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
