package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUnreachable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: ErrUnreachable, want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("send: %w", ErrUnreachable), want: true},
		{name: "blocked", err: errors.New("telegram: Forbidden: bot was blocked by the user (403)"), want: true},
		{name: "kicked", err: errors.New("Forbidden: bot was kicked from the supergroup chat"), want: true},
		{name: "chat not found", err: errors.New("Bad Request: chat not found"), want: true},
		{name: "deactivated", err: errors.New("Forbidden: user is deactivated"), want: true},
		{name: "no rights", err: errors.New("Bad Request: have no rights to send a message"), want: true},
		{name: "timeout", err: context.DeadlineExceeded, want: false},
		{name: "flood", err: errors.New("telegram: retry after 5 (429)"), want: false},
		{name: "markdown", err: errors.New("Bad Request: can't parse entities"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUnreachable(tt.err))
		})
	}
}

func TestUnreachableWrapsOnce(t *testing.T) {
	t.Parallel()

	base := errors.New("Forbidden: user is deactivated")
	err := Unreachable(base)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, base)
	assert.Same(t, err, Unreachable(err))
	assert.NoError(t, Unreachable(nil))
}
