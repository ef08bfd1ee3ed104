package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHelpers_ClassifyWrappedErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NotFound("users", "u1"), IsNotFound},
		{"already exists", AlreadyExists("users", "accountName", "bob"), IsAlreadyExists},
		{"transition", InvalidTransition("suspension", "suspended", "suspended"), IsInvalidStateTransition},
		{"unauthorized", Unauthorized("role %s not allowed", "guest"), IsUnauthorized},
		{"validation", Validation("id must not be empty"), IsValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(wrapped))
		})
	}
}

func TestIs_MatchesOnCodeOnly(t *testing.T) {
	err := fmt.Errorf("get: %w", NotFound("users", "u1"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestCodeOf_ForeignError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t,
		"NOT_FOUND: document not found (collection=users, id=u1)",
		NotFound("users", "u1").Error())
	assert.Equal(t,
		`ALREADY_EXISTS: value "bob" is already taken (collection=users, field=accountName)`,
		AlreadyExists("users", "accountName", "bob").Error())
	assert.Equal(t,
		"UNAUTHORIZED: nope",
		Unauthorized("nope").Error())
}

func TestWithDocument_Copies(t *testing.T) {
	base := Validation("bad")
	located := base.WithDocument("contacts", "c1")

	assert.Empty(t, base.Collection)
	assert.Equal(t, "contacts", located.Collection)
	assert.Equal(t, "c1", located.DocumentID)
}
