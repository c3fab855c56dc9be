package session

import (
	"regexp"

	"github.com/lcastillo/vitrina/internal/chat"
)

var idRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateID checks that an identifier is well formed before it reaches the
// store. Malformed ids are rejected locally with a ValidationError.
func ValidateID(field, id string) error {
	if !idRegexp.MatchString(id) {
		return &chat.ValidationError{Field: field, Reason: "must match ^[A-Za-z0-9_-]{1,64}$"}
	}
	return nil
}
