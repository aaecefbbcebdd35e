package matching

import (
	"errors"
	"slices"

	"github.com/google/uuid"
)

// ErrEmptyOpinions is returned by NewUser when the opinion vector is empty.
var ErrEmptyOpinions = errors.New("matching: opinion vector must not be empty")

// User is a participant waiting to be paired. Opinions holds one integer
// position per questionnaire topic. Users are read, never modified, by the
// matcher.
type User struct {
	ID       string
	Opinions []int
}

// NewUser validates and builds a User. An empty id is replaced with a random
// UUID. The opinion slice is copied so later changes by the caller do not
// leak into the User.
func NewUser(id string, opinions []int) (User, error) {
	if len(opinions) == 0 {
		return User{}, ErrEmptyOpinions
	}
	if id == "" {
		id = uuid.New().String()
	}
	return User{ID: id, Opinions: slices.Clone(opinions)}, nil
}

// Match is a committed pairing of two users and the score that produced it.
type Match struct {
	UserA string
	UserB string
	Score float64
}

// Involves reports whether the user is one side of the match.
func (m Match) Involves(userID string) bool {
	return userID == m.UserA || userID == m.UserB
}

// Partner returns the other side of the match, or "" if userID is not part
// of it.
func (m Match) Partner(userID string) string {
	switch userID {
	case m.UserA:
		return m.UserB
	case m.UserB:
		return m.UserA
	}
	return ""
}
