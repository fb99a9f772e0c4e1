package domain

import (
	"encoding"
	"fmt"
	"strings"
)

// Rating is the input that produced a review log entry.
// Again through Easy are the learner's grades; Manual marks entries
// written by an explicit reset rather than a review.
type Rating int

const (
	Manual Rating = iota
	Again
	Hard
	Good
	Easy
)

// Grades lists the ratings a learner can give, in ascending order.
var Grades = []Rating{Again, Hard, Good, Easy}

var ratingNames = [...]string{Manual: "Manual", Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

var (
	_ fmt.Stringer             = Rating(0)
	_ encoding.TextMarshaler   = Rating(0)
	_ encoding.TextUnmarshaler = (*Rating)(nil)
)

// IsGrade reports whether r is a learner grade (Again through Easy).
func (r Rating) IsGrade() bool {
	return r >= Again && r <= Easy
}

func (r Rating) String() string {
	if r >= Manual && r <= Easy {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Rating) MarshalText() ([]byte, error) {
	if r < Manual || r > Easy {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRating, int(r))
	}
	return []byte(ratingNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Names are matched
// case-insensitively so "good" and "Good" are both accepted.
func (r *Rating) UnmarshalText(text []byte) error {
	v, err := ParseRating(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRating converts a rating name or its number (0 for Manual, 1-4 for
// the grades) into a Rating.
func ParseRating(s string) (Rating, error) {
	s = strings.TrimSpace(s)
	for i, name := range ratingNames {
		if strings.EqualFold(s, name) || s == fmt.Sprint(i) {
			return Rating(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRating, s)
}
