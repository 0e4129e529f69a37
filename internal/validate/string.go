// Package validate provides input validation for API request fields.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
	ErrTooManyItems      = errors.New("too many items")
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length (0 = no minimum)
	MaxLength      int            // Maximum length (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional regex pattern for allowed characters
	AllowEmpty     bool           // Whether empty strings are allowed
	TrimSpace      bool           // Whether to trim whitespace before validation
	NoControl      bool           // Reject control characters other than \n and \t
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidCharacters)
	}

	// Character count, not byte count
	length := utf8.RuneCountInString(s)

	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	if constraints.NoControl {
		for _, r := range s {
			if unicode.IsControl(r) && r != '\n' && r != '\t' {
				return "", fmt.Errorf("%w: control character %U", ErrInvalidCharacters, r)
			}
		}
	}

	return s, nil
}

var entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]+$`)

// MaxEntityIDLength bounds user, seller, order and dispute identifiers.
const MaxEntityIDLength = 128

// EntityID validates an identifier issued by the marketplace:
// - 1-128 characters
// - Letters, numbers, dash, underscore, colon, period only
func EntityID(id string) (string, error) {
	return String(id, StringConstraints{
		MinLength:      1,
		MaxLength:      MaxEntityIDLength,
		AllowedPattern: entityIDPattern,
		TrimSpace:      true,
	})
}

// IDList splits a comma-separated list of identifiers, dropping blanks and
// duplicates while keeping first-seen order. At most max IDs are accepted.
func IDList(raw string, max int) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := EntityID(part)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrEmpty
	}
	if max > 0 && len(ids) > max {
		return nil, fmt.Errorf("%w: got %d, maximum is %d", ErrTooManyItems, len(ids), max)
	}
	return ids, nil
}

// DisputeReason validates the free-text reason attached to a dispute:
// - 1-1000 characters
// - No control characters except newline and tab
func DisputeReason(reason string) (string, error) {
	return String(reason, StringConstraints{
		MinLength: 1,
		MaxLength: 1000,
		TrimSpace: true,
		NoControl: true,
	})
}

// ListingTitle validates a listing title: 1-200 characters.
func ListingTitle(title string) (string, error) {
	return String(title, StringConstraints{
		MinLength: 1,
		MaxLength: 200,
		TrimSpace: true,
		NoControl: true,
	})
}

// ListingDescription validates an optional listing description of at most
// 5000 characters.
func ListingDescription(desc string) (string, error) {
	return String(desc, StringConstraints{
		MaxLength:  5000,
		AllowEmpty: true,
		TrimSpace:  true,
		NoControl:  true,
	})
}

// SearchQuery validates a listing search query: 1-256 characters.
func SearchQuery(q string) (string, error) {
	return String(q, StringConstraints{
		MinLength: 1,
		MaxLength: 256,
		TrimSpace: true,
		NoControl: true,
	})
}
