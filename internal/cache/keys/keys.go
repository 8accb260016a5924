// Package keys builds the Redis key layout of the response store.
package keys

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	prefix          = "resp"
	maxReadableLen  = 64
	docSegment      = ":doc:"
	createdSegment  = ":created"
	parcelSegment   = ":parcel:"
	cellSegment     = ":cell:"
	wildcardSegment = ":*"
)

// Survey returns the namespace shared by every key of one survey. The
// readable part is sanitized so it is safe inside a SCAN pattern; the hash
// suffix keeps ids that sanitize to the same text apart.
func Survey(surveyID string) string {
	safe := sanitize(strings.TrimSpace(surveyID))
	if len(safe) > maxReadableLen {
		safe = safe[:maxReadableLen]
	}
	return fmt.Sprintf("%s:%s:%016x", prefix, safe, xxhash.Sum64String(surveyID))
}

func Doc(surveyID, responseID string) string {
	return DocPrefix(surveyID) + responseID
}

// DocPrefix is shared by every document key of the survey.
func DocPrefix(surveyID string) string {
	return Survey(surveyID) + docSegment
}

// Created is the sorted set of every response id in the survey, scored by
// creation time.
func Created(surveyID string) string {
	return Survey(surveyID) + createdSegment
}

func Parcel(surveyID, parcelID string) string {
	return fmt.Sprintf("%s%s%016x", Survey(surveyID), parcelSegment, xxhash.Sum64String(parcelID))
}

func Cell(surveyID string, res int, cell string) string {
	return Survey(surveyID) + cellSegment + strconv.Itoa(res) + ":" + cell
}

// Pattern matches every key of the survey.
func Pattern(surveyID string) string {
	return Survey(surveyID) + wildcardSegment
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// glob metacharacters, separators and non-ASCII
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
