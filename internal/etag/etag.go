// Package etag fingerprints serialized responses and evaluates If-None-Match.
package etag

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type Outcome int

const (
	Proceed Outcome = iota
	NotModified
)

// Fingerprint returns a quoted strong entity tag over body.
func Fingerprint(body []byte) string {
	return fmt.Sprintf(`"%016x-%x"`, xxhash.Sum64(body), len(body))
}

// Evaluate compares the fresh tag against an If-None-Match header value.
// Weak comparison applies, so W/"x" matches "x".
func Evaluate(tag, ifNoneMatch string) Outcome {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if tag == "" || ifNoneMatch == "" {
		return Proceed
	}
	if ifNoneMatch == "*" {
		return NotModified
	}
	want := opaque(tag)
	for part := range strings.SplitSeq(ifNoneMatch, ",") {
		if opaque(strings.TrimSpace(part)) == want {
			return NotModified
		}
	}
	return Proceed
}

func opaque(t string) string {
	t = strings.TrimPrefix(t, "W/")
	return strings.Trim(t, `"`)
}
