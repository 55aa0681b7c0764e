package plan

import (
	"fmt"
	"net/url"
	"strings"
)

// MintURI builds the reference URI for a stored record:
// scheme://host/collection/{id}.
func MintURI(scheme, host, collection, id string) string {
	return fmt.Sprintf("%s://%s/%s/%s", scheme, host, collection, id)
}

// ParseRefURI splits a reference URI into its collection path and record id.
// Malformed references report ok=false; callers treat them as dangling, not
// as errors.
func ParseRefURI(raw string) (collection, id string, ok bool) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", "", false
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 {
		return "", "", false
	}

	id = segments[len(segments)-1]
	collection = strings.Join(segments[:len(segments)-1], "/")
	if id == "" || collection == "" {
		return "", "", false
	}
	return collection, id, true
}
