package umbra

import (
	"net/http"
	"net/textproto"
	"strings"

	"github.com/goliatone/go-errors"
)

// ErrArtifactMissing signals that no transport artifact was found in
// the request. Services translate it into a nil retrieval, not a
// failure.
var ErrArtifactMissing = errors.New("transport artifact not present", errors.CategoryNotFound).
	WithTextCode("artifact_missing").
	WithCode(errors.CodeNotFound)

// ArtifactExtractor pulls the raw transport artifact out of a request.
type ArtifactExtractor func(r *http.Request) (string, error)

// GetExtractors parses a token lookup expression into extractors, in
// declaration order. The expression is a comma-separated list of
// "<source>:<name>" entries where source is one of header, query or
// cookie. A header entry may carry a third segment naming the auth
// scheme to strip, e.g. "header:Authorization:Bearer ".
func GetExtractors(tokenLookup string) []ArtifactExtractor {
	extractors := make([]ArtifactExtractor, 0)

	for _, entry := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) < 2 {
			continue
		}

		name := parts[1]
		switch parts[0] {
		case "header":
			scheme := ""
			if len(parts) == 3 {
				scheme = parts[2]
			}
			extractors = append(extractors, artifactFromHeader(name, scheme))
		case "query":
			extractors = append(extractors, artifactFromQuery(name))
		case "cookie":
			extractors = append(extractors, artifactFromCookie(name))
		}
	}

	return extractors
}

// ExtractArtifact runs extractors until one yields a value.
func ExtractArtifact(r *http.Request, extractors []ArtifactExtractor) (string, error) {
	for _, extract := range extractors {
		raw, err := extract(r)
		if err == nil && raw != "" {
			return raw, nil
		}
	}
	return "", ErrArtifactMissing
}

func artifactFromHeader(name, scheme string) ArtifactExtractor {
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	scheme = strings.TrimSpace(scheme)
	return func(r *http.Request) (string, error) {
		value := r.Header.Get(canonical)
		if value == "" {
			return "", ErrArtifactMissing
		}

		if scheme != "" {
			// the scheme and the artifact must be space separated
			rest, ok := strings.CutPrefix(value, scheme+" ")
			if !ok {
				return "", ErrArtifactMissing
			}
			value = strings.TrimSpace(rest)
		}

		if value == "" {
			return "", ErrArtifactMissing
		}
		return value, nil
	}
}

func artifactFromQuery(name string) ArtifactExtractor {
	return func(r *http.Request) (string, error) {
		value := r.URL.Query().Get(name)
		if value == "" {
			return "", ErrArtifactMissing
		}
		return value, nil
	}
}

func artifactFromCookie(name string) ArtifactExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(name)
		if err != nil || cookie.Value == "" {
			return "", ErrArtifactMissing
		}
		return cookie.Value, nil
	}
}

// replaceRequestCookie returns a shallow request clone whose cookie of
// the given name is replaced, preserving all other cookies. Used by
// EmbedRequest to chain synthetic requests through middleware.
func replaceRequestCookie(r *http.Request, replacement *http.Cookie) *http.Request {
	clone := r.Clone(r.Context())

	cookies := clone.Cookies()
	clone.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == replacement.Name {
			continue
		}
		clone.AddCookie(c)
	}
	clone.AddCookie(replacement)

	return clone
}
