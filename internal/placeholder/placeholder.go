// Package placeholder resolves structured-data placeholders embedded in prompt
// templates. A placeholder is written {{KIND}} or {{KIND__key1__key2}}, where
// KIND names a record type and the optional key list selects which permitted
// fields to render. Resolution never fails: unknown kinds stay literal text,
// invalid keys are dropped, and missing records degrade to a fallback sentence.
package placeholder

import (
	"strings"

	"github.com/avantifellows/curiosity-coach/internal/record"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
	keyDelim   = "__"
)

// Token is one recognized placeholder occurrence.
type Token struct {
	// Raw is the exact template text of the token, braces included.
	Raw string
	// Kind is the record type the token pulls data from.
	Kind record.Kind
	// Keys are the requested field names. Empty means every permitted key.
	Keys []string
}

// Extract scans a template and returns its recognized placeholder tokens,
// deduplicated by raw text, in order of first appearance. Malformed tokens and
// unknown kinds are not returned; their text is left for the caller to keep
// verbatim. Extract is a pure function.
func Extract(template string) []Token {
	var tokens []Token
	seen := make(map[string]bool)

	rest := template
	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+len(openDelim):], closeDelim)
		if end < 0 {
			break
		}
		inner := rest[start+len(openDelim) : start+len(openDelim)+end]
		raw := openDelim + inner + closeDelim
		rest = rest[start+len(openDelim)+end+len(closeDelim):]

		if seen[raw] {
			continue
		}
		tok, ok := parse(inner)
		if !ok {
			continue
		}
		tok.Raw = raw
		seen[raw] = true
		tokens = append(tokens, tok)
	}
	return tokens
}

// parse interprets the text between the braces. The first double-underscore
// separated segment is the kind; the rest are requested keys. Key names are
// bare identifiers and can never contain the delimiter itself.
func parse(inner string) (Token, bool) {
	segments := strings.Split(inner, keyDelim)
	kind := record.Kind(segments[0])
	if !record.Known(kind) {
		return Token{}, false
	}
	keys := segments[1:]
	for _, k := range keys {
		if !validKey(k) {
			return Token{}, false
		}
	}
	return Token{Kind: kind, Keys: keys}, true
}

// validKey reports whether s is a bare identifier of the form [A-Za-z_]+.
func validKey(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			continue
		}
		return false
	}
	return true
}

// KindSet returns the distinct record kinds referenced by a token list. The
// pipeline uses this to fetch only the records a template actually needs.
func KindSet(tokens []Token) []record.Kind {
	var kinds []record.Kind
	seen := make(map[record.Kind]bool)
	for _, t := range tokens {
		if !seen[t.Kind] {
			seen[t.Kind] = true
			kinds = append(kinds, t.Kind)
		}
	}
	return kinds
}
