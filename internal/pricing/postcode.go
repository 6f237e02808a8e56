package pricing

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// PatternKind is the syntax class of a zone location pattern.
type PatternKind string

const (
	KindRangeDotted PatternKind = "range-dotted"
	KindRangeDashed PatternKind = "range-dashed"
	KindWildcard    PatternKind = "wildcard"
	KindExact       PatternKind = "exact"
)

// PostcodeLocation is a single postcode pattern attached to a shipping zone.
type PostcodeLocation struct {
	Code string      `json:"code"`
	Kind PatternKind `json:"kind,omitempty"`
}

// NewPostcodeLocation classifies code and returns the location.
func NewPostcodeLocation(code string) PostcodeLocation {
	return PostcodeLocation{Code: code, Kind: Classify(code)}
}

// Classify infers the pattern kind. The first rule that applies wins:
// "..." range, then "-" range when no "*" is present, then wildcard, then exact.
func Classify(pattern string) PatternKind {
	switch {
	case strings.Contains(pattern, "..."):
		return KindRangeDotted
	case strings.Contains(pattern, "-") && !strings.Contains(pattern, "*"):
		return KindRangeDashed
	case strings.Contains(pattern, "*"):
		return KindWildcard
	default:
		return KindExact
	}
}

// Matcher tests postcodes against location patterns and caches compiled
// wildcard expressions per distinct pattern. It is safe for concurrent use.
type Matcher struct {
	wildcards sync.Map // pattern -> *regexp.Regexp (nil when the pattern never matches)
}

// NewMatcher returns an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

var defaultMatcher = NewMatcher()

// Matches reports whether postcode belongs to pattern using a shared matcher.
func Matches(postcode, pattern string) bool {
	return defaultMatcher.Matches(postcode, pattern)
}

// Matches reports whether postcode belongs to pattern. Surrounding whitespace
// on the postcode is ignored for every pattern kind. Malformed patterns are
// treated as non-matches.
func (m *Matcher) Matches(postcode, pattern string) bool {
	postcode = strings.TrimSpace(postcode)
	switch Classify(pattern) {
	case KindRangeDotted:
		return inRange(postcode, pattern, "...")
	case KindRangeDashed:
		return inRange(postcode, pattern, "-")
	case KindWildcard:
		re := m.wildcard(pattern)
		return re != nil && re.MatchString(postcode)
	default:
		return postcode == pattern
	}
}

func (m *Matcher) wildcard(pattern string) *regexp.Regexp {
	if cached, ok := m.wildcards.Load(pattern); ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		re = nil
	}
	actual, _ := m.wildcards.LoadOrStore(pattern, re)
	out, _ := actual.(*regexp.Regexp)
	return out
}

func inRange(postcode, pattern, sep string) bool {
	low, high, ok := strings.Cut(pattern, sep)
	if !ok {
		return false
	}
	lo, err := strconv.Atoi(strings.TrimSpace(low))
	if err != nil {
		return false
	}
	hi, err := strconv.Atoi(strings.TrimSpace(high))
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(postcode)
	if err != nil {
		return false
	}
	return lo <= n && n <= hi
}
