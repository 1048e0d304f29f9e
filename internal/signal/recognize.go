package signal

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultFuzzyThreshold is the minimum Jaro-Winkler score for a notification
// source name to be accepted as a known meeting application when no exact
// substring match is found. Notification titles arrive mangled often enough
// (truncation, localisation suffixes) that exact matching alone misses real
// meetings.
const defaultFuzzyThreshold = 0.88

// meetingApps lists the notification source names recognised as meeting
// applications. Matching is case-insensitive.
var meetingApps = []string{
	"zoom",
	"microsoft teams",
	"google meet",
	"webex",
	"gotomeeting",
	"bluejeans",
}

// meetingIDPattern extracts a meeting identifier from notification text:
// a digit run of 9-12 characters, optionally space/dash separated
// (e.g. "823 1234 5678" or "82312345678").
var meetingIDPattern = regexp.MustCompile(`\b\d[\d\s-]{7,13}\d\b`)

// Recognizer decides whether a notification posting announces a meeting and
// extracts the meeting identifier from its payload. Read-only after
// construction; safe for concurrent use.
type Recognizer struct {
	apps           []string
	fuzzyThreshold float64
}

// RecognizerOption configures a [Recognizer].
type RecognizerOption func(*Recognizer)

// WithApps replaces the default meeting application list.
func WithApps(apps []string) RecognizerOption {
	return func(r *Recognizer) {
		if len(apps) > 0 {
			r.apps = apps
		}
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for fuzzy source
// matching. Default: 0.88.
func WithFuzzyThreshold(threshold float64) RecognizerOption {
	return func(r *Recognizer) {
		if threshold > 0 {
			r.fuzzyThreshold = threshold
		}
	}
}

// NewRecognizer creates a Recognizer with the default application list.
func NewRecognizer(opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		apps:           meetingApps,
		fuzzyThreshold: defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Match holds the outcome of recognising a notification payload.
type Match struct {
	// App is the canonical meeting application name that matched.
	App string

	// MeetingID is the extracted meeting identifier, or the app name when
	// the payload carries no parseable id (some apps omit it from the
	// notification entirely).
	MeetingID string
}

// Recognize inspects a notification payload (title plus body as free text)
// and reports whether it announces a meeting. The boolean is false for
// ordinary notifications.
func (r *Recognizer) Recognize(payload string) (Match, bool) {
	lower := strings.ToLower(payload)

	app, ok := r.matchApp(lower)
	if !ok {
		return Match{}, false
	}

	m := Match{App: app, MeetingID: app}
	if id := meetingIDPattern.FindString(payload); id != "" {
		m.MeetingID = normalizeMeetingID(id)
	}
	return m, true
}

// matchApp finds a known meeting application in the lowercased payload:
// exact substring first, then Jaro-Winkler against each whitespace-trimmed
// prefix of the payload for mangled titles.
func (r *Recognizer) matchApp(lower string) (string, bool) {
	for _, app := range r.apps {
		if strings.Contains(lower, app) {
			return app, true
		}
	}

	// Fuzzy pass: compare each app name against the leading words of the
	// payload, which is where notification titles place the source name.
	for _, app := range r.apps {
		prefix := leadingWords(lower, strings.Count(app, " ")+1)
		if prefix == "" {
			continue
		}
		if matchr.JaroWinkler(prefix, app, false) >= r.fuzzyThreshold {
			return app, true
		}
	}
	return "", false
}

// leadingWords returns the first n whitespace-separated words of s.
func leadingWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

// normalizeMeetingID strips separators from an extracted meeting id.
func normalizeMeetingID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
