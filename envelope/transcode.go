// Package envelope rewrites one vendor's chat request envelope: a
// percent-encoded body whose decoded form is
//
//	f.req=<outer JSON array>]&<trailer>
//
// where outer[1] is itself a JSON-encoded array and the user's message sits
// at inner[0][0]. Transcode prepends composed instruction text to that field
// under a hard size budget and re-encodes the envelope losslessly. Every
// failure path returns the raw body unchanged: injection is best-effort and
// must never block or corrupt the outgoing request.
package envelope

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const (
	// PayloadPrefix is the literal form key preceding the outer JSON array.
	PayloadPrefix = "f.req="

	// Fingerprint is the cheap structural check for candidate bodies.
	Fingerprint = "f.req"

	truncationMarker = "\n...[TRUNCATED]"

	// minTruncationRoom is the smallest slice of the user's text worth
	// keeping; below this the injection is abandoned for the call.
	minTruncationRoom = 100
)

// TruncationMarker is appended to the user's text when the budget forces a cut.
func TruncationMarker() string { return truncationMarker }

// Mode selects how long injection stays enabled within a session.
type Mode int

const (
	ModeEveryMessage Mode = iota
	ModeFirstMessageOnly
)

// ModeFromParam translates a settings value to a Mode. Unknown values mean
// every message.
func ModeFromParam(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first", "first_message", "first_message_only", "once":
		return ModeFirstMessageOnly
	default:
		return ModeEveryMessage
	}
}

// Outcome reports what Transcode did with a body.
type Outcome int

const (
	Injected Outcome = iota
	SkippedDuplicate
	SkippedBudget
	SkippedShape
	SkippedUnparseable
	Disabled
)

func (o Outcome) String() string {
	switch o {
	case Injected:
		return "injected"
	case SkippedDuplicate:
		return "skipped-duplicate"
	case SkippedBudget:
		return "skipped-budget"
	case SkippedShape:
		return "skipped-shape"
	case SkippedUnparseable:
		return "skipped-unparseable"
	case Disabled:
		return "disabled"
	}
	return "unknown"
}

// Session tracks the injection latch across calls. The caller owns the value
// and threads it through; there is no package-level state.
type Session struct {
	Enabled bool
	Mode    Mode
}

// NewSession starts an enabled session in the given mode.
func NewSession(mode Mode) Session {
	return Session{Enabled: true, Mode: mode}
}

// Apply updates the latch after a transcode call. Under ModeFirstMessageOnly
// the first real injection disables the session; nothing re-enables it.
func (s *Session) Apply(o Outcome) {
	if o == Injected && s.Mode == ModeFirstMessageOnly {
		s.Enabled = false
	}
}

// IsCandidate reports whether a body looks like a chat envelope worth
// decoding. Non-candidates must be forwarded untouched without parsing.
func IsCandidate(body string) bool {
	return strings.Contains(body, Fingerprint)
}

// Transcode decodes rawBody, prepends payload to the user-message field and
// re-encodes. marker identifies an already-injected field (duplicate calls,
// e.g. browser retries, are skipped). budget caps len(payload)+field; when
// exceeded the field is truncated, and when fewer than 100 bytes remain for
// the user's text the injection is abandoned. The returned body is always
// sendable: on any decode or parse failure it is rawBody itself.
func Transcode(rawBody, payload string, budget int, marker string, enabled bool) (string, Outcome) {
	if !enabled {
		return rawBody, Disabled
	}

	decoded := Decode(rawBody)
	i := strings.Index(decoded, "]&")
	if i < 0 {
		// No envelope delimiter: not a chat envelope, pass through.
		return rawBody, SkippedUnparseable
	}
	split := i + 1
	payloadRegion, trailer := decoded[:split], decoded[split:]
	cleanJSON := strings.TrimPrefix(payloadRegion, PayloadPrefix)

	var outer []any
	if err := json.Unmarshal([]byte(cleanJSON), &outer); err != nil || len(outer) < 2 {
		return rawBody, SkippedUnparseable
	}
	innerRaw, ok := asString(outer[1])
	if !ok {
		return rawBody, SkippedUnparseable
	}
	var inner []any
	if err := json.Unmarshal([]byte(innerRaw), &inner); err != nil {
		return rawBody, SkippedUnparseable
	}

	outcome := Injected
	field, ok := targetField(inner)
	switch {
	case !ok:
		outcome = SkippedShape
	case marker != "" && strings.Contains(field, marker):
		outcome = SkippedDuplicate
	default:
		final, fit := inject(field, payload, budget)
		if !fit {
			outcome = SkippedBudget
		} else if !setTargetField(inner, final) {
			outcome = SkippedShape
		}
	}

	innerOut, err := marshalJSON(inner)
	if err != nil {
		return rawBody, SkippedUnparseable
	}
	outer[1] = innerOut
	outerOut, err := marshalJSON(outer)
	if err != nil {
		return rawBody, SkippedUnparseable
	}
	return PayloadPrefix + Encode(outerOut) + trailer, outcome
}

// inject prepends payload to field under budget. The truncation cut does not
// reserve room for the marker, so a truncated field may exceed budget by
// exactly len(truncationMarker); this matches the upstream wire behaviour.
func inject(field, payload string, budget int) (string, bool) {
	if len(payload)+len(field) <= budget {
		return payload + field, true
	}
	space := budget - len(payload)
	if space < minTruncationRoom {
		return "", false
	}
	for space > 0 && !utf8.RuneStart(field[space]) {
		space--
	}
	return payload + field[:space] + truncationMarker, true
}
