// Package eventid encodes and decodes the identifiers attached to events
// pushed on a run stream.
//
// An event ID (token) is the run identifier followed by Separator and the
// decimal sequence number of the event within the run:
//
//	run-123_event_42
//
// Tokens double as resumption cursors: a reconnecting client sends back the
// last token it saw (the Last-Event-ID convention) and the server resumes
// after the decoded sequence. Decoding splits on the last occurrence of
// Separator so run identifiers may contain the separator as a non-final
// substring. Run identifiers must not end in a way that makes the trailing
// segment ambiguous; this is not checked.
//
// All functions are pure and safe for concurrent use.
package eventid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Separator joins the run identifier and the sequence number in a token.
const Separator = "_event_"

// ErrMalformed is wrapped by the errors returned by Parse.
var ErrMalformed = errors.New("malformed event id")

// Token is a parsed event ID.
type Token struct {
	// RunID is everything before the last separator. It may be empty.
	RunID string
	// Seq is the sequence number following the last separator.
	Seq int64
}

// Encode returns the event ID for the given run and sequence number.
// Negative sequence numbers are encoded verbatim.
func Encode(runID string, seq int64) string {
	return runID + Separator + strconv.FormatInt(seq, 10)
}

// Parse splits token at the last occurrence of Separator and parses the
// trailing segment as a signed decimal integer. It returns an error wrapping
// ErrMalformed when the separator is missing or the trailing segment is not
// an int64.
func Parse(token string) (Token, error) {
	i := strings.LastIndex(token, Separator)
	if i < 0 {
		return Token{}, fmt.Errorf("%w: %q has no %q separator", ErrMalformed, token, Separator)
	}
	tail := token[i+len(Separator):]
	seq, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: invalid sequence %q", ErrMalformed, tail)
	}
	return Token{RunID: token[:i], Seq: seq}, nil
}

// Decode returns the sequence number encoded in token. It never fails:
// malformed tokens (no separator, empty or non-numeric sequence) decode to 0.
// Use IsValid or Parse to tell a malformed token from sequence 0.
func Decode(token string) int64 {
	t, err := Parse(token)
	if err != nil {
		return 0
	}
	return t.Seq
}

// IsValid reports whether token is a well-formed event ID, that is whether
// Decode returns the encoded sequence rather than its fallback.
func IsValid(token string) bool {
	_, err := Parse(token)
	return err == nil
}

// FormatSummary returns a human readable description of the number of events
// emitted by a run.
func FormatSummary(runID string, count int64) string {
	switch count {
	case 0:
		return fmt.Sprintf("Run %s has no events", runID)
	case 1:
		return fmt.Sprintf("Run %s has 1 event", runID)
	default:
		return fmt.Sprintf("Run %s has %d events", runID, count)
	}
}

// String re-encodes the token.
func (t Token) String() string {
	return Encode(t.RunID, t.Seq)
}
