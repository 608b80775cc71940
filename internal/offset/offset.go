// Package offset implements the stream-ID arithmetic every other
// component in this module depends on to avoid redelivering or
// skipping events. Per the design notes, a bug here causes infinite
// replay loops — it is the single most load-bearing piece of logic in
// the system, hence its own package and its own thorough test file.
package offset

import (
	"fmt"
	"strconv"
	"strings"
)

// Zero is the synthetic sentinel meaning "from the very start."
const Zero = "0"

// Unbounded is the sentinel meaning "no upper bound" in a range read.
const Unbounded = "+"

// ID is a parsed stream ID of the form "<ms-timestamp>-<seq>".
type ID struct {
	Timestamp int64
	Seq       uint64
}

// Parse splits a stream ID string into its timestamp and sequence
// components. The zero sentinel parses to {0, 0}.
func Parse(s string) (ID, error) {
	if s == Zero || s == "" {
		return ID{}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("offset: malformed id %q: expected \"<ts>-<seq>\"", s)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("offset: malformed timestamp in id %q: %w", s, err)
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("offset: malformed sequence in id %q: %w", s, err)
	}
	return ID{Timestamp: ts, Seq: seq}, nil
}

// String renders an ID back to its wire form.
func (i ID) String() string {
	return fmt.Sprintf("%d-%d", i.Timestamp, i.Seq)
}

// Less reports whether i sorts strictly before o — lexicographic order
// on the wire string matches numeric order on (Timestamp, Seq).
func (i ID) Less(o ID) bool {
	if i.Timestamp != o.Timestamp {
		return i.Timestamp < o.Timestamp
	}
	return i.Seq < o.Seq
}

// Next returns the smallest ID string strictly greater than id — the
// offset callers must pass as the new from_id so the same event is
// never redelivered. Unlike a naive increment, this must work
// regardless of whether the previous event was the last sequence
// number issued for its timestamp; that distinction doesn't matter
// here because Next only has to be a strict lower bound for the next
// append, not predict its exact value. The Event Log is the only
// thing that assigns real IDs; Next just has to never collide with
// or skip past one already delivered.
//
// Callers pass Next(lastID) as the new from_id, and Range/Tail treat
// from_id as an INCLUSIVE lower bound (see InRange) — so an event
// whose real ID happens to equal Next(lastID) exactly, e.g. a
// same-millisecond successor "t-s" -> "t-(s+1)", is still delivered
// instead of silently skipped.
func Next(id string) string {
	parsed, err := Parse(id)
	if err != nil {
		// A malformed offset is a caller bug, not a stream condition;
		// returning the input unchanged would make every subsequent
		// range call re-read the same malformed cursor forever, so
		// fall back to the zero sentinel's successor form instead.
		return "0-1"
	}
	if parsed.Seq == ^uint64(0) {
		return ID{Timestamp: parsed.Timestamp + 1, Seq: 0}.String()
	}
	return ID{Timestamp: parsed.Timestamp, Seq: parsed.Seq + 1}.String()
}

// Prev returns the largest ID string strictly less than id, saturating
// at the zero sentinel. It exists solely to bridge Redis Tail's XREAD
// primitive, which only supports an exclusive lower bound, to this
// package's inclusive from_id convention: XREAD asks for IDs greater
// than Prev(from), which is exactly the set of IDs >= from.
func Prev(id string) string {
	parsed, err := Parse(id)
	if err != nil || (parsed.Timestamp == 0 && parsed.Seq == 0) {
		return Zero
	}
	if parsed.Seq > 0 {
		return ID{Timestamp: parsed.Timestamp, Seq: parsed.Seq - 1}.String()
	}
	return ID{Timestamp: parsed.Timestamp - 1, Seq: ^uint64(0)}.String()
}

// InRange reports whether id falls in the closed interval [from, to]
// used by Range/Tail: greater than or equal to from, and — unless to
// is the Unbounded sentinel — less than or equal to to. The lower
// bound is inclusive so that resuming with from = Next(lastID) never
// redelivers lastID (Next(lastID) is strictly greater than it) while
// still delivering a real event whose ID happens to equal
// Next(lastID) exactly, matching the original implementation's
// inclusive-minimum range read.
func InRange(id, from, to string) (bool, error) {
	idP, err := Parse(id)
	if err != nil {
		return false, err
	}
	fromP, err := Parse(from)
	if err != nil {
		return false, err
	}
	if idP.Less(fromP) {
		return false, nil
	}
	if to == Unbounded || to == "" {
		return true, nil
	}
	toP, err := Parse(to)
	if err != nil {
		return false, err
	}
	return idP.Less(toP) || idP == toP, nil
}
