package offset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	id, err := Parse("100-3")
	require.NoError(t, err)
	require.Equal(t, ID{Timestamp: 100, Seq: 3}, id)
	require.Equal(t, "100-3", id.String())

	zero, err := Parse(Zero)
	require.NoError(t, err)
	require.Equal(t, ID{}, zero)

	_, err = Parse("garbage")
	require.Error(t, err)
}

func TestLess(t *testing.T) {
	require.True(t, ID{Timestamp: 100, Seq: 0}.Less(ID{Timestamp: 100, Seq: 1}))
	require.True(t, ID{Timestamp: 100, Seq: 5}.Less(ID{Timestamp: 101, Seq: 0}))
	require.False(t, ID{Timestamp: 100, Seq: 1}.Less(ID{Timestamp: 100, Seq: 1}))
	require.False(t, ID{Timestamp: 101, Seq: 0}.Less(ID{Timestamp: 100, Seq: 5}))
}

func TestNextIsStrictSuccessor(t *testing.T) {
	require.Equal(t, "100-1", Next("100-0"))
	require.Equal(t, "0-1", Next(Zero))
	require.Equal(t, "0-1", Next("not-an-id"))
}

func TestPrevIsInverseOfNext(t *testing.T) {
	require.Equal(t, "100-0", Prev("100-1"))
	require.Equal(t, "99-18446744073709551615", Prev("100-0"))
	require.Equal(t, Zero, Prev(Zero))
	require.Equal(t, Zero, Prev("0-0"))
}

// TestInRangeIncludesSameMillisecondSuccessor is the regression test
// for the off-by-one that dropped events landing exactly on
// Next(lastID): resuming from from_id = Next("100-0") = "100-1" must
// still include a real event whose ID is "100-1", not just events
// strictly greater than it.
func TestInRangeIncludesSameMillisecondSuccessor(t *testing.T) {
	from := Next("100-0")
	require.Equal(t, "100-1", from)

	ok, err := InRange("100-1", from, Unbounded)
	require.NoError(t, err)
	require.True(t, ok, "from_id must be an inclusive lower bound")

	ok, err = InRange("100-0", from, Unbounded)
	require.NoError(t, err)
	require.False(t, ok, "the already-delivered event must not be redelivered")

	ok, err = InRange("100-2", from, Unbounded)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInRangeUpperBound(t *testing.T) {
	ok, err := InRange("100-1", Zero, "100-1")
	require.NoError(t, err)
	require.True(t, ok, "to is inclusive")

	ok, err = InRange("100-2", Zero, "100-1")
	require.NoError(t, err)
	require.False(t, ok)
}
