package timecodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatRoundTrip(t *testing.T) {
	const key = "2015-03-03 00:00Z"
	epoch := Parse(key)
	require.GreaterOrEqual(t, epoch, int64(0))
	assert.Equal(t, key, Format(epoch))
}

func TestParseInvalidReturnsNegativeOne(t *testing.T) {
	assert.Equal(t, int64(-1), Parse("not-a-date"))
	assert.Equal(t, int64(-1), Parse("2015/03/03 00:00"))
	assert.Equal(t, int64(-1), Parse(""))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("2020-01-01 12:30Z"))
	assert.False(t, Valid("2020-01-01"))
}

func TestLexicographicOrderMatchesChronologicalOrder(t *testing.T) {
	earlier := "2020-01-01 00:00Z"
	later := "2020-06-15 08:30Z"
	assert.Less(t, earlier, later)
	assert.Less(t, Parse(earlier), Parse(later))
}
