package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	def := 5 * time.Minute

	assert.Equal(t, 90*time.Second, ParseDuration("90s", def))
	assert.Equal(t, 2*time.Hour, ParseDuration("2h", def))
	assert.Equal(t, def, ParseDuration("", def))
	assert.Equal(t, def, ParseDuration("soon", def))
}

func TestParseBuckets(t *testing.T) {
	got, err := ParseBuckets("0.5, 1,2.25")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1, 2.25}, got)

	got, err = ParseBuckets("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseBuckets("0.5,high,2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `bucket boundary "high"`)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"csv", "json"}, SplitList("csv, json"))
	assert.Equal(t, []string{"a"}, SplitList(",a,,"))
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , "))
}
