package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendStatementTimeout(t *testing.T) {
	assert.Equal(t,
		"postgres://u:p@h/db?options=-c%20statement_timeout%3D45000",
		appendStatementTimeout("postgres://u:p@h/db", 45000))
	assert.Equal(t,
		"postgres://u:p@h/db?sslmode=disable&options=-c%20statement_timeout%3D100",
		appendStatementTimeout("postgres://u:p@h/db?sslmode=disable", 100))
}

func TestNew_RejectsOutOfRangeStatementTimeout(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "postgres://x", StatementTimeoutMS: -1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of allowed range")

	_, err = New(context.Background(), Config{URL: "postgres://x", StatementTimeoutMS: statementTimeoutMaxMS + 1}, nil)
	require.Error(t, err)
}

func TestChunkBounds(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 500}, {500, 1000}, {1000, 1001}}, chunkBounds(1001, 500))
	assert.Empty(t, chunkBounds(0, 500))
	assert.Equal(t, [][2]int{{0, 3}}, chunkBounds(3, 0))
}

func TestContainsPattern(t *testing.T) {
	assert.Equal(t, "%alice%", containsPattern("alice"))
	assert.Equal(t, `%100\%%`, containsPattern("100%"))
	assert.Equal(t, `%a\_b%`, containsPattern("a_b"))
	assert.Equal(t, `%c:\\x%`, containsPattern(`c:\x`))
}
