package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampPage(t *testing.T) {
	page, pageSize := ClampPage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageSize, pageSize)

	page, pageSize = ClampPage(-3, 500)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageSize, pageSize)

	page, pageSize = ClampPage(4, 50)
	assert.Equal(t, 4, page)
	assert.Equal(t, 50, pageSize)

	_, pageSize = ClampPage(1, MaxPageSize)
	assert.Equal(t, MaxPageSize, pageSize)
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := OrderCursor{
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ID:        42,
	}

	decoded, err := DecodeCursor(EncodeCursor(cursor))
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.ID, decoded.ID)
}

func TestDecodeCursorEmpty(t *testing.T) {
	cursor, err := DecodeCursor("")
	require.NoError(t, err)

	// The zero cursor starts past every existing row.
	assert.Equal(t, int64(1<<63-1), cursor.ID)
	assert.False(t, cursor.CreatedAt.Before(time.Now().Add(-time.Minute)))
}

func TestDecodeCursorInvalid(t *testing.T) {
	_, err := DecodeCursor("!!!not-base64!!!")
	assert.Error(t, err)
}
