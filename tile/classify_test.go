package tile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sattiler/internal/tiletest"
	"sattiler/tile"
)

func TestClassify(t *testing.T) {
	valid := tiletest.PNG(1, 16)
	cases := []struct {
		name string
		data []byte
		want tile.Class
	}{
		{"png", valid, tile.Valid},
		{"empty", nil, tile.Empty},
		{"html", []byte(tiletest.HTMLPage), tile.Placeholder},
		{"html lowercase", []byte("<html><body>busy</body></html>"), tile.Placeholder},
		{"truncated", valid[:10], tile.Corrupt},
		{"garbage", []byte("not an image at all"), tile.Corrupt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tile.Classify(tc.data))
		})
	}
}

func TestClassErr(t *testing.T) {
	assert.NoError(t, tile.Valid.Err())
	assert.ErrorIs(t, tile.Placeholder.Err(), tile.ErrPlaceholder)
	assert.ErrorIs(t, tile.Corrupt.Err(), tile.ErrCorruptPayload)
	assert.ErrorIs(t, tile.Empty.Err(), tile.ErrCorruptPayload)
	assert.ErrorIs(t, tile.Unavailable.Err(), tile.ErrUnavailable)
	assert.Equal(t, "html", tile.Placeholder.String())
}

func TestFormat(t *testing.T) {
	assert.Equal(t, tile.PNG, tile.Format(tiletest.PNG(2, 8)))
	assert.Equal(t, tile.JPG, tile.Format([]byte("\xff\xd8\xff\xe0rest")))
	assert.Equal(t, "", tile.Format([]byte("??")))
}

func TestFatalErrors(t *testing.T) {
	assert.True(t, tile.IsFatal(&tile.TransportError{URL: "u", Attempts: 3}))
	assert.True(t, tile.IsFatal(&tile.StorageConsistencyError{Op: "update map"}))
	assert.False(t, tile.IsFatal(tile.ErrNotFound))
	assert.True(t, tile.IsNotFound(tile.ErrNotFound))
}
