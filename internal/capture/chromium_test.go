package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRequiresURLAndOutput(t *testing.T) {
	ctx := context.Background()
	assert.ErrorIs(t, Snapshot(ctx, Options{OutputPath: "x.png"}), ErrNoURL)
	assert.ErrorIs(t, Snapshot(ctx, Options{URL: "http://127.0.0.1/"}), ErrNoOutput)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{URL: "http://127.0.0.1/", OutputPath: "out.png"}
	require.NoError(t, o.normalize())
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.Equal(t, DefaultTimeout, o.Timeout)

	o = Options{URL: "u", OutputPath: "p", Width: 800, Height: 600, Timeout: time.Second}
	require.NoError(t, o.normalize())
	assert.Equal(t, 800, o.Width)
	assert.Equal(t, 600, o.Height)
	assert.Equal(t, time.Second, o.Timeout)
}
