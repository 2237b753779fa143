package appkit_test

import (
	"testing"
	"time"

	appkit "github.com/goliatone/go-appkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsOutsideThresholdPeriod(t *testing.T) {
	outside, err := appkit.IsOutsideThresholdPeriod(time.Now().Add(-25*time.Hour), "24h")
	require.NoError(t, err)
	assert.True(t, outside)

	outside, err = appkit.IsOutsideThresholdPeriod(time.Now().Add(-time.Hour), "24h")
	require.NoError(t, err)
	assert.False(t, outside)

	_, err = appkit.IsOutsideThresholdPeriod(time.Now(), "one day")
	assert.Error(t, err)
}
