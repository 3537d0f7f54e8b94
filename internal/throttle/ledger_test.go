package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, configs []BucketConfig) (*Ledger, *time.Time) {
	t.Helper()
	l, err := NewLedger(configs, nil)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLedger_FourthAlertSuppressed(t *testing.T) {
	l, now := newTestLedger(t, []BucketConfig{
		{Pattern: "system:*", MaxAlerts: 3, Window: time.Hour},
	})

	for i := 0; i < 3; i++ {
		assert.False(t, l.ShouldSuppress("system", "high"), "alert %d should pass", i+1)
		l.Record("system", "high")
		*now = now.Add(time.Minute)
	}

	// Fourth alert inside the window is suppressed.
	assert.True(t, l.ShouldSuppress("system", "high"))
}

func TestLedger_WindowElapseResetsToOne(t *testing.T) {
	l, now := newTestLedger(t, []BucketConfig{
		{Pattern: "system:*", MaxAlerts: 3, Window: time.Hour},
	})

	for i := 0; i < 3; i++ {
		l.Record("system", "high")
	}
	assert.True(t, l.ShouldSuppress("system", "high"))

	// After the window elapses the next alert goes through and the count
	// restarts at 1, so two more still fit.
	*now = now.Add(time.Hour + time.Second)
	assert.False(t, l.ShouldSuppress("system", "high"))
	l.Record("system", "high")

	assert.False(t, l.ShouldSuppress("system", "high"))
	l.Record("system", "high")
	assert.False(t, l.ShouldSuppress("system", "high"))
	l.Record("system", "high")
	assert.True(t, l.ShouldSuppress("system", "high"))
}

func TestLedger_EmptyBucketNeverThrottles(t *testing.T) {
	l, _ := newTestLedger(t, []BucketConfig{
		{Pattern: "system:*", MaxAlerts: 1, Window: time.Hour},
	})
	assert.False(t, l.ShouldSuppress("system", "critical"))
}

func TestLedger_UnmatchedCategoryNeverThrottles(t *testing.T) {
	l, _ := newTestLedger(t, []BucketConfig{
		{Pattern: "system:*", MaxAlerts: 1, Window: time.Hour},
	})

	l.Record("network", "low")
	l.Record("network", "low")
	assert.False(t, l.ShouldSuppress("network", "low"))
}

func TestLedger_FirstMatchingBucketWins(t *testing.T) {
	l, _ := newTestLedger(t, []BucketConfig{
		{Pattern: "*:critical", MaxAlerts: 1, Window: time.Hour},
		{Pattern: "system:*", MaxAlerts: 100, Window: time.Hour},
	})

	l.Record("system", "critical")
	assert.True(t, l.ShouldSuppress("system", "critical"))
	// Non-critical system alerts land in the looser bucket.
	l.Record("system", "high")
	assert.False(t, l.ShouldSuppress("system", "high"))
}

func TestNewLedger_RejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  BucketConfig
	}{
		{"empty pattern", BucketConfig{MaxAlerts: 1, Window: time.Hour}},
		{"bad glob", BucketConfig{Pattern: "system:[", MaxAlerts: 1, Window: time.Hour}},
		{"zero max", BucketConfig{Pattern: "system:*", MaxAlerts: 0, Window: time.Hour}},
		{"zero window", BucketConfig{Pattern: "system:*", MaxAlerts: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLedger([]BucketConfig{tc.cfg}, nil)
			assert.Error(t, err)
		})
	}
}
