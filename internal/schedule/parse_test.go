package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeekdays(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  []string
		want []time.Weekday
	}{
		{name: "short names", raw: []string{"mon", "Wed"}, want: []time.Weekday{time.Monday, time.Wednesday}},
		{name: "long names", raw: []string{"Sunday", "saturday"}, want: []time.Weekday{time.Sunday, time.Saturday}},
		{name: "comma list", raw: []string{"fri, tue"}, want: []time.Weekday{time.Tuesday, time.Friday}},
		{name: "numbers", raw: []string{"0", "6"}, want: []time.Weekday{time.Sunday, time.Saturday}},
		{name: "duplicates", raw: []string{"mon", "monday", "1"}, want: []time.Weekday{time.Monday}},
		{name: "empty", raw: nil, want: []time.Weekday{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWeekdays(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseWeekdaysInvalidDegradesToEmpty(t *testing.T) {
	t.Parallel()
	got, err := ParseWeekdays([]string{"mon", "funday"})
	assert.Error(t, err)
	assert.Empty(t, got)

	got, err = ParseWeekdays([]string{"7"})
	assert.Error(t, err)
	assert.Empty(t, got)
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	got, err := ParseTimeOfDay("23:15:07")
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+15*time.Minute+7*time.Second, got)

	for _, bad := range []string{"", "24:00:00", "12:00", "noon"} {
		got, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
		assert.Zero(t, got, bad)
	}
}
