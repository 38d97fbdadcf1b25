package board

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWatermark(t *testing.T) {
	tests := []struct {
		raw     string
		initial bool
		want    time.Time
	}{
		{"0", true, time.Time{}},
		{"", true, time.Time{}},
		{"2016-05-01 12:30:00", false, time.Date(2016, 5, 1, 12, 30, 0, 0, time.UTC)},
		{"2016-05-01 12:30:00.250000", false, time.Date(2016, 5, 1, 12, 30, 0, 250000000, time.UTC)},
		{"2016-05-01T12:30:00Z", false, time.Date(2016, 5, 1, 12, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			w := ParseWatermark(tt.raw)
			assert.Equal(t, tt.initial, w.IsInitial())
			assert.True(t, tt.want.Equal(w.Time()))
		})
	}

	assert.Equal(t, "0", InitialWatermark().String())
	assert.Equal(t, "2016-05-01 12:30:00", ParseWatermark("2016-05-01 12:30:00").String())
}

func TestWatermark_Ordering(t *testing.T) {
	early := ParseWatermark("2016-05-01 12:30:00")
	late := ParseWatermark("2016-05-01 12:30:00.5")

	assert.True(t, late.After(early))
	assert.False(t, early.After(late))
	assert.False(t, early.After(early))
	assert.True(t, early.After(InitialWatermark()))
	assert.False(t, InitialWatermark().After(early))

	// unparseable values order textually
	assert.True(t, ParseWatermark("b").After(ParseWatermark("a")))
}

func TestWatermark_AdvanceNeverRegresses(t *testing.T) {
	base := time.Date(2016, 5, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(7))

	w := InitialWatermark()
	var maxSeen time.Time
	for i := 0; i < 500; i++ {
		ts := base.Add(time.Duration(rng.Intn(10000)) * time.Second)
		before := w
		w.Advance(ParseWatermark(ts.Format("2006-01-02 15:04:05")))

		require.False(t, before.After(w), "watermark regressed at step %d", i)
		if ts.After(maxSeen) {
			maxSeen = ts
		}
		require.True(t, maxSeen.Equal(w.Time()))
	}

	assert.False(t, w.Advance(InitialWatermark()))
}
