package zipkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMsDosTimeRoundTripAtTwoSecondResolution(t *testing.T) {
	in := time.Date(2023, time.March, 14, 9, 26, 30, 0, time.UTC)
	date, tm := timeToMsDosTime(in)
	out := msDosTimeToTime(date, tm)
	assert.True(t, in.Equal(out))
}

func TestMsDosTimeOddSecondsRoundDown(t *testing.T) {
	in := time.Date(2023, time.March, 14, 9, 26, 31, 0, time.UTC)
	date, tm := timeToMsDosTime(in)
	out := msDosTimeToTime(date, tm)
	assert.True(t, out.Before(in))
	assert.Equal(t, 30, out.Second())
}

func TestMsDosTimeSaturatesYearsBefore1980(t *testing.T) {
	in := time.Date(1965, time.June, 1, 0, 0, 0, 0, time.UTC)
	date, tm := timeToMsDosTime(in)
	out := msDosTimeToTime(date, tm)
	assert.Equal(t, 1980, out.Year())
	assert.Equal(t, time.June, out.Month())
	assert.Equal(t, 1, out.Day())
}
