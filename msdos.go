// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import "time"

// timeToMsDosTime converts a time.Time to an MS-DOS date and time.
// The resolution is 2s. Years before 1980, the format's epoch, saturate
// to 1980 rather than underflowing into a bogus date.
func timeToMsDosTime(t time.Time) (fDate uint16, fTime uint16) {
	year := t.Year()
	if year < 1980 {
		year = 1980
	}
	fDate = uint16(t.Day() + int(t.Month())<<5 + (year-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

// msDosTimeToTime converts an MS-DOS date and time back to a time.Time in
// UTC, the reverse of timeToMsDosTime.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		int(dosDate>>9)+1980,
		time.Month((dosDate>>5)&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int((dosTime>>5)&0x3f),
		int(dosTime&0x1f)*2,
		0,
		time.UTC,
	)
}
