package sheetcalc

import (
	"math"
	"time"
)

// Dates travel on the wire as a floating-point day count with time of day
// in the fractional part. Day zero is 1899-12-31, one day before the
// start of year 1900. This mapping is uniform proleptic Gregorian: unlike
// the classic spreadsheet serial scheme there is no phantom 1900-02-29,
// so serials for dates before 1900-03-01 differ by one from
// bug-compatible implementations.
var serialEpoch = time.Date(1899, 12, 31, 0, 0, 0, 0, time.UTC)

const (
	secondsPerDay = 86400
	msPerDay      = 86400000
)

// PackDate returns the day serial for a calendar date.
func PackDate(year, month, day int) float64 {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return math.Round(t.Sub(serialEpoch).Hours() / 24)
}

// PackTime returns the day fraction for a time of day.
func PackTime(hours, minutes, seconds, milliseconds int) float64 {
	ms := ((hours*60+minutes)*60+seconds)*1000 + milliseconds
	return float64(ms) / msPerDay
}

// PackDateTime combines PackDate and PackTime into one serial.
func PackDateTime(year, month, day, hours, minutes, seconds, milliseconds int) float64 {
	return PackDate(year, month, day) + PackTime(hours, minutes, seconds, milliseconds)
}

// UnpackDate converts the integer part of a serial back into a calendar
// date. Round-trips exactly with PackDate.
func UnpackDate(serial float64) (year, month, day int) {
	t := serialEpoch.AddDate(0, 0, int(math.Floor(serial)))
	return t.Year(), int(t.Month()), t.Day()
}

// UnpackTime converts the fractional part of a serial back into a time of
// day, rounded to the nearest millisecond. Round-trips exactly with
// PackTime for whole-second and whole-millisecond inputs.
func UnpackTime(serial float64) (hours, minutes, seconds, milliseconds int) {
	frac := serial - math.Floor(serial)
	ms := int(math.Round(frac * msPerDay))
	if ms >= msPerDay {
		ms = 0
	}
	milliseconds = ms % 1000
	totalSeconds := ms / 1000
	seconds = totalSeconds % 60
	minutes = (totalSeconds / 60) % 60
	hours = totalSeconds / 3600
	return hours, minutes, seconds, milliseconds
}

// UnpackDateTime splits a serial into its full calendar components.
func UnpackDateTime(serial float64) (year, month, day, hours, minutes, seconds, milliseconds int) {
	year, month, day = UnpackDate(serial)
	hours, minutes, seconds, milliseconds = UnpackTime(serial)
	return year, month, day, hours, minutes, seconds, milliseconds
}

// SerialFromTime converts a time.Time into a day serial, keeping
// millisecond precision.
func SerialFromTime(t time.Time) float64 {
	t = t.UTC()
	days := PackDate(t.Year(), int(t.Month()), t.Day())
	return days + PackTime(t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond))
}

// TimeFromSerial converts a day serial into a UTC time.Time.
func TimeFromSerial(serial float64) time.Time {
	year, month, day, hours, minutes, seconds, milliseconds := UnpackDateTime(serial)
	return time.Date(year, time.Month(month), day, hours, minutes, seconds,
		milliseconds*int(time.Millisecond), time.UTC)
}
