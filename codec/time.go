package codec

import "time"

func unixNanoToTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func durationFromNanos(nanos int64) time.Duration {
	return time.Duration(nanos)
}
