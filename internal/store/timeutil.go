package store

import "time"

// unixMilliToTime converts the integer-milliseconds-since-epoch storage
// representation back to a UTC time.Time. Instants are stored as
// integer milliseconds on disk and converted at the edges rather than
// relying on implicit string parsing.
func unixMilliToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
