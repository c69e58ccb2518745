package wire

import "time"

// DeadlineExceeded reports whether a request created at createdAt with the
// given timeout has expired at now. Without a timeout it never expires.
func DeadlineExceeded(createdAt time.Time, timeout time.Duration, hasTimeout bool, now time.Time) bool {
	return hasTimeout && now.After(createdAt.Add(timeout))
}

// Deadline returns the absolute expiry instant, if any.
func Deadline(createdAt time.Time, timeout time.Duration, hasTimeout bool) (time.Time, bool) {
	if !hasTimeout {
		return time.Time{}, false
	}
	return createdAt.Add(timeout), true
}
