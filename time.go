package auth

import "time"

// withinWindow reports whether t happened less than window before now
func withinWindow(now, t time.Time, window time.Duration) bool {
	return t.After(now.Add(-window))
}
