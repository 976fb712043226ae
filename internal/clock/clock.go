// Package clock abstracts time for components that stamp records and files.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System implements Clock using time.Now.
type System struct{}

// Now returns the current local time.
func (System) Now() time.Time {
	return time.Now()
}
