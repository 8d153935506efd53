package auth

import "time"

// Clock abstracts time for testability.
type Clock interface { // A
	Now() time.Time
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

type realClock struct{} // A

// Now returns the current time.
func (realClock) Now() time.Time { // A
	return time.Now()
}
