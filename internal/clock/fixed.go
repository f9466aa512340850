package clock

import "time"

// Fixed is a Clock test double that always reports the same instant.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }
