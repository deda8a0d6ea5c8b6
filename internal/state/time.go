package state

import "time"

// timeNow is swapped in tests to control timestamps and durations.
var timeNow = func() time.Time { return time.Now().UTC() }
