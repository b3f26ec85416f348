package timewheel

import "time"

// default wheel: 100ms resolution, one round per minute
var tw = New(100*time.Millisecond, 600)

func init() {
	tw.Start()
}

// Delay runs job after duration
func Delay(duration time.Duration, key string, job func()) {
	tw.AddJob(duration, key, job)
}

// Cancel cancels the pending job of key
func Cancel(key string) {
	tw.RemoveJob(key)
}
