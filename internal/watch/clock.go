package watch

import (
	"sync"
	"time"
)

// Clock supplies the current time and periodic callbacks to the sampler.
type Clock interface {
	Now() time.Time
	// Every calls fn every d until the returned stop function is called.
	// stop is safe to call more than once.
	Every(d time.Duration, fn func()) (stop func())
}

type systemClock struct{}

// SystemClock returns a Clock backed by time.Now and time.Ticker.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
