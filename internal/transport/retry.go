package transport

import "time"

var sleep = time.Sleep

// Retry calls fn until it succeeds or attempts calls have been made, sleeping
// delay between attempts. It returns the last error. attempts < 1 is treated
// as 1.
func Retry(attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && delay > 0 {
			sleep(delay)
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
