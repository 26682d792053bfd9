package apitesting

import (
	"strings"
	"time"
)

// retryContainerStart runs start up to 3 times while it fails with a
// retryable docker error.
func retryContainerStart(start func() error) error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		lastErr = start()
		if lastErr == nil {
			return nil
		}
		if !isRetryableContainerStartErr(lastErr) || attempt == 3 {
			break
		}
		time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
	}
	return lastErr
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json") ||
		strings.Contains(s, "Get \"http://%2Fvar%2Frun%2Fdocker.sock")
}
