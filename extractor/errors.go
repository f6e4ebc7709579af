package extractor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"deal-scraper/adapters"
	"deal-scraper/utils"
)

// ErrNavigationTimeout indicates a page never loaded within the retry budget.
type ErrNavigationTimeout struct {
	URL      string
	Attempts int
	Err      error
}

func (e ErrNavigationTimeout) Error() string {
	return fmt.Sprintf("navigation timeout after %d attempts on %s: %v", e.Attempts, e.URL, e.Err)
}

func (e ErrNavigationTimeout) Unwrap() error {
	return e.Err
}

// ErrCaptchaBlock indicates a CAPTCHA was still served after waiting once.
type ErrCaptchaBlock struct {
	URL string
}

func (e ErrCaptchaBlock) Error() string {
	return fmt.Sprintf("captcha still present on %s after wait", e.URL)
}

// ErrNavigation indicates a navigation failure that retrying will not fix.
type ErrNavigation struct {
	URL string
	Err error
}

func (e ErrNavigation) Error() string {
	return fmt.Sprintf("navigation failed on %s: %v", e.URL, e.Err)
}

func (e ErrNavigation) Unwrap() error {
	return e.Err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// transientLoadErrors are Chrome net error codes worth another attempt.
// chromedp reports them only as text ("page load error net::ERR_TIMED_OUT").
var transientLoadErrors = []string{
	"net::ERR_TIMED_OUT",
	"net::ERR_CONNECTION_TIMED_OUT",
	"net::ERR_PROXY_CONNECTION_FAILED",
	"net::ERR_CONNECTION_RESET",
}

// isTransient reports whether a failed navigation should be retried with
// backoff: timeouts, transient browser network errors, and throttling or
// server error statuses.
func isTransient(err error) bool {
	if isTimeout(err) {
		return true
	}
	var status utils.StatusError
	if errors.As(err, &status) {
		return status.Code == http.StatusTooManyRequests || status.Code >= 500
	}
	msg := err.Error()
	for _, code := range transientLoadErrors {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrNavigationTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var captcha ErrCaptchaBlock
	if errors.As(err, &captcha) {
		return "captcha"
	}
	var status utils.StatusError
	if errors.As(err, &status) {
		return "status"
	}
	var extraction adapters.ExtractionError
	if errors.As(err, &extraction) {
		return "extraction"
	}
	if isTimeout(err) {
		return "timeout"
	}
	var nav ErrNavigation
	if errors.As(err, &nav) {
		return "navigation"
	}
	return "other"
}
