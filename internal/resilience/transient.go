package resilience

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// ErrNetworkTimeout - сетевой сбой/таймаут, переживший бюджет ретраев.
var ErrNetworkTimeout = errors.New("upstream network timeout")

// RetryCondition - условие повтора для resty: сетевые ошибки и 5xx.
// Отмену контекста не повторяем.
func RetryCondition(r *resty.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}
	return r.StatusCode() >= http.StatusInternalServerError
}
