package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestRetryCondition(t *testing.T) {
	respWithCode := func(code int) *resty.Response {
		return &resty.Response{RawResponse: &http.Response{StatusCode: code}}
	}

	cases := []struct {
		name  string
		resp  *resty.Response
		err   error
		retry bool
	}{
		{"network error", nil, errors.New("connection refused"), true},
		{"context canceled", nil, context.Canceled, false},
		{"deadline exceeded", nil, context.DeadlineExceeded, false},
		{"server error", respWithCode(http.StatusServiceUnavailable), nil, true},
		{"client error", respWithCode(http.StatusNotFound), nil, false},
		{"success", respWithCode(http.StatusOK), nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.retry, RetryCondition(tc.resp, tc.err))
		})
	}
}
