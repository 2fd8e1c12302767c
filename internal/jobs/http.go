package jobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bgtask/internal/task/dispatch"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPSpec describes one request.
type HTTPSpec struct {
	URL     string
	Method  string
	Timeout time.Duration
}

// HTTP returns work that requests spec.URL. Any status outside 2xx fails the
// attempt; 4xx other than 408 and 429 is not retried.
func HTTP(spec HTTPSpec, client *http.Client) dispatch.WorkFunc {
	if client == nil {
		client = &http.Client{}
	}
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return func(ctx context.Context, _ any) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, method, spec.URL, nil)
		if err != nil {
			return dispatch.NoRetry(err)
		}
		req.Header.Set("User-Agent", "bgtaskd")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		err = fmt.Errorf("%s %s: %s", method, spec.URL, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return dispatch.NoRetry(err)
		}
		return err
	}
}
