package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sdbondi/bn-api/order-service/circuitbreaker"
	"github.com/sdbondi/bn-api/order-service/errs"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 1 << 20

// apiClient performs provider calls behind a circuit breaker. Transport
// failures and 5xx responses count against the breaker; provider rejections
// do not.
type apiClient struct {
	provider string
	http     *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	// decodeError turns a non-2xx body into a provider message.
	decodeError func(body []byte) string
}

func newAPIClient(provider string, httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker, decodeError func([]byte) string) *apiClient {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &apiClient{provider: provider, http: httpClient, breaker: breaker, decodeError: decodeError}
}

// IsUnavailable reports whether err should trip a provider circuit breaker.
func IsUnavailable(err error) bool {
	return errs.Is(err, errs.KindProcessorUnavailable)
}

func (c *apiClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	var body []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			return errs.ProcessorUnavailable(fmt.Sprintf("%s is unavailable", c.provider), err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return errs.ProcessorUnavailable(fmt.Sprintf("%s is unavailable", c.provider), err)
		}

		switch {
		case resp.StatusCode >= 500:
			return errs.ProcessorUnavailable(fmt.Sprintf("%s is unavailable", c.provider),
				fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			msg := c.decodeError(body)
			if msg == "" {
				msg = fmt.Sprintf("%s rejected the request", c.provider)
			}
			return errs.Provider(msg, fmt.Errorf("status %d", resp.StatusCode))
		}
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return nil, errs.ProcessorUnavailable(fmt.Sprintf("%s is unavailable", c.provider), err)
	}
	return body, err
}
