// Package ledger transfers ticket ownership tokens on the blockchain ledger.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/sdbondi/bn-api/order-service/circuitbreaker"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var ErrUnavailable = errors.New("ledger unavailable")

type Transferer interface {
	Transfer(ctx context.Context, senderSecret, senderPublic, assetID string, tokenIDs []int64, recipientPublic string) error
}

// TariClient issues transfers through the ledger's JSON-RPC endpoint.
type TariClient struct {
	url     string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	nextID  atomic.Int64
}

func NewTariClient(url string, httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *TariClient {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &TariClient{
		url:     strings.TrimRight(url, "/"),
		http:    httpClient,
		breaker: breaker,
		logger:  logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int64           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("ledger error %d: %s", e.Code, e.Message)
}

type transferParams struct {
	AssetID       string  `json:"asset_id"`
	FromPublicKey string  `json:"from"`
	FromSecretKey string  `json:"secret_key"`
	ToPublicKey   string  `json:"to"`
	TokenIDs      []int64 `json:"token_ids"`
}

// Transfer moves all tokenIDs of one asset in a single call.
func (c *TariClient) Transfer(ctx context.Context, senderSecret, senderPublic, assetID string, tokenIDs []int64, recipientPublic string) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "transfer_tokens",
		Params: transferParams{
			AssetID:       assetID,
			FromPublicKey: senderPublic,
			FromSecretKey: senderSecret,
			ToPublicKey:   recipientPublic,
			TokenIDs:      tokenIDs,
		},
		ID: c.nextID.Add(1),
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.call(ctx, req)
	})
	if err != nil {
		c.logger.Error("Ledger transfer failed",
			zap.String("asset_id", assetID),
			zap.Int("tokens", len(tokenIDs)),
			zap.Error(err),
		)
		return err
	}

	c.logger.Info("Ledger transfer completed",
		zap.String("asset_id", assetID),
		zap.Int("tokens", len(tokenIDs)),
	)
	return nil
}

func (c *TariClient) call(ctx context.Context, rpc rpcRequest) error {
	body, err := json.Marshal(rpc)
	if err != nil {
		return fmt.Errorf("failed to encode ledger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("invalid ledger response: %w", err)
	}
	if out.Error != nil {
		return out.Error
	}
	return nil
}
