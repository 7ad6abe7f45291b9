// Package chain provides a read-only EVM JSON-RPC client used for provider
// wallet balance lookups. The gateway never signs or submits transactions;
// settlement is the facilitator's job.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// balanceOf(address) selector.
const balanceOfSelector = "0x70a08231"

var weiPerEth = decimal.New(1, 18)

// Client provides read-only EVM RPC calls.
type Client struct {
	rpcURL         string
	stableContract string
	httpClient     *http.Client
}

// Config holds client configuration.
type Config struct {
	RPCURL         string
	StableContract string
	Timeout        time.Duration
}

// Balances holds a wallet's native and stable-token balances, rendered as
// human-readable decimal strings.
type Balances struct {
	ETH  string `json:"ETH"`
	USDC string `json:"USDC"`
}

// ZeroBalances is the degraded result when the RPC node is unreachable.
func ZeroBalances() Balances {
	return Balances{ETH: "0.000000", USDC: "0.00"}
}

// NewClient creates a read-only chain client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		rpcURL:         cfg.RPCURL,
		stableContract: cfg.StableContract,
		httpClient:     &http.Client{Timeout: timeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// Call makes a JSON-RPC call and returns the raw result field.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (gjson.Result, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}

	parsed := gjson.ParseBytes(respBody)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		return gjson.Result{}, fmt.Errorf("rpc error %d: %s",
			rpcErr.Get("code").Int(), rpcErr.Get("message").String())
	}
	return parsed.Get("result"), nil
}

// EthBalance returns the native balance of address, rendered with six
// decimal places.
func (c *Client) EthBalance(ctx context.Context, address string) (string, error) {
	result, err := c.Call(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return "", err
	}
	wei, err := parseHexQuantity(result.String())
	if err != nil {
		return "", fmt.Errorf("parse balance: %w", err)
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEth).StringFixed(6), nil
}

// StableBalance returns the stable-token balance of address via an eth_call
// of balanceOf, rendered with two decimal places.
func (c *Client) StableBalance(ctx context.Context, address string) (string, error) {
	addrHex := strings.TrimPrefix(strings.ToLower(address), "0x")
	data := balanceOfSelector + strings.Repeat("0", 64-len(addrHex)) + addrHex
	callObj := map[string]string{"to": c.stableContract, "data": data}

	result, err := c.Call(ctx, "eth_call", []interface{}{callObj, "latest"})
	if err != nil {
		return "", err
	}
	atomic, err := parseHexQuantity(result.String())
	if err != nil {
		return "", fmt.Errorf("parse balance: %w", err)
	}
	return decimal.NewFromBigInt(atomic, 0).Div(decimal.New(1, 6)).StringFixed(2), nil
}

// WalletBalances fetches both balances, degrading to zeros on failure
// rather than failing the caller.
func (c *Client) WalletBalances(ctx context.Context, address string) Balances {
	balances := ZeroBalances()
	if eth, err := c.EthBalance(ctx, address); err == nil {
		balances.ETH = eth
	}
	if usdc, err := c.StableBalance(ctx, address); err == nil {
		balances.USDC = usdc
	}
	return balances
}

func parseHexQuantity(hex string) (*big.Int, error) {
	hex = strings.TrimSpace(hex)
	trimmed := strings.TrimPrefix(hex, "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", hex)
	}
	return value, nil
}
