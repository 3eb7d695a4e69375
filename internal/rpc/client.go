// Package rpc is the JSON-RPC client used to talk to chain nodes.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultCallTimeout      = 30 * time.Second
	DefaultTransportRetries = 2
)

// ErrWindowTooLarge means the provider refused a log query because the block
// range produced too many results or took too long. Retrying the same range
// will not help; a smaller one might.
var ErrWindowTooLarge = errors.New("log query window too large")

// windowErrorTokens are provider messages for oversized eth_getLogs queries.
var windowErrorTokens = []string{
	"query returned more than",
	"more than 10000 results",
	"too many results",
	"log response size exceeded",
	"response size exceeded",
	"block range is too large",
	"block range too large",
	"range too large",
	"exceed maximum block range",
	"query timeout",
	"timed out",
	"timeout",
}

// Options configures Dial.
type Options struct {
	// CallTimeout bounds a single RPC call; an expired eth_getLogs counts as
	// ErrWindowTooLarge.
	CallTimeout time.Duration
	// TransportRetries is how often the HTTP layer retries 429/5xx answers.
	// Negative disables transport retries.
	TransportRetries int
	// RequestsPerSecond caps the call rate to the node. Zero is unlimited.
	RequestsPerSecond float64
	Burst             int
}

// Client wraps the go-ethereum ethclient for one chain.
type Client struct {
	*ethclient.Client

	raw         *gethrpc.Client
	chain       string
	callTimeout time.Duration
	limiter     *rate.Limiter
}

// Dial connects to url. HTTP endpoints go through a retrying transport that
// absorbs rate limiting answers before they reach the caller.
func Dial(ctx context.Context, chain, url string, opts Options) (*Client, error) {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	switch {
	case opts.TransportRetries == 0:
		opts.TransportRetries = DefaultTransportRetries
	case opts.TransportRetries < 0:
		opts.TransportRetries = 0
	}

	raw, err := gethrpc.DialOptions(ctx, url, gethrpc.WithHTTPClient(newHTTPClient(chain, opts)))
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
	}
	c := NewClient(chain, raw, opts.CallTimeout)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

// NewClient wraps an existing go-ethereum rpc client.
func NewClient(chain string, raw *gethrpc.Client, callTimeout time.Duration) *Client {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Client{
		Client:      ethclient.NewClient(raw),
		raw:         raw,
		chain:       chain,
		callTimeout: callTimeout,
	}
}

func newHTTPClient(chain string, opts Options) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = opts.TransportRetries
	client.Logger = nil
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		yes, err2 := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		if yes {
			fields := logrus.Fields{"chain": chain}
			if resp != nil {
				fields["status"] = resp.Status
			}
			logrus.WithFields(fields).Warnf("retrying request to RPC node: %v", err2)
		}
		return yes, err2
	}
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.HTTPClient.Timeout = opts.CallTimeout
	return client.StandardClient()
}

// Chain is the name of the chain this client talks to.
func (c *Client) Chain() string {
	return c.chain
}

// wait blocks until the rate limiter admits one more call.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// LatestBlockNumber fetches the chain head via eth_blockNumber.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.Client.BlockNumber(ctx)
}

// GetLogs runs eth_getLogs for address over [from, to], inclusive, filtered
// on topic[0]. Oversized queries fail with ErrWindowTooLarge.
func (c *Client) GetLogs(ctx context.Context, address common.Address, topics []common.Hash, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
	}
	if len(topics) > 0 {
		query.Topics = [][]common.Hash{topics}
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	logs, err := c.Client.FilterLogs(callCtx, query)
	if err != nil {
		return nil, ClassifyLogsError(ctx, err)
	}
	return logs, nil
}

// TransactionInput returns the 0x-prefixed calldata of a transaction.
func (c *Client) TransactionInput(ctx context.Context, hash common.Hash) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	tx, _, err := c.Client.TransactionByHash(ctx, hash)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(tx.Data()), nil
}

// ClassifyLogsError maps provider errors that call for a smaller block range
// to ErrWindowTooLarge. parent is the caller's context: its own cancellation
// is never reported as a window problem.
func ClassifyLogsError(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrWindowTooLarge, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrWindowTooLarge, err)
	}
	msg := strings.ToLower(err.Error())
	for _, token := range windowErrorTokens {
		if strings.Contains(msg, token) {
			return fmt.Errorf("%w: %w", ErrWindowTooLarge, err)
		}
	}
	return err
}
