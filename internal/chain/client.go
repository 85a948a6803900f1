// Package chain implements the protocol, oracle, submission and settlement
// ports on top of an Ethereum JSON-RPC endpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// Backend is the subset of the go-ethereum client the adapters use.
// *ethclient.Client satisfies it.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.LogFilterer
	ethereum.TransactionSender
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client throttles reads to one RPC endpoint and packs/unpacks contract calls.
type Client struct {
	backend Backend
	limiter *rate.Limiter
	closer  func()
}

// Dial connects to rpcURL. rps limits read calls per second; zero disables
// throttling.
func Dial(ctx context.Context, rpcURL string, rps float64) (*Client, error) {
	trimmed := strings.TrimSpace(rpcURL)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc url required: %w", domain.ErrConfiguration)
	}
	ec, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", trimmed, err)
	}
	c := NewClient(ec, rps)
	c.closer = ec.Close
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, rps float64) *Client {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &Client{
		backend: backend,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Backend returns the underlying RPC backend.
func (c *Client) Backend() Backend { return c.backend }

// Close releases the RPC connection when the client owns it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Ping verifies the endpoint answers and returns its chain id.
func (c *Client) Ping(ctx context.Context) (*big.Int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: chain id: %w: %v", domain.ErrReadError, err)
	}
	return id, nil
}

// CurrentGasPrice implements domain.GasOracle with the node's suggestion, so
// read-only modes can price gas without a wallet.
func (c *Client) CurrentGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest gas price: %w: %v", domain.ErrReadError, err)
	}
	return price, nil
}

// call packs method on contract, executes it at the latest block and unpacks
// the result. Errors wrap domain.ErrReadError.
func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("chain: %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s on %s: %w: %v", method, to.Hex(), domain.ErrReadError, err)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w: %v", method, domain.ErrReadError, err)
	}
	return vals, nil
}

// wait blocks on the read limiter.
func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

var errUnexpectedType = errors.New("unexpected return type")

func asBig(v any) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: %w: %T", errUnexpectedType, v)
	}
	return b, nil
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("chain: %w: %T", errUnexpectedType, v)
	}
	return b, nil
}
