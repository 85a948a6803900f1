package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// TxSigner signs transactions for the operator account.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// WalletConfig tunes transaction construction.
type WalletConfig struct {
	ChainID         *big.Int
	Pool            common.Address
	FlashLiquidator common.Address
	// GasBufferBps scales the node's gas estimate, e.g. 12000 for +20%.
	GasBufferBps uint64
	// ApprovalTimeout bounds the wait for an approve transaction. The wait
	// outlives cancellation of the caller's context.
	ApprovalTimeout time.Duration
}

// Wallet submits signed EIP-1559 transactions from the operator account and
// manages its token balances. It implements LiquidationSubmitter, GasOracle
// and DirectFunder.
type Wallet struct {
	client *Client
	signer TxSigner
	waiter domain.SettlementWaiter
	cfg    WalletConfig
	logger *slog.Logger

	// sendMu serialises nonce allocation and broadcast.
	sendMu sync.Mutex
}

// NewWallet creates a Wallet. waiter is used to confirm approvals.
func NewWallet(client *Client, signer TxSigner, waiter domain.SettlementWaiter, cfg WalletConfig, logger *slog.Logger) *Wallet {
	if cfg.GasBufferBps == 0 {
		cfg.GasBufferBps = 12_000
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = 2 * time.Minute
	}
	return &Wallet{
		client: client,
		signer: signer,
		waiter: waiter,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "wallet")),
	}
}

// Address returns the operator address.
func (w *Wallet) Address() common.Address { return w.signer.Address() }

// CurrentGasPrice implements domain.GasOracle.
func (w *Wallet) CurrentGasPrice(ctx context.Context) (*big.Int, error) {
	return w.client.CurrentGasPrice(ctx)
}

// SubmitLiquidation implements domain.LiquidationSubmitter by calling the
// pool's liquidationCall directly.
func (w *Wallet) SubmitLiquidation(ctx context.Context, call domain.LiquidationCall) (domain.SettlementHandle, error) {
	data, err := poolABI.Pack("liquidationCall", call.CollateralAsset, call.DebtAsset, call.User, call.DebtToCover, call.ReceiveUnderlying)
	if err != nil {
		return domain.SettlementHandle{}, fmt.Errorf("chain: pack liquidationCall: %w", err)
	}
	return w.send(ctx, w.cfg.Pool, data)
}

// SubmitFlashLoanLiquidation implements domain.LiquidationSubmitter through
// the flash liquidator contract.
func (w *Wallet) SubmitFlashLoanLiquidation(ctx context.Context, call domain.FlashLoanCall) (domain.SettlementHandle, error) {
	if (w.cfg.FlashLiquidator == common.Address{}) {
		return domain.SettlementHandle{}, fmt.Errorf("chain: flash liquidator not configured: %w", domain.ErrConfiguration)
	}
	data, err := flashLiquidatorABI.Pack("executeFlashLoan", call.Asset, call.Amount, call.Params)
	if err != nil {
		return domain.SettlementHandle{}, fmt.Errorf("chain: pack executeFlashLoan: %w", err)
	}
	return w.send(ctx, w.cfg.FlashLiquidator, data)
}

// BalanceOf implements domain.DirectFunder.
func (w *Wallet) BalanceOf(ctx context.Context, asset common.Address) (*big.Int, error) {
	vals, err := w.client.call(ctx, erc20ABI, asset, "balanceOf", w.Address())
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("chain: balanceOf returned %d values: %w", len(vals), domain.ErrReadError)
	}
	return asBig(vals[0])
}

// EnsureApproval implements domain.DirectFunder. When the pool's allowance
// is below amount it sends an approve and waits for it to settle.
func (w *Wallet) EnsureApproval(ctx context.Context, asset common.Address, amount *big.Int) error {
	vals, err := w.client.call(ctx, erc20ABI, asset, "allowance", w.Address(), w.cfg.Pool)
	if err != nil {
		return err
	}
	if len(vals) != 1 {
		return fmt.Errorf("chain: allowance returned %d values: %w", len(vals), domain.ErrReadError)
	}
	allowance, err := asBig(vals[0])
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	data, err := erc20ABI.Pack("approve", w.cfg.Pool, amount)
	if err != nil {
		return fmt.Errorf("chain: pack approve: %w", err)
	}
	handle, err := w.send(ctx, asset, data)
	if err != nil {
		return err
	}
	// The approve is already broadcast; see it through even on shutdown.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ApprovalTimeout)
	defer cancel()
	settled, err := w.waiter.AwaitSettlement(waitCtx, handle)
	if err != nil {
		return fmt.Errorf("chain: approve %s: %w", asset.Hex(), err)
	}
	if !settled.Success {
		return fmt.Errorf("chain: approve %s reverted: %w", asset.Hex(), domain.ErrSettlementFailed)
	}
	w.logger.InfoContext(ctx, "chain: approval settled",
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()),
		slog.String("tx", settled.Reference),
	)
	return nil
}

// send builds, signs and broadcasts a dynamic-fee transaction to to.
func (w *Wallet) send(ctx context.Context, to common.Address, data []byte) (domain.SettlementHandle, error) {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	from := w.Address()
	backend := w.client.backend

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return domain.SettlementHandle{}, fmt.Errorf("chain: pending nonce: %w", err)
	}
	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return domain.SettlementHandle{}, fmt.Errorf("chain: suggest tip: %w", err)
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return domain.SettlementHandle{}, fmt.Errorf("chain: latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      data,
	})
	if err != nil {
		return domain.SettlementHandle{}, fmt.Errorf("chain: estimate gas: %w", revertReason(err))
	}
	gas = gas * w.cfg.GasBufferBps / 10_000

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := w.signer.SignTx(tx)
	if err != nil {
		return domain.SettlementHandle{}, err
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return domain.SettlementHandle{}, fmt.Errorf("chain: send transaction: %w", err)
	}
	return domain.SettlementHandle{
		TxHash:      signed.Hash(),
		Nonce:       nonce,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// revertReason unwraps an execution-reverted error into its reason string
// when the node returned one.
func revertReason(err error) error {
	type dataError interface {
		ErrorData() any
	}
	de, ok := err.(dataError)
	if !ok {
		return err
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return err
	}
	reason, uerr := abi.UnpackRevert(common.FromHex(raw))
	if uerr != nil {
		return err
	}
	return fmt.Errorf("%w: %s", err, reason)
}

var (
	_ domain.LiquidationSubmitter = (*Wallet)(nil)
	_ domain.GasOracle            = (*Wallet)(nil)
	_ domain.DirectFunder         = (*Wallet)(nil)
)
