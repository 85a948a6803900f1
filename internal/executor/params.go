package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// liquidationParamsArgs is the ABI layout the flash-loan receiver decodes:
// abi.encode(address collateralAsset, address debtAsset, address user,
// uint256 debtToCover, bool receiveAToken).
var liquidationParamsArgs = func() abi.Arguments {
	addressT, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256T, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	boolT, err := abi.NewType("bool", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Name: "collateralAsset", Type: addressT},
		{Name: "debtAsset", Type: addressT},
		{Name: "user", Type: addressT},
		{Name: "debtToCover", Type: uint256T},
		{Name: "receiveAToken", Type: boolT},
	}
}()

// EncodeParams ABI-encodes p for the flash-loan receiver.
func EncodeParams(p domain.LiquidationParams) ([]byte, error) {
	if p.DebtToCover == nil || p.DebtToCover.Sign() < 0 {
		return nil, fmt.Errorf("executor: encode params: invalid debt to cover")
	}
	data, err := liquidationParamsArgs.Pack(p.CollateralAsset, p.DebtAsset, p.User, p.DebtToCover, p.ReceiveUnderlying)
	if err != nil {
		return nil, fmt.Errorf("executor: encode params: %w", err)
	}
	return data, nil
}

// DecodeParams reverses EncodeParams.
func DecodeParams(data []byte) (domain.LiquidationParams, error) {
	vals, err := liquidationParamsArgs.Unpack(data)
	if err != nil {
		return domain.LiquidationParams{}, fmt.Errorf("executor: decode params: %w", err)
	}
	if len(vals) != 5 {
		return domain.LiquidationParams{}, fmt.Errorf("executor: decode params: got %d values", len(vals))
	}
	collateral, ok1 := vals[0].(common.Address)
	debt, ok2 := vals[1].(common.Address)
	user, ok3 := vals[2].(common.Address)
	amount, ok4 := vals[3].(*big.Int)
	receive, ok5 := vals[4].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return domain.LiquidationParams{}, fmt.Errorf("executor: decode params: unexpected value types")
	}
	return domain.LiquidationParams{
		CollateralAsset:   collateral,
		DebtAsset:         debt,
		User:              user,
		DebtToCover:       amount,
		ReceiveUnderlying: receive,
	}, nil
}
