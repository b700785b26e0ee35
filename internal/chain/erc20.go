package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// The read-only slice of the ERC-20 interface this package needs.
const erc20ABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"name":"Transfer","type":"event","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

var (
	parsedERC20 = func() abi.ABI {
		parsed, err := abi.JSON(strings.NewReader(erc20ABI))
		if err != nil {
			panic("erc20 abi: " + err.Error())
		}
		return parsed
	}()

	// transferEventTopic is keccak256("Transfer(address,address,uint256)").
	transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// RequiredMinorUnits converts a human-readable token price into the
// token's minor units using its on-chain decimals. Fractional results
// round up so the transfer never under-pays.
func RequiredMinorUnits(price decimal.Decimal, decimals uint8) *big.Int {
	shifted := price.Shift(int32(decimals))
	if shifted.IsInteger() {
		return shifted.BigInt()
	}
	return shifted.Ceil().BigInt()
}

// HasSufficientBalance reports whether balance covers the required amount.
func HasSufficientBalance(balance, required *big.Int) bool {
	return balance.Cmp(required) >= 0
}

// FormatMinorUnits renders a minor-unit amount as a human-readable token
// amount using the given decimals, for error messages and logs.
func FormatMinorUnits(amount *big.Int, decimals uint8) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseTransferLog decodes a Transfer event log into (from, to, value).
func ParseTransferLog(topics []common.Hash, data []byte) (common.Address, common.Address, *big.Int, error) {
	if len(topics) != 3 || topics[0] != transferEventTopic {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("not a transfer event")
	}

	values, err := parsedERC20.Events["Transfer"].Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("decode transfer data: %w", err)
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("transfer value has unexpected type %T", values[0])
	}

	from := common.BytesToAddress(topics[1].Bytes())
	to := common.BytesToAddress(topics[2].Bytes())
	return from, to, value, nil
}
