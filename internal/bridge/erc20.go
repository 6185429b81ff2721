package bridge

import (
	"fmt"
	"math/big"
	"strings"
)

// ERC-20 function selectors.
const (
	selectorAllowance = "0xdd62ed3e" // allowance(address,address)
	selectorApprove   = "0x095ea7b3" // approve(address,uint256)
)

// padAddress left-pads a 0x address to a 32-byte ABI word.
func padAddress(addr string) string {
	return fmt.Sprintf("%064s", strings.ToLower(strings.TrimPrefix(addr, "0x")))
}

// padAmount left-pads an integer to a 32-byte ABI word in hex.
func padAmount(amount *big.Int) string {
	return fmt.Sprintf("%064s", amount.Text(16))
}

// AllowanceCalldata builds the calldata for allowance(owner, spender).
func AllowanceCalldata(owner, spender string) string {
	return selectorAllowance + padAddress(owner) + padAddress(spender)
}

// ApproveCalldata builds the calldata for approve(spender, amount).
func ApproveCalldata(spender string, amount *big.Int) string {
	return selectorApprove + padAddress(spender) + padAmount(amount)
}
