package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferEvent is one inbound ERC20 transfer to the watched address.
// Immutable once built by the feed.
type TransferEvent struct {
	TokenContract common.Address
	From          common.Address
	To            common.Address
	AmountRaw     *big.Int
	TxHash        string
	BlockNumber   uint64
}
