package model

import "time"

// TokenMeta captures ERC20 metadata resolved via eth_call.
type TokenMeta struct {
	Symbol    string
	Decimals  uint8
	FetchedAt time.Time
}
