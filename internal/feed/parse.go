package feed

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/shaonianu-ab/binance-short-bot/internal/model"
)

// transferTopic0 is keccak256("Transfer(address,address,uint256)").
var transferTopic0 = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// paddedAddressTopic left-pads a 20-byte address into a 32-byte topic word.
func paddedAddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

type logNotification struct {
	Method string `json:"method"`
	Params struct {
		Result *rawLog `json:"result"`
	} `json:"params"`
}

type rawLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     string   `json:"blockNumber"`
}

// transferParser turns log-notification frames into TransferEvents
// addressed to the watched recipient. Anything malformed or addressed
// elsewhere is dropped; the socket carries unrelated frames too
// (subscription acks, provider keepalives).
type transferParser struct {
	watch common.Address
}

func newTransferParser(watch common.Address) *transferParser {
	return &transferParser{watch: watch}
}

func (p *transferParser) Parse(msg []byte) (model.TransferEvent, bool) {
	var note logNotification
	if err := json.Unmarshal(msg, &note); err != nil {
		return model.TransferEvent{}, false
	}
	result := note.Params.Result
	if result == nil {
		return model.TransferEvent{}, false
	}

	if len(result.Topics) < 3 {
		return model.TransferEvent{}, false
	}
	if !common.IsHexAddress(result.Address) {
		return model.TransferEvent{}, false
	}

	from, ok := topicToAddress(result.Topics[1])
	if !ok {
		return model.TransferEvent{}, false
	}
	to, ok := topicToAddress(result.Topics[2])
	if !ok {
		return model.TransferEvent{}, false
	}
	if to != p.watch {
		return model.TransferEvent{}, false
	}

	amount, ok := hexQuantity(result.Data)
	if !ok {
		return model.TransferEvent{}, false
	}
	blockNum, ok := hexQuantity(result.BlockNumber)
	if !ok || !blockNum.IsUint64() {
		return model.TransferEvent{}, false
	}

	return model.TransferEvent{
		TokenContract: common.HexToAddress(result.Address),
		From:          from,
		To:            to,
		AmountRaw:     amount,
		TxHash:        result.TransactionHash,
		BlockNumber:   blockNum.Uint64(),
	}, true
}

// topicToAddress takes the low 20 bytes of a 32-byte topic word.
func topicToAddress(topic string) (common.Address, bool) {
	raw := strings.TrimPrefix(topic, "0x")
	if len(raw) != 64 {
		return common.Address{}, false
	}
	hash := common.HexToHash(topic)
	return common.BytesToAddress(hash[12:]), true
}

// hexQuantity decodes a 0x-prefixed big-endian hex integer. Log data
// words carry leading zeros, so strict quantity decoding won't do.
func hexQuantity(s string) (*big.Int, bool) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if raw == "" {
		return big.NewInt(0), true
	}
	n, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, false
	}
	return n, true
}
