package feed

import (
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var watch = common.HexToAddress("0x1111111111111111111111111111111111111111")

func notification(topics []string, data, txHash, blockNumber string) []byte {
	t := "["
	for i, topic := range topics {
		if i > 0 {
			t += ","
		}
		t += fmt.Sprintf("%q", topic)
	}
	t += "]"
	return []byte(fmt.Sprintf(`{
		"jsonrpc": "2.0",
		"method": "eth_subscription",
		"params": {
			"subscription": "0xsub1",
			"result": {
				"address": "0x2222222222222222222222222222222222222222",
				"topics": %s,
				"data": %q,
				"transactionHash": %q,
				"blockNumber": %q
			}
		}
	}`, t, data, txHash, blockNumber))
}

func watchedTopics() []string {
	return []string{
		transferTopic0.Hex(),
		paddedAddressTopic(common.HexToAddress("0x3333333333333333333333333333333333333333")).Hex(),
		paddedAddressTopic(watch).Hex(),
	}
}

func TestParseWellFormedTransfer(t *testing.T) {
	p := newTransferParser(watch)

	// 1000 * 10^18, exceeds uint64.
	amount := new(big.Int)
	amount.SetString("3635c9adc5dea00000", 16)
	data := "0x" + strings.Repeat("0", 64-len("3635c9adc5dea00000")) + "3635c9adc5dea00000"

	evt, ok := p.Parse(notification(watchedTopics(), data, "0xabc", "0x22b8"))
	if !ok {
		t.Fatalf("expected parse success")
	}
	if evt.To != watch {
		t.Fatalf("to = %s", evt.To.Hex())
	}
	if evt.From != common.HexToAddress("0x3333333333333333333333333333333333333333") {
		t.Fatalf("from = %s", evt.From.Hex())
	}
	if evt.AmountRaw.Cmp(amount) != 0 {
		t.Fatalf("amount = %s, want %s", evt.AmountRaw, amount)
	}
	if evt.BlockNumber != 0x22b8 {
		t.Fatalf("block = %d", evt.BlockNumber)
	}
	if evt.TxHash != "0xabc" {
		t.Fatalf("tx = %s", evt.TxHash)
	}
}

func TestParseDropsOtherRecipient(t *testing.T) {
	p := newTransferParser(watch)

	other := common.HexToAddress("0x4444444444444444444444444444444444444444")
	topics := watchedTopics()
	topics[2] = paddedAddressTopic(other).Hex()

	if _, ok := p.Parse(notification(topics, "0x1", "0xabc", "0x1")); ok {
		t.Fatalf("expected drop for other recipient")
	}
}

func TestParseDropsShortTopics(t *testing.T) {
	p := newTransferParser(watch)

	topics := watchedTopics()[:2]
	if _, ok := p.Parse(notification(topics, "0x1", "0xabc", "0x1")); ok {
		t.Fatalf("expected drop for <3 topics")
	}
}

func TestParseDropsNonNotificationFrames(t *testing.T) {
	p := newTransferParser(watch)

	frames := [][]byte{
		[]byte(`{"jsonrpc":"2.0","id":1,"result":"0xsub1"}`),
		[]byte(`not json at all`),
		[]byte(`{}`),
		[]byte(`{"params":{}}`),
	}
	for _, frame := range frames {
		if _, ok := p.Parse(frame); ok {
			t.Fatalf("expected drop for frame %s", frame)
		}
	}
}

func TestParseDropsMalformedAmount(t *testing.T) {
	p := newTransferParser(watch)

	if _, ok := p.Parse(notification(watchedTopics(), "0xZZ", "0xabc", "0x1")); ok {
		t.Fatalf("expected drop for bad amount hex")
	}
}

func TestHexQuantityLeadingZeros(t *testing.T) {
	n, ok := hexQuantity("0x00000000000000000000000000000000000000000000003635c9adc5dea00000")
	if !ok {
		t.Fatalf("expected decode success")
	}
	want := new(big.Int)
	want.SetString("3635c9adc5dea00000", 16)
	if n.Cmp(want) != 0 {
		t.Fatalf("got %s want %s", n, want)
	}
}

func TestPaddedAddressTopic(t *testing.T) {
	got := paddedAddressTopic(watch).Hex()
	want := "0x0000000000000000000000001111111111111111111111111111111111111111"
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
