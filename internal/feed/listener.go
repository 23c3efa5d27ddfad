package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shaonianu-ab/binance-short-bot/internal/model"
)

// Options tunes the reconnect loop.
type Options struct {
	BackoffMin time.Duration
	BackoffMax time.Duration
	AckTimeout time.Duration
	OutBuffer  int
}

func (o Options) withDefaults() Options {
	if o.BackoffMin <= 0 {
		o.BackoffMin = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 3 * time.Second
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 5 * time.Second
	}
	if o.OutBuffer < 0 {
		o.OutBuffer = 0
	}
	return o
}

// Listener subscribes to ERC20 Transfer logs addressed to one recipient
// over a JSON-RPC WebSocket and re-subscribes on any transport failure.
type Listener struct {
	wsURL  string
	watch  common.Address
	opts   Options
	logger *zap.Logger

	parser *transferParser
}

// NewListener builds a Listener for the watched address.
func NewListener(wsURL string, watch common.Address, opts Options, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		wsURL:  wsURL,
		watch:  watch,
		opts:   opts.withDefaults(),
		logger: logger,
		parser: newTransferParser(watch),
	}
}

// Listen connects, subscribes, and emits transfers until ctx is done.
// The returned channel closes on cancellation; transport failures are
// retried internally with doubling backoff, reset on every successful
// subscription.
func (l *Listener) Listen(ctx context.Context) <-chan model.TransferEvent {
	out := make(chan model.TransferEvent, l.opts.OutBuffer)

	go func() {
		defer close(out)

		backoff := l.opts.BackoffMin
		for {
			if ctx.Err() != nil {
				return
			}

			err := l.runSession(ctx, out, &backoff)
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("ws disconnected", zap.Error(err))

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff = nextBackoff(backoff, l.opts.BackoffMax)
		}
	}()

	return out
}

// runSession dials, subscribes, and pumps frames until the connection
// fails. A successful subscription resets backoff to the floor.
func (l *Listener) runSession(ctx context.Context, out chan<- model.TransferEvent, backoff *time.Duration) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock the reader when the caller cancels.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	subID, err := l.subscribe(conn)
	if err != nil {
		return err
	}
	*backoff = l.opts.BackoffMin
	l.logger.Info("subscribed", zap.String("subscription", subID))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		evt, ok := l.parser.Parse(msg)
		if !ok {
			continue
		}

		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type subscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type subscribeAck struct {
	Result string          `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// subscribe sends eth_subscribe for Transfer logs whose `to` topic is
// the zero-padded watched address and validates the acknowledgment.
func (l *Listener) subscribe(conn *websocket.Conn) (string, error) {
	req := subscribeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params: []any{
			"logs",
			map[string]any{
				"topics": []any{
					transferTopic0.Hex(),
					nil,
					paddedAddressTopic(l.watch).Hex(),
				},
			},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return "", fmt.Errorf("subscribe write: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(l.opts.AckTimeout)); err != nil {
		return "", fmt.Errorf("subscribe deadline: %w", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("subscribe ack read: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("clear deadline: %w", err)
	}

	var ack subscribeAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return "", fmt.Errorf("subscribe ack decode: %w", err)
	}
	if ack.Result == "" {
		return "", fmt.Errorf("subscribe failed: %s", string(raw))
	}
	return ack.Result, nil
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
