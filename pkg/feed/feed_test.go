package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
	"github.com/common-cold/onchain-orderbook/pkg/app/core/orderbook"
)

var testMarket = common.HexToAddress("0xaa")

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func sampleEvents() []events.Event {
	return []events.Event{
		{Type: events.Fill, Side: orderbook.Ask, Maker: common.HexToAddress("0x01"), Taker: common.HexToAddress("0x02"), CoinQty: 5, PcQty: 50, MakerOrderID: 3},
		{Type: events.Out, Side: orderbook.Bid, Maker: common.HexToAddress("0x02"), Taker: common.HexToAddress("0x02"), CoinQty: 1, PcQty: 9, MakerOrderID: 4},
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.Publish(context.Background(), testMarket, sampleEvents()))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, testMarket.Hex(), string(w.msgs[0].Key))

	var msg EventMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	assert.Equal(t, "fill", msg.Type)
	assert.Equal(t, "ask", msg.Side)
	assert.Equal(t, uint64(50), msg.PcQty)

	require.NoError(t, p.Publish(context.Background(), testMarket, nil))
	assert.Len(t, w.msgs, 2)
}

func TestKafkaPublisher_Error(t *testing.T) {
	p := &KafkaPublisher{writer: &captureWriter{err: errors.New("broker down")}}
	err := p.Publish(context.Background(), testMarket, sampleEvents())
	require.ErrorContains(t, err, "broker down")
}

type countingPublisher struct {
	n   int
	err error
}

func (c *countingPublisher) Publish(_ context.Context, _ common.Address, evs []events.Event) error {
	c.n += len(evs)
	return c.err
}

func TestMulti(t *testing.T) {
	a := &countingPublisher{}
	b := &countingPublisher{err: errors.New("b failed")}
	m := Multi{a, b, NopPublisher{}}

	err := m.Publish(context.Background(), testMarket, sampleEvents())
	require.ErrorContains(t, err, "b failed")
	assert.Equal(t, 2, a.n)
	assert.Equal(t, 2, b.n)
}
