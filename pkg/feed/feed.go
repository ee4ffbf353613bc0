package feed

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/common-cold/onchain-orderbook/pkg/app/core/events"
)

// EventMessage is the published form of a drained event.
type EventMessage struct {
	Market         string `json:"market"`
	Type           string `json:"type"`
	Side           string `json:"side"`
	Maker          string `json:"maker"`
	Taker          string `json:"taker"`
	CoinQty        uint64 `json:"coinQty"`
	PcQty          uint64 `json:"pcQty"`
	MakerOrderID   uint64 `json:"makerOrderId"`
	MakerRemaining uint64 `json:"makerRemaining"`
}

func NewEventMessage(market common.Address, e events.Event) EventMessage {
	return EventMessage{
		Market:         market.Hex(),
		Type:           e.Type.String(),
		Side:           e.Side.String(),
		Maker:          e.Maker.Hex(),
		Taker:          e.Taker.Hex(),
		CoinQty:        e.CoinQty,
		PcQty:          e.PcQty,
		MakerOrderID:   e.MakerOrderID,
		MakerRemaining: e.MakerRemaining,
	}
}

// Publisher delivers drained events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, market common.Address, evs []events.Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, common.Address, []events.Event) error { return nil }

// Multi fans out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, market common.Address, evs []events.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, market, evs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
