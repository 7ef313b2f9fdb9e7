package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind 区分通知类型。
type Kind string

const (
	KindBetPlaced     Kind = "bet_placed"
	KindRewardClaimed Kind = "reward_claimed"
)

// Notification 封装一次下注生命周期事件。
type Notification struct {
	Kind           Kind            `json:"kind"`
	BetID          string          `json:"bet_id"`
	Game           string          `json:"game"`
	GameIdentifier string          `json:"game_identifier"`
	Tier           string          `json:"tier"`
	Threshold      int             `json:"expected_threshold"`
	Actual         *int            `json:"actual,omitempty"`
	Stake          decimal.Decimal `json:"stake"`
	Payout         decimal.Decimal `json:"payout"`
	WalletAddress  string          `json:"wallet_address"`
	TxHash         string          `json:"tx_hash"`
	At             time.Time       `json:"at"`
}

// Notifier 定义通知输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Fanout 将通知发送到所有通道，任一失败都会返回合并后的错误。
type Fanout []Notifier

// Notify delivers to every channel.
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = Fanout(nil)
