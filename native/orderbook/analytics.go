package orderbook

import (
	"math/big"

	"sagemarket/native/common"
)

const (
	dayWindowSecs = 86_400
	snapshotSecs  = 3_600
	maxSnapshots  = 24 * 30
)

// Analytics returns the stored per-pair trade statistics.
func (e *Engine) Analytics(pairID [32]byte) (*Analytics, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	stats := &Analytics{}
	if _, err := e.state.KVGet(analyticsKey(pairID), stats); err != nil {
		return nil, err
	}
	return stats.ensure(), nil
}

// recordTrade folds one execution into the pair's analytics: the TWAP
// accumulator advances over the elapsed interval at the previous price, the
// 24h window resets once a full day has passed, and a price snapshot is
// appended at most once per hour.
func (e *Engine) recordTrade(pairID [32]byte, price, amount *big.Int) error {
	stats, err := e.Analytics(pairID)
	if err != nil {
		return err
	}
	now := e.now()

	if stats.TwapStartAt == 0 {
		stats.TwapStartAt = now
		stats.TwapUpdatedAt = now
	} else if now > stats.TwapUpdatedAt && stats.LastPrice.Sign() > 0 {
		elapsed := big.NewInt(now - stats.TwapUpdatedAt)
		stats.TwapCumulative.Add(stats.TwapCumulative, new(big.Int).Mul(stats.LastPrice, elapsed))
		stats.TwapUpdatedAt = now
	}
	stats.LastPrice = common.CopyBig(price)

	if stats.WindowResetAt == 0 || now >= stats.WindowResetAt+dayWindowSecs {
		stats.WindowResetAt = now
		stats.Volume24h = big.NewInt(0)
		stats.High24h = big.NewInt(0)
		stats.Low24h = big.NewInt(0)
	}
	stats.Volume24h.Add(stats.Volume24h, amount)
	if price.Cmp(stats.High24h) > 0 {
		stats.High24h = common.CopyBig(price)
	}
	if stats.Low24h.Sign() == 0 || price.Cmp(stats.Low24h) < 0 {
		stats.Low24h = common.CopyBig(price)
	}

	if stats.LastSnapshotAt == 0 || now >= stats.LastSnapshotAt+snapshotSecs {
		stats.Snapshots = append(stats.Snapshots, PricePoint{Price: common.CopyBig(price), Timestamp: now})
		if len(stats.Snapshots) > maxSnapshots {
			stats.Snapshots = stats.Snapshots[len(stats.Snapshots)-maxSnapshots:]
		}
		stats.LastSnapshotAt = now
	}
	return e.state.KVPut(analyticsKey(pairID), stats)
}

// TWAP reports the time-weighted average price since the pair first traded,
// including the open interval at the last price. Returns zero before any
// trade or elapsed time.
func (e *Engine) TWAP(pairID [32]byte) (*big.Int, error) {
	stats, err := e.Analytics(pairID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if stats.TwapStartAt == 0 || now <= stats.TwapStartAt {
		return common.CopyBig(stats.LastPrice), nil
	}
	cumulative := new(big.Int).Set(stats.TwapCumulative)
	if now > stats.TwapUpdatedAt && stats.LastPrice.Sign() > 0 {
		elapsed := big.NewInt(now - stats.TwapUpdatedAt)
		cumulative.Add(cumulative, new(big.Int).Mul(stats.LastPrice, elapsed))
	}
	span := big.NewInt(now - stats.TwapStartAt)
	return cumulative.Div(cumulative, span), nil
}

// Stats24h reports the rolling day's volume, high and low for a pair.
func (e *Engine) Stats24h(pairID [32]byte) (volume, high, low *big.Int, err error) {
	stats, err := e.Analytics(pairID)
	if err != nil {
		return nil, nil, nil, err
	}
	return common.CopyBig(stats.Volume24h), common.CopyBig(stats.High24h), common.CopyBig(stats.Low24h), nil
}
