package core

import (
	"errors"
	"fmt"
)

// The two value-splitting rules. Both floor-divide so no fractional units
// ever exist; where the rounding remainder lands differs deliberately:
// the auction path sends it to commission, the trade path to the seller.
const (
	commissionPermille = 39 // 3.9% platform cut on every trade
	rewardPermille     = 61 // 6.1% painter reward on every trade
)

// permilleOf computes floor(amount*p/1000) without the intermediate
// product, which would overflow uint64 for amounts near the native
// 10^18-unit scale. Splitting amount as 1000q+r gives
// floor(amount*p/1000) == q*p + floor(r*p/1000) exactly.
func permilleOf(amount uint64, p uint64) uint64 {
	return amount/1000*p + amount%1000*p/1000
}

// AuctionSplit divides a winning bid. rewardPerPixel is floored from the
// 96.1% painter share; everything not distributed as rewards (the 3.9%
// cut plus rounding dust) is commission, so the split is exact:
// amount == rewardPerPixel*pixelCount + commission.
func AuctionSplit(amount uint64, pixelCount uint32) (rewardPerPixel, totalRewards, commission uint64) {
	distributable := amount - permilleOf(amount, commissionPermille)
	rewardPerPixel = distributable / uint64(pixelCount)
	totalRewards = rewardPerPixel * uint64(pixelCount)
	commission = amount - totalRewards
	return
}

// TradeSplit divides a secondary-market sale. The rounding residue of the
// 6.1% reward share lands in the seller's profit:
// amount == commission + rewardPerPixel*pixelCount + sellerProfit.
func TradeSplit(amount uint64, pixelCount uint32) (commission, rewardPerPixel, sellerProfit uint64) {
	commission = permilleOf(amount, commissionPermille)
	rewardPerPixel = permilleOf(amount, rewardPermille) / uint64(pixelCount)
	sellerProfit = amount - commission - rewardPerPixel*uint64(pixelCount)
	return
}

// RewardOwed returns what addr can still claim from pool: the per-pixel
// reward times the pixels attributed to addr, minus what was already
// moved to pending. Monotone in TotalRewards, so once it hits zero it
// stays zero until the pool grows.
func RewardOwed(pool *Pool, pixelCount uint32, painted uint32, addr string) uint64 {
	total := pool.TotalRewards / uint64(pixelCount) * uint64(painted)
	return total - pool.RewardWithdrawn[addr]
}

// CreditPending is the single primitive through which any component adds
// value to an address' claimable balance. Overflow is a fatal invariant
// breach, reported as an error so the operation rolls back whole.
func CreditPending(s State, addr string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Pending+amount < acc.Pending {
		return fmt.Errorf("pending balance overflow for %s", addr)
	}
	acc.Pending += amount
	return s.SetAccount(acc)
}

// AddHeld grows the engine's held-funds counter with overflow protection.
func AddHeld(m *Meta, amount uint64) error {
	if m.Held+amount < m.Held {
		return errors.New("held funds overflow")
	}
	m.Held += amount
	return nil
}

// SubHeld shrinks held funds; going negative is an invariant breach.
func SubHeld(m *Meta, amount uint64) error {
	if amount > m.Held {
		return fmt.Errorf("held funds underflow: have %d need %d", m.Held, amount)
	}
	m.Held -= amount
	return nil
}

// CheckConservation recomputes the global ledger invariant from the
// independently stored records and compares it against the held-funds
// counter. It never trusts a cached total: pending balances, pool
// leftovers, escrows, and leading bids are each summed from their own
// records.
//
//	held == Σ pending + Σ unpaid rewards + Σ unpaid commission
//	        + Σ live buy-offer escrow + Σ live leading bids
//
// A bid counts as "live" until its auction is settled into a pool, even
// if the deadline has logically passed.
func CheckConservation(s State) error {
	meta, err := s.Meta()
	if err != nil {
		return err
	}

	var sum uint64
	add := func(v uint64, what string) error {
		if sum+v < sum {
			return fmt.Errorf("conservation sum overflow at %s", what)
		}
		sum += v
		return nil
	}

	if err := s.ForEachAccount(func(acc *Account) error {
		return add(acc.Pending, "pending "+acc.Address)
	}); err != nil {
		return err
	}

	for id := uint64(0); id < meta.CanvasCount; id++ {
		pool, err := s.GetPool(id)
		switch {
		case err == nil:
			var paid uint64
			for _, v := range pool.RewardWithdrawn {
				paid += v
			}
			if err := add(pool.TotalRewards-paid, "rewards"); err != nil {
				return err
			}
			if err := add(pool.TotalCommission-pool.CommissionWithdrawn, "commission"); err != nil {
				return err
			}
		case errors.Is(err, ErrNotFound):
			// Unsettled: a leading bid, if any, is still held in full.
			bid, err := s.GetBid(id)
			if err == nil {
				if err := add(bid.Amount, "bid"); err != nil {
					return err
				}
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		default:
			return err
		}

		offer, err := s.GetBuyOffer(id)
		if err == nil {
			if err := add(offer.Amount, "escrow"); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	if sum != meta.Held {
		return fmt.Errorf("conservation violated: held %d, obligations %d", meta.Held, sum)
	}
	return nil
}
