package tier

import "time"

// Current is the subscription state a quote is computed against.
type Current struct {
	Level     int
	Cycle     BillingCycle
	ExpiresAt time.Time
}

// Quote is the priced outcome of a requested upgrade.
type Quote struct {
	FromLevel       int          `json:"from_level"`
	ToLevel         int          `json:"to_level"`
	Cycle           BillingCycle `json:"cycle"`
	FullPrice       int64        `json:"full_price"`
	RemainingCredit int64        `json:"remaining_credit"`
	AmountDue       int64        `json:"amount_due"`
}

// ComputeUpgrade prices a move to a higher tier. The unused remainder of
// the current paid period is converted to a credit prorated against the
// current cycle's fixed length, then subtracted from the target price.
// Rounding is half up on the half paisa, and the credit never exceeds
// what was paid for the period nor the target price, so the quote always
// satisfies FullPrice == RemainingCredit + AmountDue.
func ComputeUpgrade(catalog Catalog, cur Current, targetLevel int, cycle BillingCycle, now time.Time) (Quote, error) {
	if !cycle.Valid() {
		return Quote{}, ErrInvalidCycle
	}
	target, err := catalog.Get(targetLevel)
	if err != nil {
		return Quote{}, err
	}
	if targetLevel <= cur.Level {
		return Quote{}, ErrNotAnUpgrade
	}

	q := Quote{
		FromLevel: cur.Level,
		ToLevel:   targetLevel,
		Cycle:     cycle,
		FullPrice: target.Price(cycle),
	}

	if cur.Level > 0 && cur.ExpiresAt.After(now) {
		curTier, err := catalog.Get(cur.Level)
		if err != nil {
			return Quote{}, err
		}
		curCycle := cur.Cycle
		if !curCycle.Valid() {
			curCycle = CycleMonthly
		}

		cycleSec := int64(curCycle.Duration() / time.Second)
		remSec := int64(cur.ExpiresAt.Sub(now) / time.Second)
		if remSec > cycleSec {
			remSec = cycleSec
		}

		paid := curTier.Price(curCycle)
		q.RemainingCredit = (2*paid*remSec + cycleSec) / (2 * cycleSec)
		if q.RemainingCredit > paid {
			q.RemainingCredit = paid
		}
	}

	if q.RemainingCredit > q.FullPrice {
		q.RemainingCredit = q.FullPrice
	}
	q.AmountDue = q.FullPrice - q.RemainingCredit
	return q, nil
}
