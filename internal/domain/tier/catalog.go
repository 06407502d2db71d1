package tier

import "time"

// BillingCycle is the subscription renewal period.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// Duration is the fixed length a paid period covers. A month is billed
// as 30 days so proration stays deterministic.
func (c BillingCycle) Duration() time.Duration {
	if c == CycleYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// Tier describes one subscription level and the limits it unlocks.
// Prices are in paisa; the yearly price buys twelve months for the
// cost of ten.
type Tier struct {
	Level          int    `json:"level"`
	Name           string `json:"name"`
	MonthlyPrice   int64  `json:"monthly_price"`
	YearlyPrice    int64  `json:"yearly_price"`
	DailyPostLimit int    `json:"daily_post_limit"`
	MediaPerPost   int    `json:"media_per_post"`
	ShowsAds       bool   `json:"shows_ads"`
	Badge          int    `json:"badge"`
}

func (t Tier) Price(cycle BillingCycle) int64 {
	if cycle == CycleYearly {
		return t.YearlyPrice
	}
	return t.MonthlyPrice
}

// Catalog is an ordered set of purchasable tiers, lowest level first.
type Catalog []Tier

func (c Catalog) Get(level int) (Tier, error) {
	for _, t := range c {
		if t.Level == level {
			return t, nil
		}
	}
	return Tier{}, ErrUnknownTier
}

func (c Catalog) MaxLevel() int {
	max := 0
	for _, t := range c {
		if t.Level > max {
			max = t.Level
		}
	}
	return max
}

// DefaultCatalog returns the production tier table. Level 0 is the free
// tier everyone starts on and reverts to when a subscription lapses.
func DefaultCatalog() Catalog {
	return Catalog{
		{Level: 0, Name: "Free", MonthlyPrice: 0, YearlyPrice: 0, DailyPostLimit: 10, MediaPerPost: 4, ShowsAds: true, Badge: 0},
		{Level: 1, Name: "Tier 1", MonthlyPrice: 1000, YearlyPrice: 10000, DailyPostLimit: 20, MediaPerPost: 8, ShowsAds: false, Badge: 1},
		{Level: 2, Name: "Tier 2", MonthlyPrice: 1500, YearlyPrice: 15000, DailyPostLimit: 40, MediaPerPost: 16, ShowsAds: false, Badge: 2},
		{Level: 3, Name: "Tier 3", MonthlyPrice: 2000, YearlyPrice: 20000, DailyPostLimit: 80, MediaPerPost: 32, ShowsAds: false, Badge: 3},
	}
}
