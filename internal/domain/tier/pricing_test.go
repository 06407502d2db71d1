package tier_test

import (
	"errors"
	"testing"
	"time"

	"github.com/chautari/chautari-api/internal/domain/tier"
)

func testCatalog() tier.Catalog {
	return tier.Catalog{
		{Level: 0, Name: "Free"},
		{Level: 1, Name: "Tier 1", MonthlyPrice: 999, YearlyPrice: 9990},
		{Level: 2, Name: "Tier 2", MonthlyPrice: 1999, YearlyPrice: 19990},
	}
}

func TestComputeUpgrade(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	catalog := testCatalog()

	tests := []struct {
		name    string
		cur     tier.Current
		target  int
		cycle   tier.BillingCycle
		want    tier.Quote
		wantErr error
	}{
		{
			name:   "from free pays full price",
			cur:    tier.Current{Level: 0},
			target: 1,
			cycle:  tier.CycleMonthly,
			want:   tier.Quote{FromLevel: 0, ToLevel: 1, Cycle: tier.CycleMonthly, FullPrice: 999, RemainingCredit: 0, AmountDue: 999},
		},
		{
			name:   "half period remaining rounds half up",
			cur:    tier.Current{Level: 1, Cycle: tier.CycleMonthly, ExpiresAt: now.Add(15 * 24 * time.Hour)},
			target: 2,
			cycle:  tier.CycleMonthly,
			want:   tier.Quote{FromLevel: 1, ToLevel: 2, Cycle: tier.CycleMonthly, FullPrice: 1999, RemainingCredit: 500, AmountDue: 1499},
		},
		{
			name:   "expired period earns no credit",
			cur:    tier.Current{Level: 1, Cycle: tier.CycleMonthly, ExpiresAt: now.Add(-time.Hour)},
			target: 2,
			cycle:  tier.CycleMonthly,
			want:   tier.Quote{FromLevel: 1, ToLevel: 2, Cycle: tier.CycleMonthly, FullPrice: 1999, RemainingCredit: 0, AmountDue: 1999},
		},
		{
			name:   "full period remaining credits the whole payment",
			cur:    tier.Current{Level: 1, Cycle: tier.CycleMonthly, ExpiresAt: now.Add(30 * 24 * time.Hour)},
			target: 2,
			cycle:  tier.CycleMonthly,
			want:   tier.Quote{FromLevel: 1, ToLevel: 2, Cycle: tier.CycleMonthly, FullPrice: 1999, RemainingCredit: 999, AmountDue: 1000},
		},
		{
			name:   "remaining clamped to one cycle",
			cur:    tier.Current{Level: 1, Cycle: tier.CycleMonthly, ExpiresAt: now.Add(90 * 24 * time.Hour)},
			target: 2,
			cycle:  tier.CycleMonthly,
			want:   tier.Quote{FromLevel: 1, ToLevel: 2, Cycle: tier.CycleMonthly, FullPrice: 1999, RemainingCredit: 999, AmountDue: 1000},
		},
		{
			name:   "yearly remainder capped at the monthly target price",
			cur:    tier.Current{Level: 1, Cycle: tier.CycleYearly, ExpiresAt: now.Add(365 * 24 * time.Hour)},
			target: 2,
			cycle:  tier.CycleMonthly,
			want:   tier.Quote{FromLevel: 1, ToLevel: 2, Cycle: tier.CycleMonthly, FullPrice: 1999, RemainingCredit: 1999, AmountDue: 0},
		},
		{
			name:   "cycle switch to yearly prices the yearly target",
			cur:    tier.Current{Level: 1, Cycle: tier.CycleMonthly, ExpiresAt: now.Add(15 * 24 * time.Hour)},
			target: 2,
			cycle:  tier.CycleYearly,
			want:   tier.Quote{FromLevel: 1, ToLevel: 2, Cycle: tier.CycleYearly, FullPrice: 19990, RemainingCredit: 500, AmountDue: 19490},
		},
		{
			name:    "same level is not an upgrade",
			cur:     tier.Current{Level: 1, Cycle: tier.CycleMonthly, ExpiresAt: now.Add(time.Hour)},
			target:  1,
			cycle:   tier.CycleMonthly,
			wantErr: tier.ErrNotAnUpgrade,
		},
		{
			name:    "downgrade rejected",
			cur:     tier.Current{Level: 2, Cycle: tier.CycleMonthly, ExpiresAt: now.Add(time.Hour)},
			target:  1,
			cycle:   tier.CycleMonthly,
			wantErr: tier.ErrNotAnUpgrade,
		},
		{
			name:    "unknown target tier",
			cur:     tier.Current{Level: 0},
			target:  9,
			cycle:   tier.CycleMonthly,
			wantErr: tier.ErrUnknownTier,
		},
		{
			name:    "invalid cycle",
			cur:     tier.Current{Level: 0},
			target:  1,
			cycle:   tier.BillingCycle("weekly"),
			wantErr: tier.ErrInvalidCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tier.ComputeUpgrade(catalog, tt.cur, tt.target, tt.cycle, now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("quote mismatch:\n got  %+v\n want %+v", got, tt.want)
			}
		})
	}
}

func TestComputeUpgradeNeverNegative(t *testing.T) {
	now := time.Now()
	catalog := testCatalog()

	cur := tier.Current{Level: 1, Cycle: tier.CycleYearly, ExpiresAt: now.Add(300 * 24 * time.Hour)}
	q, err := tier.ComputeUpgrade(catalog, cur, 2, tier.CycleMonthly, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.AmountDue < 0 {
		t.Fatalf("amount due went negative: %d", q.AmountDue)
	}
	if q.AmountDue != 0 {
		t.Fatalf("expected large yearly credit to zero out a monthly target, got %d", q.AmountDue)
	}
	if q.RemainingCredit > q.FullPrice {
		t.Fatalf("credit %d exceeds full price %d", q.RemainingCredit, q.FullPrice)
	}
	if q.FullPrice != q.RemainingCredit+q.AmountDue {
		t.Fatalf("quote does not balance: %d != %d + %d", q.FullPrice, q.RemainingCredit, q.AmountDue)
	}
}

func TestDefaultCatalog(t *testing.T) {
	catalog := tier.DefaultCatalog()

	if len(catalog) != 4 {
		t.Fatalf("expected 4 tiers, got %d", len(catalog))
	}

	free, err := catalog.Get(0)
	if err != nil {
		t.Fatalf("free tier missing: %v", err)
	}
	if !free.ShowsAds || free.MonthlyPrice != 0 {
		t.Fatalf("free tier must show ads at no cost, got %+v", free)
	}

	for _, level := range []int{1, 2, 3} {
		paid, err := catalog.Get(level)
		if err != nil {
			t.Fatalf("tier %d missing: %v", level, err)
		}
		if paid.ShowsAds {
			t.Fatalf("paid tier %d must not show ads", level)
		}
		if paid.YearlyPrice != paid.MonthlyPrice*10 {
			t.Fatalf("tier %d yearly price should be 10x monthly, got %d vs %d", level, paid.YearlyPrice, paid.MonthlyPrice)
		}
		if paid.Badge != level {
			t.Fatalf("tier %d badge should match level, got %d", level, paid.Badge)
		}
	}

	if _, err := catalog.Get(4); !errors.Is(err, tier.ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}
}
