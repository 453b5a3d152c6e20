package match

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func expense(amount string, d time.Time, merchant string) *domain.ExpenseRecord {
	return &domain.ExpenseRecord{
		ID:               "exp-1",
		TenantID:         "t1",
		Amount:           decimal.RequireFromString(amount),
		Date:             d,
		MerchantNameRaw:  merchant,
		Class:            domain.ClassGeneral,
		PaymentSourceKey: "amex",
	}
}

func candidate(id, amount string, d time.Time, desc string) *domain.BankCandidate {
	return &domain.BankCandidate{
		ID:               id,
		TenantID:         "t1",
		Amount:           decimal.RequireFromString(amount),
		Date:             d,
		DescriptionRaw:   desc,
		PaymentSourceKey: "amex",
	}
}

func TestScoreExactMatch(t *testing.T) {
	s := NewScorer(domain.DefaultEngineConfig())

	exp := expense("18.37", date(2025, 11, 17), "Bacon Bacon")
	cand := candidate("bt-1", "18.37", date(2025, 11, 17), "TST* BACON BACON - SAN FRANCISCO")

	res, ok := s.Score(exp, cand)
	if !ok {
		t.Fatal("expected a qualifying result")
	}
	if res.Type != domain.MatchExact {
		t.Errorf("type = %s, want %s", res.Type, domain.MatchExact)
	}
	if res.Score != 100 {
		t.Errorf("score = %d, want 100", res.Score)
	}
	if res.DaysDifference != 0 {
		t.Errorf("daysDifference = %f, want 0", res.DaysDifference)
	}
}

func TestScoringTable(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	s := NewScorer(cfg)
	expDate := date(2025, 11, 17)

	tests := []struct {
		name      string
		candAmt   string
		candDate  time.Time
		candDesc  string
		wantType  domain.MatchType
		wantScore int
		wantOK    bool
	}{
		{"amount+date+merchant", "18.37", expDate, "BACON BACON SF", domain.MatchExact, 100, true},
		{"amount+date", "18.37", expDate.AddDate(0, 0, 2), "UNRELATED VENDOR", domain.MatchAmountDate, 90, true},
		{"amount+merchant", "18.37", expDate.AddDate(0, 0, 9), "BACON BACON SF", domain.MatchAmountMerchant, 80, true},
		{"amount only", "18.37", expDate.AddDate(0, 0, 9), "UNRELATED VENDOR", domain.MatchAmountOnly, 70, true},
		{"nothing", "99.99", expDate.AddDate(0, 0, 9), "UNRELATED VENDOR", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := expense("18.37", expDate, "Bacon Bacon")
			cand := candidate("bt-1", tt.candAmt, tt.candDate, tt.candDesc)

			res, ok := s.Score(exp, cand)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if res.Type != tt.wantType {
				t.Errorf("type = %s, want %s", res.Type, tt.wantType)
			}
			if res.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", res.Score, tt.wantScore)
			}
		})
	}
}

func TestScoreNegativeCandidateAmount(t *testing.T) {
	// Card feeds post purchases as negative; comparison is by magnitude.
	s := NewScorer(domain.DefaultEngineConfig())

	exp := expense("18.37", date(2025, 11, 17), "Bacon Bacon")
	cand := candidate("bt-1", "-18.37", date(2025, 11, 17), "BACON BACON")

	res, ok := s.Score(exp, cand)
	if !ok || res.Type != domain.MatchExact {
		t.Fatalf("expected exact match on negative amount, got ok=%v type=%s", ok, res.Type)
	}
}

func TestMerchantMatchBidirectional(t *testing.T) {
	s := NewScorer(domain.DefaultEngineConfig())
	expDate := date(2025, 11, 17)

	// Reverse direction: the bank vendor's word appears inside the verbose
	// expense merchant name, while no expense word survives in the
	// truncated descriptor.
	exp := expense("50.00", expDate, "Hilton")
	cand := candidate("bt-1", "50.00", expDate.AddDate(0, 0, 9), "HLTN 00412")
	cand.ExtractedVendor = "Hilton Hotels"

	res, ok := s.Score(exp, cand)
	if !ok {
		t.Fatal("expected qualifying result")
	}
	if res.Type != domain.MatchAmountMerchant {
		t.Errorf("type = %s, want %s", res.Type, domain.MatchAmountMerchant)
	}
}

func TestTipAdjustedMatch(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	s := NewScorer(cfg)
	expDate := date(2025, 11, 17)

	tests := []struct {
		name    string
		class   domain.ExpenseClass
		candAmt string
		wantOK  bool
	}{
		{"band lower bound", domain.ClassMeals, "47.20", true},  // 118%
		{"band upper bound", domain.ClassMeals, "50.00", true},  // 125%
		{"below band", domain.ClassMeals, "47.00", false},       // 117.5%
		{"above band", domain.ClassMeals, "50.40", false},       // 126%
		{"not gratuity-eligible", domain.ClassGeneral, "47.20", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := expense("40.00", expDate, "Some Bistro")
			exp.Class = tt.class
			cand := candidate("bt-1", tt.candAmt, expDate, "UNRELATED DESCRIPTOR")

			res, ok := s.Score(exp, cand)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok {
				if res.Type != domain.MatchTipAdjusted {
					t.Errorf("type = %s, want %s", res.Type, domain.MatchTipAdjusted)
				}
				if res.Score != 75 {
					t.Errorf("score = %d, want 75", res.Score)
				}
			}
		})
	}
}

func TestTipAdjustedRequiresDateMatch(t *testing.T) {
	s := NewScorer(domain.DefaultEngineConfig())

	exp := expense("40.00", date(2025, 11, 17), "Some Bistro")
	exp.Class = domain.ClassMeals
	cand := candidate("bt-1", "47.20", date(2025, 11, 28), "UNRELATED")

	if _, ok := s.Score(exp, cand); ok {
		t.Error("tip-adjusted match must not fire outside the date window")
	}
}

func TestPerClassTipBandOverride(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.TipBands = map[domain.ExpenseClass]domain.TipBand{
		domain.ClassMeals: {
			Low:  decimal.NewFromFloat(1.10),
			High: decimal.NewFromFloat(1.30),
		},
	}
	s := NewScorer(cfg)
	expDate := date(2025, 11, 17)

	exp := expense("40.00", expDate, "Some Bistro")
	exp.Class = domain.ClassMeals
	cand := candidate("bt-1", "45.00", expDate, "UNRELATED") // 112.5%

	res, ok := s.Score(exp, cand)
	if !ok || res.Type != domain.MatchTipAdjusted {
		t.Fatalf("expected tip match under widened band, got ok=%v", ok)
	}
}

func TestScoreAllQualifyingFloor(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.QualifyingScore = 80
	s := NewScorer(cfg)
	expDate := date(2025, 11, 17)

	exp := expense("18.37", expDate, "Bacon Bacon")
	cands := []*domain.BankCandidate{
		candidate("bt-low", "18.37", expDate.AddDate(0, 0, 9), "UNRELATED"), // amount_only 70
		candidate("bt-high", "18.37", expDate, "BACON BACON"),              // exact 100
	}

	results := s.ScoreAll(exp, cands)
	if len(results) != 1 {
		t.Fatalf("got %d qualifying results, want 1", len(results))
	}
	if results[0].CandidateID != "bt-high" {
		t.Errorf("qualifying candidate = %s, want bt-high", results[0].CandidateID)
	}
}

func TestScoreAllDateInversionRescue(t *testing.T) {
	// Expense recorded March 11 upstream; the charge actually posted
	// November 3 (DD/MM feed confusion).
	cfg := domain.DefaultEngineConfig()
	cfg.QualifyingScore = 90 // amount_only no longer qualifies
	s := NewScorer(cfg)

	exp := expense("25.00", date(2025, 3, 11), "Unmemorable Vendor")
	cands := []*domain.BankCandidate{
		candidate("bt-1", "25.00", date(2025, 11, 3), "SOMETHING ELSE"),
	}

	results := s.ScoreAll(exp, cands)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].DateInverted {
		t.Error("expected DateInverted on the rescued match")
	}
	if results[0].Type != domain.MatchAmountDate {
		t.Errorf("type = %s, want %s", results[0].Type, domain.MatchAmountDate)
	}
}

func TestScoreAllDateInversionDisabled(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.QualifyingScore = 90
	cfg.TryDateInversion = false
	s := NewScorer(cfg)

	exp := expense("25.00", date(2025, 3, 11), "Unmemorable Vendor")
	cands := []*domain.BankCandidate{
		candidate("bt-1", "25.00", date(2025, 11, 3), "SOMETHING ELSE"),
	}

	if results := s.ScoreAll(exp, cands); len(results) != 0 {
		t.Fatalf("got %d results with inversion disabled, want 0", len(results))
	}
}

func TestInvertDate(t *testing.T) {
	tests := []struct {
		name   string
		in     time.Time
		want   time.Time
		wantOK bool
	}{
		{"swappable", date(2025, 3, 11), date(2025, 11, 3), true},
		{"day too large", date(2025, 3, 13), time.Time{}, false},
		{"same day and month", date(2025, 4, 4), time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := invertDate(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("inverted = %v, want %v", got, tt.want)
			}
		})
	}
}
