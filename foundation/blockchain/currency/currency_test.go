package currency_test

import (
	"testing"

	"github.com/cashbond/blockchain/foundation/blockchain/currency"
)

func Test_Currency(t *testing.T) {
	if currency.Cash.Other() != currency.Bond || currency.Bond.Other() != currency.Cash {
		t.Fatal("Should flip between the two asset types.")
	}

	c, err := currency.Parse("bond")
	if err != nil || c != currency.Bond {
		t.Fatalf("Should parse the bond asset type: %v", err)
	}

	if _, err := currency.Parse("gold"); err == nil {
		t.Fatal("Should reject an unknown asset type.")
	}
}

func Test_Range(t *testing.T) {
	if !currency.Range(0) || !currency.Range(currency.MaxMoney) {
		t.Fatal("Should accept amounts at the range bounds.")
	}
	if currency.Range(-1) || currency.Range(currency.MaxMoney+1) {
		t.Fatal("Should reject amounts outside the range bounds.")
	}
}

func Test_ScaleDescale(t *testing.T) {
	tests := []struct {
		name   string
		amount currency.Amount
		factor uint64
	}{
		{"identity", 123_456_789, currency.BaseFactor},
		{"half", 1_000_000, currency.BaseFactor / 2},
		{"double", 1_000_000, currency.BaseFactor * 2},
		{"odd", 999_999_999, 3_333_333_333},
		{"tiny factor", 75_000, 7},
		{"one", 1, 1},
		{"max money", currency.MaxMoney, 12_345_678_901},
	}

	for _, tt := range tests {
		got := currency.Scale(currency.Scale(tt.amount, tt.factor), currency.BaseFactor)
		if got < 0 {
			t.Fatalf("%s: Should never scale a positive amount negative: %d", tt.name, got)
		}

		back := currency.Scale(currency.Descale(tt.amount, tt.factor), tt.factor)
		if back < tt.amount {
			t.Logf("got: %d", back)
			t.Logf("exp: at least %d", tt.amount)
			t.Fatalf("%s: Should never under-deliver on a descale round trip.", tt.name)
		}
	}

	if got := currency.Scale(1_000_000, currency.BaseFactor); got != 1_000_000 {
		t.Fatalf("Should scale by the base factor to the same amount, got %d", got)
	}

	if got := currency.Scale(-1_000_000, currency.BaseFactor/2); got != -500_000 {
		t.Fatalf("Should carry the sign through a scale, got %d", got)
	}
}

func Test_SaturatingAdd(t *testing.T) {
	const maxInt64 = currency.Amount(1<<63 - 1)
	const minInt64 = -maxInt64 - 1

	if got := currency.SaturatingAdd(maxInt64, 1); got != maxInt64 {
		t.Fatalf("Should clamp at the top of the range, got %d", got)
	}
	if got := currency.SaturatingAdd(minInt64, -1); got != minInt64 {
		t.Fatalf("Should clamp at the bottom of the range, got %d", got)
	}
	if got := currency.SaturatingAdd(40, 2); got != 42 {
		t.Fatalf("Should add in range, got %d", got)
	}
}

func Test_FeeRate(t *testing.T) {
	rate := currency.NewFeeRateFromPaid(1_000, 250)
	if rate.PerKB() != 4_000 {
		t.Fatalf("Should derive the per-kilobyte rate from a paid fee, got %d", rate.PerKB())
	}

	if got := rate.Fee(250); got != 1_000 {
		t.Fatalf("Should charge the original fee for the original size, got %d", got)
	}

	small := currency.NewFeeRate(1)
	if got := small.Fee(10); got != 1 {
		t.Fatalf("Should never charge zero at a positive rate, got %d", got)
	}

	sum := rate.Add(currency.NewFeeRate(500))
	if sum.PerKB() != 4_500 {
		t.Fatalf("Should add fee rates per kilobyte, got %d", sum.PerKB())
	}

	if !currency.NewFeeRate(1).Less(currency.NewFeeRate(2)) {
		t.Fatal("Should order fee rates by the per-kilobyte amount.")
	}
}
