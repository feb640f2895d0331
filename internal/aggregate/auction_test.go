package aggregate

import "testing"

func TestSecondPriceCalibration(t *testing.T) {
	bids := []SealedBid{
		{Worker: "A", Choice: "opt-1", Confidence: 90},
		{Worker: "B", Choice: "opt-2", Confidence: 70},
		{Worker: "C", Choice: "opt-1", Confidence: 60},
	}

	out, err := SecondPrice(bids)
	if err != nil {
		t.Fatal(err)
	}
	if out.Winner.Worker != "A" {
		t.Fatalf("expected A to win, got %s", out.Winner.Worker)
	}
	// The winner never pays their own price.
	if out.CalibratedConfidence != 70 {
		t.Fatalf("expected calibrated confidence 70, got %d", out.CalibratedConfidence)
	}
	if !out.Calibrated {
		t.Fatal("expected calibrated flag")
	}
}

func TestSecondPriceSingleBid(t *testing.T) {
	out, err := SecondPrice([]SealedBid{{Worker: "A", Choice: "x", Confidence: 80}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Calibrated {
		t.Fatal("single bid has no second price")
	}
	if out.CalibratedConfidence != 80 {
		t.Fatalf("expected sole confidence 80, got %d", out.CalibratedConfidence)
	}
}

func TestSecondPriceTieGoesToEarlierBid(t *testing.T) {
	bids := []SealedBid{
		{Worker: "A", Choice: "x", Confidence: 75},
		{Worker: "B", Choice: "y", Confidence: 75},
	}
	out, err := SecondPrice(bids)
	if err != nil {
		t.Fatal(err)
	}
	if out.Winner.Worker != "A" {
		t.Fatalf("tie must go to the earlier bid, got %s", out.Winner.Worker)
	}
	if out.CalibratedConfidence != 75 {
		t.Fatalf("unexpected calibration: %d", out.CalibratedConfidence)
	}
}

func TestSecondPriceEmpty(t *testing.T) {
	if _, err := SecondPrice(nil); err != ErrInsufficientQuorum {
		t.Fatalf("expected quorum error, got %v", err)
	}
}
