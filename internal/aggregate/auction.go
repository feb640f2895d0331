package aggregate

import "sort"

// SealedBid is one worker's option choice with a 0-100 confidence wager.
type SealedBid struct {
	Worker     string `json:"worker"`
	Choice     string `json:"choice"`
	Confidence int    `json:"confidence"`
}

// AuctionOutcome reports the Vickrey result: the highest-confidence bid wins
// but is calibrated down to the second-highest confidence. A single-bid
// auction has no second price; Calibrated is false and the value is the
// bidder's own.
type AuctionOutcome struct {
	Winner               SealedBid `json:"winner"`
	CalibratedConfidence int       `json:"calibrated_confidence"`
	Calibrated           bool      `json:"calibrated"`
}

// SecondPrice runs a sealed-bid second-price auction over the bids.
// Confidence ties go to the earlier bid in submission order.
func SecondPrice(bids []SealedBid) (*AuctionOutcome, error) {
	if len(bids) == 0 {
		return nil, ErrInsufficientQuorum
	}

	ranked := append([]SealedBid(nil), bids...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	out := &AuctionOutcome{Winner: ranked[0]}
	if len(ranked) == 1 {
		out.CalibratedConfidence = ranked[0].Confidence
		return out, nil
	}
	out.CalibratedConfidence = ranked[1].Confidence
	out.Calibrated = true
	return out, nil
}
