package medicine

import (
	"math"

	"github.com/montanaflynn/stats"
	"golang.org/x/text/cases"
)

const (
	pricePlaces  = 2
	maxRoundable = 1 << 53
)

// foldName returns the identity key of a medicine name. A Caser is stateful,
// so a fresh one is built per call.
func foldName(name string) string {
	return cases.Fold().String(name)
}

// indexOf returns the position of the first record whose name folds to the
// same key as name, or -1.
func indexOf(recs []Record, name string) int {
	key := foldName(name)
	for i, r := range recs {
		if foldName(r.Name) == key {
			return i
		}
	}
	return -1
}

func removeAt(recs []Record, i int) []Record {
	out := make([]Record, 0, len(recs)-1)
	out = append(out, recs[:i]...)
	return append(out, recs[i+1:]...)
}

// averagePrice is the mean of every numeric price, rounded half away from zero
// to two decimal places.
func averagePrice(recs []Record) (float64, Outcome) {
	if len(recs) == 0 {
		return 0, Empty
	}

	prices := make(stats.Float64Data, 0, len(recs))
	for _, r := range recs {
		if v, ok := r.Price.Float64(); ok {
			prices = append(prices, v)
		}
	}
	if len(prices) == 0 {
		return 0, NoValidPrices
	}

	mean, err := stats.Mean(prices)
	if err != nil {
		return 0, NoValidPrices
	}
	if math.IsInf(mean, 0) || math.IsNaN(mean) {
		mean = scaledMean(prices)
	}
	return roundPrice(mean), OK
}

// scaledMean divides before summing so the mean of finite values near the
// float64 limit stays finite.
func scaledMean(prices []float64) float64 {
	n := float64(len(prices))
	var mean float64
	for _, v := range prices {
		mean += v / n
	}
	return mean
}

// roundPrice rounds to pricePlaces. Values too large to carry a fractional
// part are returned as they are; scaling them would overflow.
func roundPrice(v float64) float64 {
	if math.Abs(v) >= maxRoundable {
		return v
	}
	r, err := stats.Round(v, pricePlaces)
	if err != nil {
		return v
	}
	return r
}
