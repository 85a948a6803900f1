// Package strategy ranks profit estimates under named boosting policies.
package strategy

import (
	"sort"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// Boost rescales the priority of one estimate. A Boost must not change any
// other field.
type Boost func(domain.ProfitEstimate) domain.ProfitEstimate

// Identity leaves the estimate unchanged.
func Identity(e domain.ProfitEstimate) domain.ProfitEstimate { return e }

// Chain composes boosts left to right.
func Chain(boosts ...Boost) Boost {
	return func(e domain.ProfitEstimate) domain.ProfitEstimate {
		for _, b := range boosts {
			if b != nil {
				e = b(e)
			}
		}
		return e
	}
}

// Rank applies boost to every estimate and returns a new slice sorted by
// priority, highest first. Equal priorities keep their input order. The input
// slice is not modified.
func Rank(estimates []domain.ProfitEstimate, boost Boost) []domain.ProfitEstimate {
	if boost == nil {
		boost = Identity
	}
	out := make([]domain.ProfitEstimate, len(estimates))
	for i, e := range estimates {
		out[i] = boost(e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// Profitable returns the estimates flagged profitable, preserving order.
func Profitable(ranked []domain.ProfitEstimate) []domain.ProfitEstimate {
	out := make([]domain.ProfitEstimate, 0, len(ranked))
	for _, e := range ranked {
		if e.Profitable {
			out = append(out, e)
		}
	}
	return out
}
