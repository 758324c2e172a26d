package service

import (
	"context"

	"github.com/shopspring/decimal"
)

// RatingStore is the narrow data-access surface the rating aggregator needs.
// Inside a relation write it is the transaction; tests hand in a fake.
type RatingStore interface {
	BookRates(ctx context.Context, bookID int64) ([]int, error)
	SaveBookRating(ctx context.Context, bookID int64, rating decimal.NullDecimal) error
}

// RecomputeRating rewrites the book's cached rating as the mean of all
// non-null rates, null when no rates exist. The value keeps 2 fraction
// digits with shopspring's default rounding (half away from zero).
// The write is unconditional so the cache never drifts, and it is
// idempotent for unchanged relation data.
func RecomputeRating(ctx context.Context, store RatingStore, bookID int64) (decimal.NullDecimal, error) {
	rates, err := store.BookRates(ctx, bookID)
	if err != nil {
		return decimal.NullDecimal{}, err
	}

	var rating decimal.NullDecimal
	if len(rates) > 0 {
		sum := decimal.Zero
		for _, rate := range rates {
			sum = sum.Add(decimal.NewFromInt(int64(rate)))
		}
		rating = decimal.NullDecimal{
			Decimal: sum.DivRound(decimal.NewFromInt(int64(len(rates))), 2),
			Valid:   true,
		}
	}

	if err := store.SaveBookRating(ctx, bookID, rating); err != nil {
		return decimal.NullDecimal{}, err
	}
	return rating, nil
}
