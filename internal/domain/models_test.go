package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFiltersAllow(t *testing.T) {
	f64 := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }

	tests := []struct {
		name    string
		filters Filters
		price   *float64
		rating  *float64
		ratings *int
		want    bool
	}{
		{"unconstrained accepts missing values", Filters{}, nil, nil, nil, true},
		{"min price", Filters{MinPrice: 100}, f64(99.99), nil, nil, false},
		{"min price inclusive", Filters{MinPrice: 100}, f64(100), nil, nil, true},
		{"max price", Filters{MaxPrice: 2000}, f64(2000.01), nil, nil, false},
		{"missing price fails bound", Filters{MaxPrice: 2000}, nil, nil, nil, false},
		{"min rating", Filters{MinRating: 4.5}, nil, f64(4.4), nil, false},
		{"missing rating fails bound", Filters{MinRating: 4}, f64(10), nil, i(300), false},
		{"min ratings", Filters{MinRatings: 10}, nil, nil, i(9), false},
		{"all bounds pass", Filters{MinPrice: 1, MaxPrice: 10, MinRating: 4, MinRatings: 5}, f64(5), f64(4.2), i(5), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filters.Allow(tt.price, tt.rating, tt.ratings))
		})
	}
}
