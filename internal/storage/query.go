package storage

import (
	"database/sql"
	"time"

	"github.com/user/price-tracker/internal/domain"
)

var orderColumns = map[string]string{
	"id":            "id",
	"title":         "title",
	"site_name":     "site_name",
	"last_price":    "last_price",
	"rating":        "rating",
	"ratings_count": "ratings_count",
	"first_seen_at": "first_seen_at",
	"last_seen_at":  "last_seen_at",
}

var allowedPageSizes = map[int]bool{10: true, 25: true, 50: true}

const (
	defaultPageSize     = 25
	defaultHistoryLimit = 200
	maxHistoryLimit     = 2000
)

// normalizeProductQuery clamps paging and resolves the order column.
func normalizeProductQuery(q domain.ProductQuery) (domain.ProductQuery, string) {
	if q.Page < 1 {
		q.Page = 1
	}
	if !allowedPageSizes[q.PerPage] {
		q.PerPage = defaultPageSize
	}
	col, ok := orderColumns[q.OrderBy]
	if !ok {
		col = "id"
	}
	dir := " ASC"
	if q.Desc {
		dir = " DESC"
	}
	return q, col + dir + ", id" + dir
}

func historyLimit(limit int) int {
	if limit < 1 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
