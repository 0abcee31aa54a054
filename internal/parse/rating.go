package parse

import (
	"strconv"
	"strings"
)

// Rating is a parsed rating. Either field is nil when its part failed.
type Rating struct {
	Value *float64
	Count *int
}

// ParseRating reads text such as "4,5 (120)". The first token is the score
// and the last token, parentheses stripped, the number of ratings.
func ParseRating(text string) Rating {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return Rating{}
	}

	var r Rating
	if v, err := strconv.ParseFloat(strings.ReplaceAll(tokens[0], ",", "."), 64); err == nil {
		r.Value = &v
	}

	if len(tokens) > 1 {
		last := strings.NewReplacer("(", "", ")", "").Replace(tokens[len(tokens)-1])
		if n, err := strconv.Atoi(last); err == nil {
			r.Count = &n
		}
	}
	return r
}
