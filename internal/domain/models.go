package domain

import "time"

// NotAvailable stands in for listing fields the page did not provide.
const NotAvailable = "N/A"

// Selectors locate listing fields inside a search results page. ID names an
// attribute of the product container rather than a selector.
type Selectors struct {
	Product         string `mapstructure:"product" json:"product"`
	Title           string `mapstructure:"title" json:"title"`
	Link            string `mapstructure:"link" json:"link"`
	Price           string `mapstructure:"price" json:"price"`
	Currency        string `mapstructure:"currency" json:"currency"`
	Rating          string `mapstructure:"rating" json:"rating"`
	ID              string `mapstructure:"id" json:"id"`
	ImageLink       string `mapstructure:"image_link" json:"image_link"`
	RemoveItemsWith string `mapstructure:"remove_items_with" json:"remove_items_with"`
	EndOfPages      string `mapstructure:"end_of_pages" json:"end_of_pages"`
}

// SiteDescriptor is one crawlable shop.
type SiteDescriptor struct {
	Name             string    `mapstructure:"name" json:"name"`
	URL              string    `mapstructure:"url" json:"url"`
	SearchTemplate   string    `mapstructure:"url_search_template" json:"url_search_template"`
	DecimalSeparator string    `mapstructure:"decimal_separator" json:"decimal_separator"`
	Selectors        Selectors `mapstructure:"selectors" json:"selectors"`
}

// Filters bound accepted listings. A zero field is unconstrained.
type Filters struct {
	MinPrice   float64 `mapstructure:"min_price" json:"min_price"`
	MaxPrice   float64 `mapstructure:"max_price" json:"max_price"`
	MinRating  float64 `mapstructure:"min_rating" json:"min_rating"`
	MinRatings int     `mapstructure:"min_ratings" json:"min_ratings"`
}

// Allow reports whether a listing with the given values passes every active
// bound. A missing value fails any bound on it.
func (f Filters) Allow(price, rating *float64, ratings *int) bool {
	if f.MinPrice != 0 && (price == nil || *price < f.MinPrice) {
		return false
	}
	if f.MaxPrice != 0 && (price == nil || *price > f.MaxPrice) {
		return false
	}
	if f.MinRating != 0 && (rating == nil || *rating < f.MinRating) {
		return false
	}
	if f.MinRatings != 0 && (ratings == nil || *ratings < f.MinRatings) {
		return false
	}
	return true
}

// Listing is a single product card as read from a results page.
type Listing struct {
	Title      string
	PriceText  string
	RatingText string
	Link       string
	ExternalID string
	ImageLink  string
	// Currency is set when the site has a dedicated currency selector.
	Currency string
	Excluded bool
}

// Page is the extraction result for one results page.
type Page struct {
	URL          string
	Containers   int
	EndOfResults bool
	Listings     []Listing
}

// Product is a catalog entry, unique per (SiteName, ExternalID).
type Product struct {
	ID            int64     `json:"id"`
	SiteName      string    `json:"site_name"`
	ExternalID    string    `json:"external_id"`
	Title         string    `json:"title"`
	Link          string    `json:"link"`
	ImageLink     string    `json:"image_link"`
	Currency      string    `json:"currency,omitempty"`
	Rating        *float64  `json:"rating"`
	RatingsCount  *int      `json:"ratings_count"`
	LastPrice     *int64    `json:"last_price"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	Watch         bool      `json:"watch"`
	WatchMaxPrice *int64    `json:"watch_max_price"`
}

// PriceHistory is one observed price. PriceMinor is in hundredths.
type PriceHistory struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	PriceMinor *int64    `json:"price"`
	CapturedAt time.Time `json:"captured_at"`
}

// ProductQuery filters and pages the catalog listing.
type ProductQuery struct {
	Text     string
	Site     string
	MinPrice *int64
	MaxPrice *int64
	Page     int
	PerPage  int
	OrderBy  string
	Desc     bool
}

// ProductPage is one page of catalog results.
type ProductPage struct {
	Items   []Product `json:"items"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
}

// RunState is the lifecycle of a scrape run.
type RunState string

const (
	RunIdle    RunState = "idle"
	RunRunning RunState = "running"
	RunDone    RunState = "done"
	RunFailed  RunState = "failed"
)

// RunStatus is the last known state of the scrape run.
type RunStatus struct {
	State      RunState  `json:"status"`
	Query      string    `json:"query,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Changed    int       `json:"nr_changed_products"`
	Error      string    `json:"error,omitempty"`
}
