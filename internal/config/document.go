package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/user/price-tracker/internal/domain"
)

// ErrInvalidDocument is returned when the crawl document fails validation.
var ErrInvalidDocument = errors.New("invalid crawl document")

// Schedule is the daily automatic run.
type Schedule struct {
	Query string `mapstructure:"query"`
	Time  string `mapstructure:"time"` // HH:MM, local time
}

type Notify struct {
	DiscordUserID string `mapstructure:"discord_user_id"`
}

// LastRun is written back after every run.
type LastRun struct {
	ChangedProducts int    `mapstructure:"nr_changed_products"`
	FinishedAt      string `mapstructure:"finished_at"`
}

// Document is the crawl configuration document: the sites to visit, the
// listing filters and the history cool-down.
type Document struct {
	Sites         []domain.SiteDescriptor `mapstructure:"sites"`
	Filters       domain.Filters          `mapstructure:"filters"`
	CoolDownHours float64                 `mapstructure:"cool_down_hours"`
	Schedule      Schedule                `mapstructure:"schedule"`
	Notify        Notify                  `mapstructure:"notify"`
	LastRun       LastRun                 `mapstructure:"last_run"`
}

// CoolDown returns the cool-down window.
func (d *Document) CoolDown() time.Duration {
	return time.Duration(d.CoolDownHours * float64(time.Hour))
}

// Validate reports every problem in the document at once.
func (d *Document) Validate() error {
	var errs []error

	if len(d.Sites) == 0 {
		errs = append(errs, errors.New("no sites configured"))
	}
	seen := make(map[string]bool)
	for i, s := range d.Sites {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("sites[%d]: name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("sites[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true

		switch s.DecimalSeparator {
		case "", ",", ".":
		default:
			errs = append(errs, fmt.Errorf("sites[%d]: decimal_separator must be \",\" or \".\"", i))
		}

		if s.URL == "" || s.SearchTemplate == "" {
			continue
		}
		if !strings.Contains(s.SearchTemplate, "{query}") {
			errs = append(errs, fmt.Errorf("sites[%d]: url_search_template has no {query} placeholder", i))
		}
		if s.Selectors.Product == "" {
			errs = append(errs, fmt.Errorf("sites[%d]: selectors.product is required", i))
		}
		if s.Selectors.Title == "" {
			errs = append(errs, fmt.Errorf("sites[%d]: selectors.title is required", i))
		}
	}

	f := d.Filters
	if f.MinPrice < 0 || f.MaxPrice < 0 || f.MinRating < 0 || f.MinRatings < 0 {
		errs = append(errs, errors.New("filters must not be negative"))
	}
	if f.MinPrice != 0 && f.MaxPrice != 0 && f.MaxPrice < f.MinPrice {
		errs = append(errs, errors.New("filters.max_price is below filters.min_price"))
	}
	if d.CoolDownHours < 0 {
		errs = append(errs, errors.New("cool_down_hours must not be negative"))
	}
	if d.Schedule.Time != "" {
		if _, err := time.Parse("15:04", d.Schedule.Time); err != nil {
			errs = append(errs, fmt.Errorf("schedule.time %q is not HH:MM", d.Schedule.Time))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, errors.Join(errs...))
	}
	return nil
}

// DocumentStore reads and updates the crawl document on disk.
type DocumentStore struct {
	path string
	mu   sync.Mutex
}

func NewDocumentStore(path string) *DocumentStore {
	return &DocumentStore{path: path}
}

func (s *DocumentStore) Path() string { return s.path }

func (s *DocumentStore) open() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return v, nil
}

// Load reads and validates the document.
func (s *DocumentStore) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.open()
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	for i := range doc.Sites {
		if doc.Sites[i].DecimalSeparator == "" {
			doc.Sites[i].DecimalSeparator = ","
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveRunResult writes the changed-product count of the last run back into
// the document, leaving the rest of it untouched.
func (s *DocumentStore) SaveRunResult(changed int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.open()
	if err != nil {
		return err
	}
	v.Set("last_run.nr_changed_products", changed)
	v.Set("last_run.finished_at", at.Format(time.RFC3339))
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
