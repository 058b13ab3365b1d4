// Package items holds the currency item domain: the stored rate rows, their
// validation rules, and the service that keeps them in sync with observed
// market quotes while fanning out change events.
package items

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrNotFound is returned when no item matches the requested id.
	ErrNotFound = errors.New("item not found")
	// ErrConflict is returned when an item with the same currency exists.
	ErrConflict = errors.New("item with this currency already exists")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Item is a single stored currency rate, expressed in roubles per unit.
type Item struct {
	ID              int64     `json:"id"`
	Currency        string    `json:"currency"`
	Rate            float64   `json:"rate"`
	Amount          int       `json:"amount"`
	Platform        string    `json:"platform"`
	CryptoCurrency  bool      `json:"crypto_currency"`
	LastUpdatedTime time.Time `json:"last_updated_time"`
}

// CreateRequest is the payload for POST /items.
type CreateRequest struct {
	Currency       string  `json:"currency"`
	Rate           float64 `json:"rate"`
	Amount         *int    `json:"amount,omitempty"`
	Platform       string  `json:"platform"`
	CryptoCurrency bool    `json:"crypto_currency"`
}

// UpdateRequest is the payload for PATCH /items/:id. Nil fields are left as is.
type UpdateRequest struct {
	Rate           *float64 `json:"rate,omitempty"`
	Amount         *int     `json:"amount,omitempty"`
	Platform       *string  `json:"platform,omitempty"`
	CryptoCurrency *bool    `json:"crypto_currency,omitempty"`
}

// Empty reports whether the request carries no fields.
func (r UpdateRequest) Empty() bool {
	return r.Rate == nil && r.Amount == nil && r.Platform == nil && r.CryptoCurrency == nil
}

// Quote is a rate observed at a market source.
type Quote struct {
	Currency string  `json:"currency"`
	Rate     float64 `json:"rate"`
	Amount   int     `json:"amount"`
	Platform string  `json:"platform"`
}

// NormalizeCurrency trims and upper-cases a currency code and checks that it
// is a non-empty run of letters.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", &ValidationError{Field: "currency", Message: "must not be empty"}
	}
	for _, r := range code {
		if !unicode.IsLetter(r) {
			return "", &ValidationError{Field: "currency", Message: "must contain letters only"}
		}
	}
	return code, nil
}

// Validate normalizes the request in place and returns the first rule it breaks.
func (r *CreateRequest) Validate() error {
	code, err := NormalizeCurrency(r.Currency)
	if err != nil {
		return err
	}
	r.Currency = code

	if err := validateRate(r.Rate); err != nil {
		return err
	}

	if r.Amount == nil {
		one := 1
		r.Amount = &one
	}
	if err := validateAmount(*r.Amount); err != nil {
		return err
	}

	platform, err := validatePlatform(r.Platform)
	if err != nil {
		return err
	}
	r.Platform = platform
	return nil
}

// Validate normalizes the provided fields in place and checks them.
func (r *UpdateRequest) Validate() error {
	if r.Rate != nil {
		if err := validateRate(*r.Rate); err != nil {
			return err
		}
	}
	if r.Amount != nil {
		if err := validateAmount(*r.Amount); err != nil {
			return err
		}
	}
	if r.Platform != nil {
		platform, err := validatePlatform(*r.Platform)
		if err != nil {
			return err
		}
		r.Platform = &platform
	}
	return nil
}

// apply copies the set fields onto it and reports whether anything changed.
func (r UpdateRequest) apply(it *Item) bool {
	changed := false
	if r.Rate != nil && *r.Rate != it.Rate {
		it.Rate = *r.Rate
		changed = true
	}
	if r.Amount != nil && *r.Amount != it.Amount {
		it.Amount = *r.Amount
		changed = true
	}
	if r.Platform != nil && *r.Platform != it.Platform {
		it.Platform = *r.Platform
		changed = true
	}
	if r.CryptoCurrency != nil && *r.CryptoCurrency != it.CryptoCurrency {
		it.CryptoCurrency = *r.CryptoCurrency
		changed = true
	}
	return changed
}

func validateRate(rate float64) error {
	if rate < 0 {
		return &ValidationError{Field: "rate", Message: "must not be negative"}
	}
	return nil
}

func validateAmount(amount int) error {
	if amount < 1 {
		return &ValidationError{Field: "amount", Message: "must be >= 1"}
	}
	return nil
}

func validatePlatform(platform string) (string, error) {
	platform = strings.TrimSpace(platform)
	if platform == "" {
		return "", &ValidationError{Field: "platform", Message: "must not be empty"}
	}
	return platform, nil
}
