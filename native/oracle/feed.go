package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

// FeedDecimals is the fixed-point scale upstream price feeds report in. A
// quote of 2000 USD arrives as 2000 * 10^8.
const FeedDecimals = 8

var (
	// ErrNoQuote indicates the feed has never been primed with a price.
	ErrNoQuote = errors.New("oracle: no quote recorded")
	// ErrStaleQuote indicates the latest quote is older than the freshness window.
	ErrStaleQuote = errors.New("oracle: quote older than freshness window")
	// ErrInvalidPrice indicates a submitted price was nil or non-positive.
	ErrInvalidPrice = errors.New("oracle: price must be positive")
)

// PriceFeed resolves the current USD price of a single asset, scaled to
// FeedDecimals. Implementations may fail; callers must treat every read as a
// fallible external call and never cache results across operations.
type PriceFeed interface {
	LatestPrice() (*big.Int, error)
}

// ManualFeed is a PriceFeed primed by an operator or test harness. Quotes
// expire after the configured freshness window, mirroring how upstream oracle
// aggregators discard aged observations.
type ManualFeed struct {
	mu      sync.RWMutex
	price   *big.Int
	updated time.Time
	maxAge  time.Duration
	now     func() time.Time
}

// NewManualFeed constructs a feed with the supplied freshness window. A zero
// window disables staleness checks.
func NewManualFeed(maxAge time.Duration) *ManualFeed {
	return &ManualFeed{maxAge: maxAge, now: time.Now}
}

// SetPrice records a new quote. The value is copied.
func (f *ManualFeed) SetPrice(price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	f.price = new(big.Int).Set(price)
	f.updated = f.now()
	f.mu.Unlock()
	return nil
}

// LatestPrice returns the most recent quote, failing when none exists or the
// quote has aged out of the freshness window.
func (f *ManualFeed) LatestPrice() (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, ErrNoQuote
	}
	if f.maxAge > 0 && f.now().Sub(f.updated) > f.maxAge {
		return nil, ErrStaleQuote
	}
	return new(big.Int).Set(f.price), nil
}

// SetClock overrides the time source. Test hook.
func (f *ManualFeed) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}
