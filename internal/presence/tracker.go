// Package presence tracks how long each product has been on the shelf and
// records a sale when a product is confirmed gone.
//
// Presence is refreshed on every frame, but removal is only decided on a
// slower verification clock, so a product hidden for a frame or two by a
// passing hand is never reported as sold. A Tracker is owned by a single
// goroutine and does no locking.
package presence

import (
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/banshee-data/inventory.report/internal/inventory"
	"github.com/banshee-data/inventory.report/internal/monitoring"
	"github.com/banshee-data/inventory.report/internal/timeutil"
	"github.com/banshee-data/inventory.report/internal/units"
)

// DefaultInterval is the verification interval used when none is configured.
const DefaultInterval = 5 * time.Second

// Timer records when a product was first seen and last confirmed present.
type Timer struct {
	Product      string    `json:"product"`
	FirstSeen    time.Time `json:"first_seen"`
	LastVerified time.Time `json:"last_verified"`
}

// Elapsed returns the visible duration at now.
func (t Timer) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.FirstSeen)
}

// Stats summarises tracker state.
type Stats struct {
	ActiveProducts       int     `json:"active_products"`
	TotalSales           int     `json:"total_sales"`
	VerificationInterval float64 `json:"verification_interval"`
	LastVerification     float64 `json:"last_verification"`
}

// Tracker runs the per-product timer state machine.
type Tracker struct {
	interval time.Duration
	clock    timeutil.Clock
	logger   *slog.Logger
	timezone string

	timers           map[string]*Timer
	previous         map[string]struct{}
	seenSinceVerify  map[string]struct{}
	lastVerification time.Time
	sales            []SaleRecord
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger sales are reported on.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = monitoring.Component(l, "presence") }
}

// WithTimezone sets the zone sale display strings are rendered in.
func WithTimezone(tz string) Option {
	return func(t *Tracker) { t.timezone = tz }
}

// New creates a tracker. The verification clock starts now, so the first
// verification cycle runs interval after construction. A non-positive
// interval uses DefaultInterval.
func New(interval time.Duration, clock timeutil.Clock, opts ...Option) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	t := &Tracker{
		interval:        interval,
		clock:           clock,
		logger:          monitoring.Component(nil, "presence"),
		timezone:        units.DefaultTimezone,
		timers:          make(map[string]*Timer),
		previous:        make(map[string]struct{}),
		seenSinceVerify: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	t.lastVerification = clock.Now()
	t.logger.Info("product tracker initialized", "verification_interval", interval)
	return t
}

// Interval returns the verification interval.
func (t *Tracker) Interval() time.Duration { return t.interval }

// Update refreshes timers from snapshot and, when a verification cycle is
// due, records a sale for every tracked product that has gone. It returns the
// sales recorded by this call in product-name order.
//
// A product counts as gone when it was in the previous snapshot or was seen
// at any point since the last verification, and is absent from snapshot.
func (t *Tracker) Update(snapshot inventory.Snapshot, now time.Time) []SaleRecord {
	names := snapshot.Names()
	for _, name := range names {
		if timer, ok := t.timers[name]; ok {
			timer.LastVerified = now
		} else {
			t.timers[name] = &Timer{Product: name, FirstSeen: now, LastVerified: now}
			t.logger.Debug("started timer", "product", name)
		}
		t.seenSinceVerify[name] = struct{}{}
	}

	var sold []SaleRecord
	if now.Sub(t.lastVerification) >= t.interval {
		sold = t.verify(snapshot, now)
		t.lastVerification = now
		clear(t.seenSinceVerify)
		for _, name := range names {
			t.seenSinceVerify[name] = struct{}{}
		}
	}

	clear(t.previous)
	for _, name := range names {
		t.previous[name] = struct{}{}
	}
	return sold
}

func (t *Tracker) verify(snapshot inventory.Snapshot, now time.Time) []SaleRecord {
	candidates := make(map[string]struct{}, len(t.previous)+len(t.seenSinceVerify))
	maps.Copy(candidates, t.previous)
	maps.Copy(candidates, t.seenSinceVerify)

	var sold []SaleRecord
	for _, name := range slices.Sorted(maps.Keys(candidates)) {
		if snapshot.Has(name) {
			continue
		}
		timer, ok := t.timers[name]
		if !ok {
			continue
		}
		delete(t.timers, name)

		sale := NewSaleRecord(name, now, t.timezone)
		t.sales = append(t.sales, sale)
		sold = append(sold, sale)
		t.logger.Info("sale recorded",
			"product", name,
			"visible_for", units.FormatElapsed(timer.Elapsed(now)),
			"at", sale.Display)
	}
	return sold
}

// ActiveTimers renders the elapsed time of every active timer at now.
func (t *Tracker) ActiveTimers(now time.Time) map[string]string {
	out := make(map[string]string, len(t.timers))
	for name, timer := range t.timers {
		out[name] = units.FormatElapsed(timer.Elapsed(now))
	}
	return out
}

// Timers returns a copy of the active timers sorted by product.
func (t *Tracker) Timers() []Timer {
	out := make([]Timer, 0, len(t.timers))
	for _, name := range slices.Sorted(maps.Keys(t.timers)) {
		out = append(out, *t.timers[name])
	}
	return out
}

// Timer returns the timer for product, if one is active.
func (t *Tracker) Timer(product string) (Timer, bool) {
	timer, ok := t.timers[product]
	if !ok {
		return Timer{}, false
	}
	return *timer, true
}

// SalesLog returns recorded sales oldest first. A positive limit returns only
// the most recent limit sales.
func (t *Tracker) SalesLog(limit int) []SaleRecord {
	sales := t.sales
	if limit > 0 && limit < len(sales) {
		sales = sales[len(sales)-limit:]
	}
	return slices.Clone(sales)
}

// TotalSales returns the number of recorded sales.
func (t *Tracker) TotalSales() int { return len(t.sales) }

// ClearSales empties the sales log and leaves timers running.
func (t *Tracker) ClearSales() {
	t.sales = nil
	t.logger.Info("sales log cleared")
}

// Reset drops all timers and sales and restarts the verification clock.
func (t *Tracker) Reset() {
	clear(t.timers)
	clear(t.previous)
	clear(t.seenSinceVerify)
	t.sales = nil
	t.lastVerification = t.clock.Now()
	t.logger.Info("product tracker reset")
}

// LastVerification returns when the last verification cycle ran.
func (t *Tracker) LastVerification() time.Time { return t.lastVerification }

// Stats returns the tracker summary.
func (t *Tracker) Stats() Stats {
	return Stats{
		ActiveProducts:       len(t.timers),
		TotalSales:           len(t.sales),
		VerificationInterval: t.interval.Seconds(),
		LastVerification:     units.UnixSeconds(t.lastVerification),
	}
}
