package presence

import (
	"encoding/json"
	"time"

	"github.com/banshee-data/inventory.report/internal/units"
)

// SaleRecord is one confirmed removal. Records are immutable once created.
type SaleRecord struct {
	Product   string
	Timestamp time.Time
	// Display is Timestamp rendered in the tracker's zone, e.g.
	// "2025-06-23 07:03:46 PM EDT".
	Display string
}

// NewSaleRecord creates a record for product at ts, rendering the display
// string in tz.
func NewSaleRecord(product string, ts time.Time, tz string) SaleRecord {
	return SaleRecord{
		Product:   product,
		Timestamp: ts,
		Display:   units.FormatLocal(ts, tz),
	}
}

type saleJSON struct {
	Product   string  `json:"product"`
	Timestamp float64 `json:"timestamp"`
	ESTTime   string  `json:"est_time"`
}

// MarshalJSON encodes the record as {"product","timestamp","est_time"} with
// the timestamp in fractional Unix seconds.
func (s SaleRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(saleJSON{
		Product:   s.Product,
		Timestamp: units.UnixSeconds(s.Timestamp),
		ESTTime:   s.Display,
	})
}

// UnmarshalJSON decodes the wire form written by MarshalJSON.
func (s *SaleRecord) UnmarshalJSON(b []byte) error {
	var w saleJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	sec := int64(w.Timestamp)
	nsec := int64((w.Timestamp - float64(sec)) * 1e9)
	s.Product = w.Product
	s.Timestamp = time.Unix(sec, nsec).UTC()
	s.Display = w.ESTTime
	return nil
}
