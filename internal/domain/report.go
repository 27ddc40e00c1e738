package domain

import "time"

// Discrepancy is one difference found between local state and the venue.
type Discrepancy struct {
	Kind          string
	ClientOrderID string
	BrokerOrderID string
	Local         string
	Venue         string
}

// ReconciliationReport is the transient outcome of a reconciler run.
type ReconciliationReport struct {
	Symbol        string
	Kind          string
	Discrepancies []Discrepancy
	Counts        map[string]int
	CreatedAt     time.Time
}

// OK reports whether no discrepancies were found.
func (r *ReconciliationReport) OK() bool {
	return r == nil || len(r.Discrepancies) == 0
}
