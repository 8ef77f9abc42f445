package oracle

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/grip-leaderboard/internal/domain"
)

// numeric accepts a JSON string or number and keeps its textual form. The
// node encodes 64-bit integers as strings but older builds emit numbers.
type numeric string

func (n *numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = numeric(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = numeric(num.String())
	return nil
}

type noStakeReport struct {
	Value       string  `json:"value"`
	Timestamp   numeric `json:"timestamp"`
	Reporter    string  `json:"reporter"`
	BlockNumber numeric `json:"block_number"`
}

type pagination struct {
	NextKey *string `json:"next_key"`
}

type noStakeReportsResponse struct {
	NoStakeReports []noStakeReport `json:"no_stake_reports"`
	Pagination     *pagination     `json:"pagination"`
}

func (r noStakeReport) raw() domain.RawReport {
	return domain.RawReport{
		Value:       r.Value,
		Timestamp:   string(r.Timestamp),
		Reporter:    r.Reporter,
		BlockNumber: string(r.BlockNumber),
	}
}

type aggregate struct {
	AggregateValue    string  `json:"aggregate_value"`
	AggregateReporter string  `json:"aggregate_reporter"`
	Height            numeric `json:"height"`
}

type dataBeforeResponse struct {
	Aggregate *aggregate `json:"aggregate"`
	Timestamp numeric    `json:"timestamp"`
}

func (r dataBeforeResponse) raw() domain.RawReport {
	return domain.RawReport{
		Value:       r.Aggregate.AggregateValue,
		Timestamp:   string(r.Timestamp),
		Reporter:    r.Aggregate.AggregateReporter,
		BlockNumber: string(r.Aggregate.Height),
	}
}

// FetchResult is the outcome of one fetch call. Endpoint selection is part
// of the result rather than shared state, so independent calls never see
// each other's failover.
type FetchResult struct {
	QueryID         string
	Entries         []domain.Entry
	Endpoint        string
	UsedFallback    bool
	Pages           int
	Decoded         int
	Skipped         int
	TransportErrors int
	Truncated       bool
	StartedAt       time.Time
	Duration        time.Duration
}

// Observer receives structured events about fetch activity
type Observer interface {
	ObserveFetch(result FetchResult)
	ObserveSkipped(queryID string, report domain.RawReport, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(FetchResult) {}
func (nopObserver) ObserveSkipped(string, domain.RawReport, error) {}
