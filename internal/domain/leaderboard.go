package domain

import (
	"time"
)

// Dataset represents the challenge category a report was submitted for
type Dataset string

const (
	DatasetMens   Dataset = "mens"
	DatasetWomens Dataset = "womens"
	DatasetAll    Dataset = "all"
)

// Valid reports whether d names a known dataset filter
func (d Dataset) Valid() bool {
	switch d {
	case DatasetMens, DatasetWomens, DatasetAll:
		return true
	default:
		return false
	}
}

// SortField represents a leaderboard column that views can be ordered by
type SortField string

const (
	SortByDataset  SortField = "dataset"
	SortByStrength SortField = "strength"
	SortByXHandle  SortField = "x_handle"
	SortByGithub   SortField = "github"
	SortBySleep    SortField = "sleep"
	SortByReporter SortField = "reporter"
	SortByTime     SortField = "time"
)

// Valid reports whether f names a sortable column
func (f SortField) Valid() bool {
	switch f {
	case SortByDataset, SortByStrength, SortByXHandle, SortByGithub, SortBySleep, SortByReporter, SortByTime:
		return true
	default:
		return false
	}
}

// SortOrder represents the sort direction for leaderboard views
type SortOrder string

const (
	SortOrderDesc SortOrder = "desc"
	SortOrderAsc  SortOrder = "asc"
)

// RawReport is one record as returned by the node's REST API
type RawReport struct {
	Value       string `json:"value"`
	Timestamp   string `json:"timestamp"`
	Reporter    string `json:"reporter"`
	BlockNumber string `json:"block_number,omitempty"`
}

// Entry is a decoded report. Entries are values and are never modified once
// decoded.
type Entry struct {
	DataSet        bool    `json:"data_set"`
	RightHand      float64 `json:"right_hand"`
	LeftHand       float64 `json:"left_hand"`
	HoursOfSleep   int64   `json:"hours_of_sleep"`
	XHandle        string  `json:"x_handle"`
	GithubUsername string  `json:"github_username"`
	Reporter       string  `json:"reporter"`
	Timestamp      string  `json:"timestamp"`
	TimestampMs    int64   `json:"timestamp_ms"`
	ReadableTime   string  `json:"readable_time"`
	BlockNumber    *int64  `json:"block_number,omitempty"`
}

// Key is the identity of a report in the leaderboard log
type Key struct {
	Reporter  string
	Timestamp string
}

// Key returns the de-duplication key of the entry
func (e Entry) Key() Key {
	return Key{Reporter: e.Reporter, Timestamp: e.Timestamp}
}

// Strength returns the combined grip strength of both hands
func (e Entry) Strength() float64 {
	return e.RightHand + e.LeftHand
}

// DatasetName returns the display name of the entry's category
func (e Entry) DatasetName() string {
	if e.DataSet {
		return "Men's"
	}
	return "Women's"
}

// LogEntry is an entry as stored in the leaderboard log, stamped with the
// moment it was first seen
type LogEntry struct {
	Entry
	IngestedAt time.Time `json:"time"`
}

// Form holds the submission form input used to build an encoded payload
type Form struct {
	Dataset        Dataset `json:"dataset"`
	RightHand      float64 `json:"right_hand"`
	LeftHand       float64 `json:"left_hand"`
	HoursOfSleep   int64   `json:"hours_of_sleep"`
	XHandle        string  `json:"x_handle,omitempty"`
	GithubUsername string  `json:"github_username,omitempty"`
}

// PollStatus describes the outcome of the most recent poll cycle
type PollStatus struct {
	QueryID      string    `json:"query_id"`
	LastPollAt   time.Time `json:"last_poll_at,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
	UsedFallback bool      `json:"used_fallback"`
	LastError    string    `json:"last_error,omitempty"`
	Entries      int       `json:"entries"`
}
