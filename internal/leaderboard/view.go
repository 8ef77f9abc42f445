package leaderboard

import (
	"cmp"
	"slices"
	"strings"

	"github.com/grip-leaderboard/internal/domain"
)

// View describes how the log is presented: a dataset filter, a sort column
// with direction, and an optional limit
type View struct {
	Dataset domain.Dataset
	SortBy  domain.SortField
	Order   domain.SortOrder
	Limit   int
}

// Apply returns a filtered, sorted copy of entries. The input is not modified.
func (v View) Apply(entries []domain.LogEntry) []domain.LogEntry {
	out := Filter(entries, v.Dataset)
	if v.SortBy != "" {
		out = Sort(out, v.SortBy, v.Order)
	}
	if v.Limit > 0 && len(out) > v.Limit {
		out = out[:v.Limit]
	}
	return out
}

// Filter returns the entries of the given dataset. DatasetAll (or an empty
// value) keeps everything.
func Filter(entries []domain.LogEntry, dataset domain.Dataset) []domain.LogEntry {
	out := make([]domain.LogEntry, 0, len(entries))
	for _, e := range entries {
		switch dataset {
		case domain.DatasetMens:
			if !e.DataSet {
				continue
			}
		case domain.DatasetWomens:
			if e.DataSet {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// Sort returns a copy of entries ordered by field. The sort is stable: ties
// keep their relative order from the input.
func Sort(entries []domain.LogEntry, field domain.SortField, order domain.SortOrder) []domain.LogEntry {
	out := slices.Clone(entries)
	compare := comparator(field)
	if compare == nil {
		return out
	}
	if order == domain.SortOrderDesc {
		asc := compare
		compare = func(a, b domain.LogEntry) int { return asc(b, a) }
	}
	slices.SortStableFunc(out, compare)
	return out
}

// ByStrength orders entries by combined grip strength, strongest first
func ByStrength(entries []domain.LogEntry) []domain.LogEntry {
	return Sort(entries, domain.SortByStrength, domain.SortOrderDesc)
}

func comparator(field domain.SortField) func(a, b domain.LogEntry) int {
	switch field {
	case domain.SortByDataset:
		return func(a, b domain.LogEntry) int { return cmp.Compare(boolRank(a.DataSet), boolRank(b.DataSet)) }
	case domain.SortByStrength:
		return func(a, b domain.LogEntry) int { return cmp.Compare(a.Strength(), b.Strength()) }
	case domain.SortByXHandle:
		return func(a, b domain.LogEntry) int { return strings.Compare(strings.ToLower(a.XHandle), strings.ToLower(b.XHandle)) }
	case domain.SortByGithub:
		return func(a, b domain.LogEntry) int {
			return strings.Compare(strings.ToLower(a.GithubUsername), strings.ToLower(b.GithubUsername))
		}
	case domain.SortBySleep:
		return func(a, b domain.LogEntry) int { return cmp.Compare(a.HoursOfSleep, b.HoursOfSleep) }
	case domain.SortByReporter:
		return func(a, b domain.LogEntry) int { return strings.Compare(a.Reporter, b.Reporter) }
	case domain.SortByTime:
		return func(a, b domain.LogEntry) int { return cmp.Compare(a.TimestampMs, b.TimestampMs) }
	default:
		return nil
	}
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
