package codec

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/grip-leaderboard/internal/domain"
	"github.com/shopspring/decimal"
)

// ReadableTimeLayout matches the browser's default locale rendering
const ReadableTimeLayout = "1/2/2006, 3:04:05 PM"

// gripExponent is the fixed-point exponent of the grip strength fields
const gripExponent = 18

var (
	thousand = big.NewInt(1_000)
	million  = big.NewInt(1_000_000)
)

// Decoder turns raw reports into leaderboard entries
type Decoder struct {
	location *time.Location
}

// NewDecoder creates a decoder rendering readable times in loc.
// A nil location uses the process local time zone.
func NewDecoder(loc *time.Location) *Decoder {
	if loc == nil {
		loc = time.Local
	}
	return &Decoder{location: loc}
}

// RecordFailure describes a report that could not be decoded
type RecordFailure struct {
	Index  int
	Report domain.RawReport
	Err    error
}

// BatchResult holds the outcome of decoding a page of reports. Every input
// report lands in exactly one of Entries or Failures.
type BatchResult struct {
	Entries  []domain.Entry
	Failures []RecordFailure
}

// DecodeBatch decodes every report, collecting failures instead of stopping
func (d *Decoder) DecodeBatch(reports []domain.RawReport) BatchResult {
	var result BatchResult
	for i, report := range reports {
		entry, err := d.DecodeReport(report)
		if err != nil {
			result.Failures = append(result.Failures, RecordFailure{Index: i, Report: report, Err: err})
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	return result
}

// DecodeReport decodes a single raw report
func (d *Decoder) DecodeReport(report domain.RawReport) (domain.Entry, error) {
	chunks := SplitChunks(report.Value)
	if len(chunks) < ChunkCount {
		return domain.Entry{}, fmt.Errorf("%w: got %d", domain.ErrInsufficientData, len(chunks))
	}

	rightHand, err := decodeGrip(chunks[1])
	if err != nil {
		return domain.Entry{}, fmt.Errorf("decoding right hand: %w", err)
	}
	leftHand, err := decodeGrip(chunks[2])
	if err != nil {
		return domain.Entry{}, fmt.Errorf("decoding left hand: %w", err)
	}

	sleep, err := DecodeHexToUint(chunks[5])
	if err != nil {
		return domain.Entry{}, fmt.Errorf("decoding hours of sleep: %w", err)
	}
	if !sleep.IsInt64() {
		return domain.Entry{}, fmt.Errorf("decoding hours of sleep: %w: out of range", domain.ErrInvalidHex)
	}

	timestampMs, err := NormalizeTimestampMs(report.Timestamp)
	if err != nil {
		return domain.Entry{}, err
	}

	reporter := report.Reporter
	if reporter == "" {
		reporter = "N/A"
	}

	return domain.Entry{
		// The flag is the first character of the chunk. Some dashboard
		// builds read the last one instead.
		DataSet:        chunks[0][0] == '1',
		RightHand:      rightHand,
		LeftHand:       leftHand,
		HoursOfSleep:   sleep.Int64(),
		XHandle:        DecodeHexToString(chunks[7]),
		GithubUsername: DecodeHexToString(chunks[9]),
		Reporter:       reporter,
		Timestamp:      report.Timestamp,
		TimestampMs:    timestampMs,
		ReadableTime:   time.UnixMilli(timestampMs).In(d.location).Format(ReadableTimeLayout),
		BlockNumber:    parseBlockNumber(report.BlockNumber),
	}, nil
}

// decodeGrip reads a fixed-point chunk scaled by 10^18
func decodeGrip(chunk string) (float64, error) {
	n, err := DecodeHexToUint(chunk)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromBigInt(n, -gripExponent).InexactFloat64(), nil
}

// NormalizeTimestampMs converts a raw timestamp to milliseconds, sniffing
// the unit from its digit count: 18+ nanoseconds, 15+ microseconds,
// 12+ milliseconds, anything shorter seconds.
func NormalizeTimestampMs(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() < 0 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidTimestamp, raw)
	}

	switch digits := len(raw); {
	case digits >= 18:
		n.Quo(n, million)
	case digits >= 15:
		n.Quo(n, thousand)
	case digits >= 12:
	default:
		n.Mul(n, thousand)
	}

	if !n.IsInt64() {
		return 0, fmt.Errorf("%w: %q out of range", domain.ErrInvalidTimestamp, raw)
	}
	return n.Int64(), nil
}

func parseBlockNumber(raw string) *int64 {
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
