// Package codec converts between the packed hex payload carried by oracle
// reports and the decoded leaderboard entry.
package codec

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/grip-leaderboard/internal/domain"
)

const (
	// ChunkSize is the width of one field in hex characters (32 bytes)
	ChunkSize = 64

	// ChunkCount is the number of fields in a report payload
	ChunkCount = 10
)

var zeroChunk = strings.Repeat("0", ChunkSize)

// DecodeHexToString strips trailing '0' characters from the chunk and reads
// the remaining characters pairwise as bytes. The trim works on characters,
// not bytes, so a value ending in a byte such as 0x70 loses its low nibble.
// Malformed input yields an empty string.
func DecodeHexToString(chunk string) string {
	trimmed := strings.TrimRight(chunk, "0")
	out := make([]byte, 0, (len(trimmed)+1)/2)
	for i := 0; i < len(trimmed); i += 2 {
		end := min(i+2, len(trimmed))
		b, err := strconv.ParseUint(trimmed[i:end], 16, 8)
		if err != nil {
			return ""
		}
		out = append(out, byte(b))
	}
	return string(out)
}

// DecodeHexToUint parses a base-16 chunk. An empty chunk is zero.
func DecodeHexToUint(chunk string) (*big.Int, error) {
	if chunk == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(chunk, 16)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidHex, chunk)
	}
	return n, nil
}

// EncodeStringToHex hex-encodes the UTF-8 bytes of s. The result is not padded.
func EncodeStringToHex(s string) string {
	return hex.EncodeToString([]byte(s))
}

// EncodeUintToHex returns n as a left-zero-padded chunk. Nil and
// non-positive values encode as an all-zero chunk.
func EncodeUintToHex(n *big.Int) string {
	if n == nil || n.Sign() <= 0 {
		return zeroChunk
	}
	return fmt.Sprintf("%064x", n)
}

// padRight right-pads a hex string with zeros to the chunk width
func padRight(h string) string {
	if len(h) >= ChunkSize {
		return h
	}
	return h + zeroChunk[:ChunkSize-len(h)]
}

// SplitChunks strips an optional 0x prefix and splits the value into
// consecutive chunks. A trailing partial chunk is kept.
func SplitChunks(value string) []string {
	h := strings.TrimPrefix(value, "0x")
	if h == "" {
		return nil
	}
	chunks := make([]string, 0, (len(h)+ChunkSize-1)/ChunkSize)
	for i := 0; i < len(h); i += ChunkSize {
		chunks = append(chunks, h[i:min(i+ChunkSize, len(h))])
	}
	return chunks
}
