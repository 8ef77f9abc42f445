package codec

import (
	"math/big"
	"strings"

	"github.com/grip-leaderboard/internal/domain"
	"github.com/shopspring/decimal"
)

// Encode packs validated form input into a 0x-prefixed payload of ChunkCount
// chunks. Callers validate the form first; Encode does not.
func Encode(form domain.Form) string {
	chunks := make([]string, ChunkCount)
	for i := range chunks {
		chunks[i] = zeroChunk
	}

	if form.Dataset == domain.DatasetMens {
		chunks[0] = padRight("1")
	}
	chunks[1] = EncodeUintToHex(ScaleGrip(form.RightHand))
	chunks[2] = EncodeUintToHex(ScaleGrip(form.LeftHand))
	chunks[5] = EncodeUintToHex(big.NewInt(form.HoursOfSleep))
	chunks[7] = padRight(EncodeStringToHex(form.XHandle))
	chunks[9] = padRight(EncodeStringToHex(form.GithubUsername))

	return "0x" + strings.Join(chunks, "")
}

// ScaleGrip converts pounds to the on-chain fixed-point integer, truncating
// below 10^-18
func ScaleGrip(pounds float64) *big.Int {
	return decimal.NewFromFloat(pounds).Shift(gripExponent).Floor().BigInt()
}
