// Package submission validates form input and describes how an encoded
// payload reaches the chain: as a wallet message or as a layerd command.
package submission

import (
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/grip-leaderboard/internal/codec"
	"github.com/grip-leaderboard/internal/config"
	"github.com/grip-leaderboard/internal/domain"
)

// MsgTypeURL is the message type of a no-stake report transaction
const MsgTypeURL = "/layer.oracle.MsgNoStakeReport"

// DefaultKeyName is printed in place of the sender when none is known
const DefaultKeyName = "YOUR_KEY_NAME"

// maxHandleBytes is the room a handle has in one payload chunk
const maxHandleBytes = codec.ChunkSize / 2

// Validate checks the form before it is encoded
func Validate(form domain.Form) error {
	if form.Dataset != domain.DatasetMens && form.Dataset != domain.DatasetWomens {
		return domain.ErrInvalidDataset
	}
	if !positive(form.RightHand) {
		return domain.ErrInvalidRightHand
	}
	if !positive(form.LeftHand) {
		return domain.ErrInvalidLeftHand
	}
	if form.HoursOfSleep < 0 {
		return domain.ErrInvalidSleep
	}
	if len(form.XHandle) > maxHandleBytes {
		return fmt.Errorf("x handle: %w", domain.ErrHandleTooLong)
	}
	if len(form.GithubUsername) > maxHandleBytes {
		return fmt.Errorf("github username: %w", domain.ErrHandleTooLong)
	}
	return nil
}

// keyName matches the names layerd accepts for keyring entries
var keyName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateSender checks the --from value of a generated command. Values that
// start with the address prefix must be bech32 addresses of that prefix;
// anything else must be a plain key name. An empty sender is allowed.
func ValidateSender(from, prefix string) error {
	if from == "" {
		return nil
	}
	if prefix != "" && strings.HasPrefix(strings.ToLower(from), prefix+"1") {
		hrp, _, err := bech32.Decode(from)
		if err != nil || hrp != prefix {
			return fmt.Errorf("%w: %q is not a %s address", domain.ErrInvalidSender, from, prefix)
		}
		return nil
	}
	if !keyName.MatchString(from) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidSender, from)
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// Coin is an amount of a single denomination
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// Fee is the fee attached to a wallet transaction
type Fee struct {
	Amount []Coin `json:"amount"`
	Gas    string `json:"gas"`
}

// MsgNoStakeReport is the body of a no-stake report message
type MsgNoStakeReport struct {
	Creator   string `json:"creator"`
	QueryData []byte `json:"query_data"`
	Value     string `json:"value"`
}

// WalletMessage describes the transaction a wallet signs and broadcasts
type WalletMessage struct {
	ChainID string           `json:"chain_id"`
	TypeURL string           `json:"type_url"`
	Value   MsgNoStakeReport `json:"value"`
	Fee     Fee              `json:"fee"`
	Memo    string           `json:"memo"`
}

// Payload is an encoded form together with both ways of submitting it
type Payload struct {
	Value         string        `json:"value"`
	QueryData     string        `json:"query_data"`
	WalletMessage WalletMessage `json:"wallet_message"`
	CLICommand    string        `json:"cli_command"`
}

// Builder turns validated forms into payloads
type Builder struct {
	cfg       *config.SubmissionConfig
	queryData []byte
}

// NewBuilder creates a builder. It fails when the configured query data is
// not valid hex.
func NewBuilder(cfg *config.SubmissionConfig) (*Builder, error) {
	queryData, err := hex.DecodeString(strings.TrimPrefix(cfg.QueryData, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decoding query data: %w", err)
	}
	return &Builder{cfg: cfg, queryData: queryData}, nil
}

// Build validates the form and the sender and encodes the form. from is the
// sender's address or key name and may be empty.
func (b *Builder) Build(form domain.Form, from string) (*Payload, error) {
	if err := Validate(form); err != nil {
		return nil, err
	}
	if err := ValidateSender(from, b.cfg.AddressPrefix); err != nil {
		return nil, err
	}
	value := codec.Encode(form)
	return &Payload{
		Value:         value,
		QueryData:     b.cfg.QueryData,
		WalletMessage: b.WalletMessage(value, from),
		CLICommand:    b.Command(value, from),
	}, nil
}

// WalletMessage returns the message a wallet would sign for value
func (b *Builder) WalletMessage(value, creator string) WalletMessage {
	return WalletMessage{
		ChainID: b.cfg.ChainID,
		TypeURL: MsgTypeURL,
		Value: MsgNoStakeReport{
			Creator:   creator,
			QueryData: b.queryData,
			Value:     value,
		},
		Fee: Fee{
			Amount: []Coin{{Denom: b.cfg.FeeDenom, Amount: b.cfg.WalletFee}},
			Gas:    strconv.Itoa(b.cfg.WalletGas),
		},
		Memo: b.cfg.WalletMemo,
	}
}

// Command returns the layerd invocation that submits value
func (b *Builder) Command(value, from string) string {
	if from == "" {
		from = DefaultKeyName
	}
	return fmt.Sprintf("%s tx oracle submit-no-stake-report '%s' '%s' --from %s --chain-id %s --fees %s --gas %d --node %s",
		b.cfg.Binary, b.cfg.QueryData, value, from, b.cfg.ChainID, b.cfg.CLIFees, b.cfg.CLIGas, b.cfg.CLINode)
}
