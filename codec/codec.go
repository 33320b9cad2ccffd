// Package codec ABI-encodes the payloads the vault hands to the outbound
// messenger, so the destination chain can decode them with a stock ABI decoder.
package codec

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/linlinbupt123-crypto/vault_service/entity"
)

var (
	uint8Type   = mustType("uint8")
	uint64Type  = mustType("uint64")
	uint256Type = mustType("uint256")
	stringType  = mustType("string")
	addressType = mustType("address")
	bytes32Type = mustType("bytes32")

	messageArgs = abi.Arguments{
		{Name: "action", Type: uint8Type},
		{Name: "protocolId", Type: stringType},
		{Name: "amount", Type: uint256Type},
		{Name: "recipient", Type: addressType},
	}

	reportArgs = abi.Arguments{
		{Name: "reportId", Type: bytes32Type},
		{Name: "asset", Type: addressType},
		{Name: "totalAssets", Type: uint256Type},
		{Name: "yield", Type: uint256Type},
		{Name: "timestamp", Type: uint64Type},
	}

	reportIDArgs = abi.Arguments{
		{Name: "asset", Type: addressType},
		{Name: "amount", Type: uint256Type},
		{Name: "timestamp", Type: uint64Type},
		{Name: "height", Type: uint64Type},
	}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Message is the instruction sent to a remote venue.
type Message struct {
	Action     entity.Action
	ProtocolID string
	Amount     *big.Int
	Recipient  common.Address
}

func EncodeMessage(m Message) ([]byte, error) {
	return messageArgs.Pack(uint8(m.Action), m.ProtocolID, m.Amount, m.Recipient)
}

func DecodeMessage(data []byte) (Message, error) {
	vals, err := messageArgs.Unpack(data)
	if err != nil {
		return Message{}, err
	}
	if len(vals) != len(messageArgs) {
		return Message{}, fmt.Errorf("message: got %d fields", len(vals))
	}
	return Message{
		Action:     entity.Action(vals[0].(uint8)),
		ProtocolID: vals[1].(string),
		Amount:     vals[2].(*big.Int),
		Recipient:  vals[3].(common.Address),
	}, nil
}

// Report is the yield report sent to the destination ledger.
type Report struct {
	ReportID    common.Hash
	Asset       common.Address
	TotalAssets *big.Int
	Yield       *big.Int
	Timestamp   time.Time
}

func EncodeReport(r Report) ([]byte, error) {
	return reportArgs.Pack([32]byte(r.ReportID), r.Asset, r.TotalAssets, r.Yield, uint64(r.Timestamp.Unix()))
}

func DecodeReport(data []byte) (Report, error) {
	vals, err := reportArgs.Unpack(data)
	if err != nil {
		return Report{}, err
	}
	if len(vals) != len(reportArgs) {
		return Report{}, fmt.Errorf("report: got %d fields", len(vals))
	}
	return Report{
		ReportID:    common.Hash(vals[0].([32]byte)),
		Asset:       vals[1].(common.Address),
		TotalAssets: vals[2].(*big.Int),
		Yield:       vals[3].(*big.Int),
		Timestamp:   time.Unix(int64(vals[4].(uint64)), 0).UTC(),
	}, nil
}

// ReportID is keccak256(abi.encode(asset, amount, timestamp, height)).
func ReportID(asset common.Address, amount *big.Int, ts time.Time, height uint64) (common.Hash, error) {
	packed, err := reportIDArgs.Pack(asset, amount, uint64(ts.Unix()), height)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}
