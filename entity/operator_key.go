package entity

import (
	"time"
)

// OperatorKey is the encrypted seed backing the key that signs outbound
// cross-chain messages.
type OperatorKey struct {
	ID                string    `bson:"_id,omitempty" json:"id"`
	Label             string    `bson:"label" json:"label"`
	MnemonicEncrypted []byte    `bson:"mnemonic_encrypted" json:"-"`
	EncryptedSeed     []byte    `bson:"encrypted_seed" json:"-"`
	XPub              string    `bson:"xpub" json:"xpub"`
	SaltHex           string    `bson:"salt_hex" json:"-"`
	Path              string    `bson:"path" json:"path"`
	Address           string    `bson:"address" json:"address"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
}
