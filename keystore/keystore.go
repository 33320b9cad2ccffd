// Package keystore manages the operator key that signs relayed messages.
//
// The BIP39 seed and mnemonic are stored encrypted with AES-256-GCM under a
// PBKDF2-SHA256 key. KDF parameters travel in SaltHex as
// "pbkdf2$<iterations>$<hexsalt>".
package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"

	"github.com/linlinbupt123-crypto/vault_service/entity"
	"github.com/linlinbupt123-crypto/vault_service/utils"
)

const (
	kdfLabel          = "pbkdf2"
	DefaultIterations = 310_000
)

var ErrBadPassphrase = errors.New("incorrect passphrase or corrupted data")

// Repository persists operator keys.
type Repository interface {
	CreateOperatorKey(ctx context.Context, key *entity.OperatorKey) error
	OperatorKeyByLabel(ctx context.Context, label string) (*entity.OperatorKey, error)
}

type Keystore struct {
	repo       Repository
	iterations int
	now        func() time.Time
}

func New(repo Repository, iterations int) *Keystore {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Keystore{repo: repo, iterations: iterations, now: time.Now}
}

// Create generates a 24-word mnemonic and stores the resulting key under label.
func (k *Keystore) Create(ctx context.Context, label, passphrase, path string) (*entity.OperatorKey, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return k.Import(ctx, label, mnemonic, passphrase, path)
}

// Import stores the key derived from an existing mnemonic.
func (k *Keystore) Import(ctx context.Context, label, mnemonic, passphrase, path string) (*entity.OperatorKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	if path == "" {
		path = utils.DefaultOperatorPath
	}
	seed := bip39.NewSeed(mnemonic, "")
	defer clearBytes(seed)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	xpub, err := master.Neuter()
	if err != nil {
		return nil, fmt.Errorf("failed to neuter master key: %w", err)
	}
	priv, err := DeriveETHKey(seed, path)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := deriveKey(passphrase, salt, k.iterations)
	defer clearBytes(key)

	encSeed, err := encrypt(seed, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt seed: %w", err)
	}
	encMnemonic, err := encrypt([]byte(mnemonic), key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt mnemonic: %w", err)
	}

	op := &entity.OperatorKey{
		Label:             label,
		MnemonicEncrypted: encMnemonic,
		EncryptedSeed:     encSeed,
		XPub:              xpub.String(),
		SaltHex:           encodeSaltMeta(salt, k.iterations),
		Path:              path,
		Address:           crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		CreatedAt:         k.now(),
	}
	if err := k.repo.CreateOperatorKey(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to persist operator key: %w", err)
	}
	return op, nil
}

// Unlock decrypts the key stored under label and derives its signing key.
func (k *Keystore) Unlock(ctx context.Context, label, passphrase string) (*ecdsa.PrivateKey, error) {
	op, err := k.repo.OperatorKeyByLabel(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("operator key not found: %w", err)
	}
	seed, err := DecryptSeed(op, passphrase)
	if err != nil {
		return nil, err
	}
	defer clearBytes(seed)
	return DeriveETHKey(seed, op.Path)
}

func DecryptSeed(op *entity.OperatorKey, passphrase string) ([]byte, error) {
	if op == nil {
		return nil, errors.New("operator key is nil")
	}
	salt, iterations, err := decodeSaltMeta(op.SaltHex)
	if err != nil {
		return nil, fmt.Errorf("invalid salt metadata: %w", err)
	}
	key := deriveKey(passphrase, salt, iterations)
	defer clearBytes(key)

	seed, err := decrypt(op.EncryptedSeed, key)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return seed, nil
}

// DeriveETHKey walks a BIP32 path ("m/44'/60'/0'/0/0" or without "m/") from seed.
func DeriveETHKey(seed []byte, path string) (*ecdsa.PrivateKey, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	indices, err := parseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path: %w", err)
	}
	key := master
	for _, idx := range indices {
		if key, err = key.Derive(idx); err != nil {
			return nil, fmt.Errorf("failed to derive child key: %w", err)
		}
	}
	ec, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get EC private key: %w", err)
	}
	raw := ec.Serialize()
	defer clearBytes(raw)
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to ecdsa: %w", err)
	}
	return priv, nil
}

func parseDerivationPath(path string) ([]uint32, error) {
	p := strings.TrimSpace(path)
	if strings.HasPrefix(p, "m/") || strings.HasPrefix(p, "M/") {
		p = p[2:]
	}
	if p == "" {
		return nil, errors.New("empty derivation path")
	}
	parts := strings.Split(p, "/")
	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		hardened := strings.HasSuffix(part, "'")
		part = strings.TrimSuffix(part, "'")
		v, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid derivation index %q", part)
		}
		idx := uint32(v)
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func deriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
}

// encrypt returns nonce|ciphertext.
func encrypt(data, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func decrypt(data, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encodeSaltMeta(salt []byte, iterations int) string {
	return fmt.Sprintf("%s$%d$%s", kdfLabel, iterations, hex.EncodeToString(salt))
}

func decodeSaltMeta(meta string) ([]byte, int, error) {
	parts := strings.Split(meta, "$")
	if len(parts) != 3 {
		return nil, 0, errors.New("invalid salt metadata format")
	}
	if parts[0] != kdfLabel {
		return nil, 0, errors.New("unsupported kdf")
	}
	iter, err := strconv.Atoi(parts[1])
	if err != nil || iter <= 0 {
		return nil, 0, errors.New("invalid kdf iterations")
	}
	salt, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, 0, errors.New("invalid salt hex")
	}
	return salt, iter, nil
}
