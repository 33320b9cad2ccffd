package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/db"
	"github.com/linlinbupt123-crypto/vault_service/entity"
	"github.com/linlinbupt123-crypto/vault_service/keystore"
	"github.com/linlinbupt123-crypto/vault_service/repository"
)

const (
	mnemonicEnv    = "VAULT_MNEMONIC"
	commandTimeout = 30 * time.Second
)

var initKeyCmd = &cobra.Command{
	Use:   "init-key",
	Short: "Create or import the relayer signing key",
	Long: `Generates a new mnemonic, or imports the one in $VAULT_MNEMONIC, and
stores the encrypted seed under keystore.label. The passphrase comes from
keystore.passphrase (or KEYSTORE_PASSPHRASE).`,
	Args: cobra.NoArgs,
	RunE: runInitKey,
}

var (
	distributionsLimit int64
	distributionsCmd   = &cobra.Command{
		Use:   "distributions [asset]",
		Short: "List the most recent yield distributions for an asset",
		Args:  cobra.ExactArgs(1),
		RunE:  runDistributions,
	}
)

func init() {
	distributionsCmd.Flags().Int64VarP(&distributionsLimit, "limit", "n", 20, "number of records")
}

func runInitKey(cmd *cobra.Command, _ []string) error {
	if cfg.Keystore.Passphrase == "" {
		return fmt.Errorf("keystore.passphrase is empty")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	repo, err := db.NewMongoRepo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	defer repo.Close(context.Background())
	if err := db.EnsureIndexes(ctx, repo.DB); err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}

	ks := keystore.New(repository.NewOperatorKeyRepo(repo), cfg.Keystore.Iterations)
	kc := cfg.Keystore
	var op *entity.OperatorKey
	if m := strings.TrimSpace(os.Getenv(mnemonicEnv)); m != "" {
		op, err = ks.Import(ctx, kc.Label, m, kc.Passphrase, kc.Path)
	} else {
		op, err = ks.Create(ctx, kc.Label, kc.Passphrase, kc.Path)
	}
	if err != nil {
		return err
	}
	logger.Info("operator key stored", zap.String("label", kc.Label))
	return printJSON(cmd, op)
}

func runDistributions(cmd *cobra.Command, args []string) error {
	if !common.IsHexAddress(args[0]) {
		return fmt.Errorf("not an address: %q", args[0])
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	repo, err := db.NewMongoRepo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	defer repo.Close(context.Background())

	ds, err := repository.NewJournal(repo).Distributions(ctx, common.HexToAddress(args[0]), distributionsLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd, ds)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
