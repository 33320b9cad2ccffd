package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/linlinbupt123-crypto/vault_service/api"
	"github.com/linlinbupt123-crypto/vault_service/chain"
	"github.com/linlinbupt123-crypto/vault_service/config"
	"github.com/linlinbupt123-crypto/vault_service/db"
	"github.com/linlinbupt123-crypto/vault_service/domain"
	"github.com/linlinbupt123-crypto/vault_service/keystore"
	"github.com/linlinbupt123-crypto/vault_service/metrics"
	"github.com/linlinbupt123-crypto/vault_service/oracle"
	"github.com/linlinbupt123-crypto/vault_service/repository"
	"github.com/linlinbupt123-crypto/vault_service/service"
	"github.com/linlinbupt123-crypto/vault_service/settlement"
	"github.com/linlinbupt123-crypto/vault_service/strategy"
	"github.com/linlinbupt123-crypto/vault_service/treasury"
	"github.com/linlinbupt123-crypto/vault_service/utils"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vault HTTP daemon",
	Long: `Connects to MongoDB and the source chain, unlocks the relayer key,
registers the configured assets, strategies and remote adapters, and serves
the API until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. storage
	repo, err := db.NewMongoRepo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	defer func() {
		if err := repo.Close(context.Background()); err != nil {
			logger.Warn("mongo disconnect", zap.Error(err))
		}
	}()
	if err := db.EnsureIndexes(ctx, repo.DB); err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}

	// 2. relayer key and chain
	ks := keystore.New(repository.NewOperatorKeyRepo(repo), cfg.Keystore.Iterations)
	key, err := ks.Unlock(ctx, cfg.Keystore.Label, cfg.Keystore.Passphrase)
	if err != nil {
		return fmt.Errorf("unlock relayer key %q: %w", cfg.Keystore.Label, err)
	}
	client, err := chain.Dial(ctx, cfg.Eth.Endpoint())
	if err != nil {
		return err
	}
	defer client.Close()
	if cfg.Eth.ChainID != 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("chain id: %w", err)
		}
		if id.Int64() != cfg.Eth.ChainID {
			return fmt.Errorf("rpc serves chain %s, config expects %d", id, cfg.Eth.ChainID)
		}
	}
	mailboxes := make(map[uint32]common.Address, len(cfg.Eth.Mailboxes))
	for _, mb := range cfg.Eth.Mailboxes {
		mailboxes[mb.Domain] = common.HexToAddress(mb.Address)
	}
	relayer := chain.NewETHRelayer(client, key, mailboxes, logger)
	logger.Info("relayer ready", zap.String("from", relayer.From().Hex()), zap.Int("mailboxes", len(mailboxes)))
	if err := checkRelayerBalance(ctx, client, relayer.From()); err != nil {
		return err
	}

	// 3. vault core
	access := domain.Access{
		Owner:     common.HexToAddress(cfg.Roles.Owner),
		Bridge:    common.HexToAddress(cfg.Roles.Bridge),
		Confirmer: common.HexToAddress(cfg.Roles.Confirmer),
		Keeper:    common.HexToAddress(cfg.Roles.Keeper),
	}
	vaultAddr := common.HexToAddress(cfg.Vault.Address)
	tr := treasury.NewMemory()
	if err := seedTreasury(ctx, tr, cfg.Treasury); err != nil {
		return err
	}
	vault := domain.NewVault(vaultAddr, access, tr, relayer, relayer, logger,
		domain.WithHarvestInterval(cfg.Vault.HarvestInterval),
		domain.WithReportRoute(cfg.Vault.ReportDomain, cfg.Vault.ReportGasLimit),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	journal := repository.NewJournal(repo)
	rates := oracle.NewStatic()
	svc := service.NewVaultService(vault, rates, journal, m, logger)

	// 4. remote adapters
	policy := settlement.RollbackAtConfirmationRate
	if cfg.Vault.RollbackPolicy == "issuance" {
		policy = settlement.RollbackAtIssuanceRate
	}
	for _, rc := range cfg.Remotes {
		if err := registerRemote(ctx, svc, rates, journal, tr, relayer, access, vaultAddr, rc, policy); err != nil {
			return err
		}
	}

	// 5. assets and strategies
	for _, ac := range cfg.Assets {
		if err := registerAsset(ctx, svc, tr, access.Owner, vaultAddr, ac); err != nil {
			return err
		}
	}

	// 6. http
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(
		api.NewVaultHandler(svc, logger),
		m, reg,
		api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 0),
		logger,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server start failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func checkRelayerBalance(ctx context.Context, client *ethclient.Client, from common.Address) error {
	if cfg.Eth.MinBalance == "" {
		return nil
	}
	floor, err := utils.ETHToWei(cfg.Eth.MinBalance)
	if err != nil {
		return fmt.Errorf("eth.min_balance: %w", err)
	}
	bal, err := client.BalanceAt(ctx, from, nil)
	if err != nil {
		return fmt.Errorf("relayer balance: %w", err)
	}
	if bal.Cmp(floor) < 0 {
		logger.Warn("relayer balance below minimum",
			zap.String("balance_eth", utils.WeiToETH(bal)),
			zap.String("min_eth", cfg.Eth.MinBalance))
	}
	return nil
}

func seedTreasury(ctx context.Context, tr *treasury.Memory, tc config.TreasuryConfig) error {
	for i, b := range tc.Balances {
		amount, err := utils.ParseAmount(b.Amount)
		if err != nil {
			return fmt.Errorf("treasury.balances[%d]: %w", i, err)
		}
		tr.Credit(common.HexToAddress(b.Asset), common.HexToAddress(b.Holder), amount)
	}
	for i, a := range tc.Allowances {
		amount := math.MaxBig256
		if a.Amount != "max" {
			var err error
			if amount, err = utils.ParseAmount(a.Amount); err != nil {
				return fmt.Errorf("treasury.allowances[%d]: %w", i, err)
			}
		}
		err := tr.Approve(ctx, common.HexToAddress(a.Asset), common.HexToAddress(a.Owner), common.HexToAddress(a.Spender), amount)
		if err != nil {
			return fmt.Errorf("treasury.allowances[%d]: %w", i, err)
		}
	}
	return nil
}

func registerRemote(
	ctx context.Context,
	svc *service.VaultService,
	rates *oracle.Static,
	journal *repository.Journal,
	tr domain.Treasury,
	relayer domain.Messenger,
	access domain.Access,
	vaultAddr common.Address,
	rc config.RemoteConfig,
	policy settlement.RollbackPolicy,
) error {
	rate := decimal.NewFromInt(1)
	if rc.Rate != "" {
		var err error
		if rate, err = decimal.NewFromString(rc.Rate); err != nil {
			return fmt.Errorf("remote %s: rate: %w", rc.ProtocolID, err)
		}
	}
	if err := rates.Set(rc.ProtocolID, rate); err != nil {
		return fmt.Errorf("remote %s: %w", rc.ProtocolID, err)
	}

	remote := settlement.NewRemoteAdapter(settlement.Config{
		ProtocolID:   rc.ProtocolID,
		Address:      common.HexToAddress(rc.Escrow),
		Asset:        common.HexToAddress(rc.Asset),
		Vault:        vaultAddr,
		Recipient:    common.HexToAddress(rc.Recipient),
		TargetDomain: rc.Domain,
		GasLimit:     rc.GasLimit,
		Access:       access,
	}, tr, relayer, rates, logger,
		settlement.WithObserver(svc),
		settlement.WithRollbackPolicy(policy),
	)
	svc.AddRemote(remote)

	// Operations left unresolved by a previous process are not replayed into
	// the new in-memory ledger; surface them for the operator.
	stale, err := journal.Outstanding(ctx, rc.ProtocolID)
	if err != nil {
		logger.Warn("read journal", zap.String("protocol", rc.ProtocolID), zap.Error(err))
	} else if len(stale) > 0 {
		logger.Warn("journal holds unresolved operations from a previous run",
			zap.String("protocol", rc.ProtocolID),
			zap.Int("count", len(stale)),
			zap.Uint64("first_sequence", stale[0].Sequence))
	}
	return nil
}

func registerAsset(
	ctx context.Context,
	svc *service.VaultService,
	tr domain.Treasury,
	owner, vaultAddr common.Address,
	ac config.AssetConfig,
) error {
	asset := common.HexToAddress(ac.Address)
	if err := svc.AddSupportedAsset(ctx, owner, asset, ac.ReserveRatio); err != nil {
		return fmt.Errorf("asset %s: %w", asset.Hex(), err)
	}
	for i, sc := range ac.Strategies {
		var err error
		switch sc.Kind {
		case "lending":
			_, err = svc.AddStrategy(ctx, owner, asset,
				strategy.NewLending(common.HexToAddress(sc.Address), asset, vaultAddr, tr, sc.APY), sc.Weight)
		case "autocompound":
			_, err = svc.AddStrategy(ctx, owner, asset,
				strategy.NewAutoCompound(common.HexToAddress(sc.Address), asset, vaultAddr, tr, sc.APY), sc.Weight)
		case "remote":
			_, err = svc.AddRemoteStrategy(ctx, owner, asset, sc.Protocol, sc.Weight)
		default:
			err = fmt.Errorf("unknown kind %q", sc.Kind)
		}
		if err != nil {
			return fmt.Errorf("asset %s strategy %d: %w", asset.Hex(), i, err)
		}
	}
	logger.Info("asset registered",
		zap.String("asset", asset.Hex()),
		zap.Uint64("reserve_ratio", ac.ReserveRatio),
		zap.Int("strategies", len(ac.Strategies)))
	return nil
}
