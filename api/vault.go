package api

import (
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/linlinbupt123-crypto/vault_service/domain"
	"github.com/linlinbupt123-crypto/vault_service/entity"
	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
	"github.com/linlinbupt123-crypto/vault_service/request"
	"github.com/linlinbupt123-crypto/vault_service/service"
	"github.com/linlinbupt123-crypto/vault_service/utils"
)

type VaultHandler struct {
	vaultService *service.VaultService
	log          *zap.Logger
}

func NewVaultHandler(vs *service.VaultService, log *zap.Logger) *VaultHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &VaultHandler{vaultService: vs, log: log.Named("api")}
}

// Register mounts the principal-scoped routes on r. Every route requires a caller.
func (h *VaultHandler) Register(r gin.IRouter) {
	bridge := r.Group("/bridge")
	bridge.POST("/deposit", h.Deposit)
	bridge.POST("/withdraw", h.Withdraw)

	confirmer := r.Group("/confirmer")
	confirmer.POST("/confirm", h.Confirm)
	confirmer.POST("/report", h.UpdateYieldReport)
	confirmer.POST("/rate", h.SetExchangeRate)

	admin := r.Group("/admin")
	admin.POST("/assets", h.AddAsset)
	admin.POST("/reserve-ratio", h.SetReserveRatio)
	admin.POST("/harvest-interval", h.SetHarvestInterval)
	admin.POST("/strategies", h.AddStrategy)
	admin.POST("/strategies/remove", h.RemoveStrategy)
	admin.POST("/strategies/weight", h.SetStrategyWeight)
	admin.POST("/strategies/active", h.SetStrategyActive)
	admin.POST("/rebalance", h.Rebalance)
	admin.POST("/fees", h.FundFees)

	keeper := r.Group("/keeper")
	keeper.POST("/harvest", h.Harvest)
	keeper.POST("/distribute", h.Distribute)

	r.GET("/assets", h.GetOverview)
	r.GET("/assets/:asset", h.GetAsset)
	r.GET("/remotes", h.GetRemotes)
	r.GET("/remotes/:protocol/pending", h.GetPending)
}

// ---------- bridge ----------

func (h *VaultHandler) Deposit(c *gin.Context) {
	var req request.DepositReq
	if !bind(c, &req) {
		return
	}
	asset, amount, ok := assetAmount(c, req.Asset, req.Amount)
	if !ok {
		return
	}
	res, err := h.vaultService.DepositFromBridge(c.Request.Context(), callerOf(c), asset, amount)
	if err != nil {
		h.fail(c, err, gin.H{"deployed": res.Deployed, "legs": res.Legs})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reserve":  res.Reserve,
		"deployed": res.Deployed,
		"legs":     res.Legs,
	})
}

func (h *VaultHandler) Withdraw(c *gin.Context) {
	var req request.WithdrawReq
	if !bind(c, &req) {
		return
	}
	asset, amount, ok := assetAmount(c, req.Asset, req.Amount)
	if !ok {
		return
	}
	recipient, ok := address(c, "recipient", req.Recipient)
	if !ok {
		return
	}
	if err := h.vaultService.WithdrawToBridge(c.Request.Context(), callerOf(c), asset, recipient, amount); err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ---------- confirmer ----------

func (h *VaultHandler) Confirm(c *gin.Context) {
	var req request.ConfirmReq
	if !bind(c, &req) {
		return
	}
	tx, err := h.vaultService.ConfirmTransaction(c.Request.Context(), callerOf(c), req.ProtocolID, req.Sequence, req.Success)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, pendingView(tx))
}

func (h *VaultHandler) UpdateYieldReport(c *gin.Context) {
	var req request.YieldReportReq
	if !bind(c, &req) {
		return
	}
	report := entity.YieldReport{ProtocolID: req.ProtocolID, APY: req.APY}
	for _, f := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"deposited", req.Deposited, &report.Deposited},
		{"current_value", req.CurrentValue, &report.CurrentValue},
		{"pending_rewards", req.PendingRewards, &report.PendingRewards},
	} {
		if f.raw == "" {
			*f.dst = new(big.Int)
			continue
		}
		v, err := utils.ParseAmount(f.raw)
		if err != nil {
			badRequest(c, fmt.Errorf("%s: %w", f.name, err))
			return
		}
		*f.dst = v
	}
	if err := h.vaultService.UpdateYieldReport(c.Request.Context(), callerOf(c), report); err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *VaultHandler) SetExchangeRate(c *gin.Context) {
	var req request.ExchangeRateReq
	if !bind(c, &req) {
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		badRequest(c, fmt.Errorf("rate: %w", err))
		return
	}
	if err := h.vaultService.SetExchangeRate(c.Request.Context(), callerOf(c), req.ProtocolID, rate); err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ---------- admin ----------

func (h *VaultHandler) AddAsset(c *gin.Context) {
	var req request.AddAssetReq
	if !bind(c, &req) {
		return
	}
	asset, ok := address(c, "asset", req.Asset)
	if !ok {
		return
	}
	h.done(c, h.vaultService.AddSupportedAsset(c.Request.Context(), callerOf(c), asset, req.ReserveRatio))
}

func (h *VaultHandler) SetReserveRatio(c *gin.Context) {
	var req request.ReserveRatioReq
	if !bind(c, &req) {
		return
	}
	asset, ok := address(c, "asset", req.Asset)
	if !ok {
		return
	}
	h.done(c, h.vaultService.SetReserveRatio(c.Request.Context(), callerOf(c), asset, req.ReserveRatio))
}

func (h *VaultHandler) SetHarvestInterval(c *gin.Context) {
	var req request.HarvestIntervalReq
	if !bind(c, &req) {
		return
	}
	d, err := time.ParseDuration(req.Interval)
	if err != nil || d < 0 {
		badRequest(c, fmt.Errorf("interval: invalid duration %q", req.Interval))
		return
	}
	h.done(c, h.vaultService.SetHarvestInterval(c.Request.Context(), callerOf(c), d))
}

func (h *VaultHandler) AddStrategy(c *gin.Context) {
	var req request.AddStrategyReq
	if !bind(c, &req) {
		return
	}
	asset, ok := address(c, "asset", req.Asset)
	if !ok {
		return
	}
	idx, err := h.vaultService.AddRemoteStrategy(c.Request.Context(), callerOf(c), asset, req.ProtocolID, req.Weight)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": idx})
}

func (h *VaultHandler) RemoveStrategy(c *gin.Context) {
	var req request.StrategyIndexReq
	if !bind(c, &req) {
		return
	}
	asset, ok := address(c, "asset", req.Asset)
	if !ok {
		return
	}
	h.done(c, h.vaultService.RemoveStrategy(c.Request.Context(), callerOf(c), asset, req.Index))
}

func (h *VaultHandler) SetStrategyWeight(c *gin.Context) {
	var req request.StrategyWeightReq
	if !bind(c, &req) {
		return
	}
	asset, ok := address(c, "asset", req.Asset)
	if !ok {
		return
	}
	h.done(c, h.vaultService.SetStrategyWeight(c.Request.Context(), callerOf(c), asset, req.Index, req.Weight))
}

func (h *VaultHandler) SetStrategyActive(c *gin.Context) {
	var req request.StrategyActiveReq
	if !bind(c, &req) {
		return
	}
	asset, ok := address(c, "asset", req.Asset)
	if !ok {
		return
	}
	h.done(c, h.vaultService.SetStrategyActive(c.Request.Context(), callerOf(c), asset, req.Index, req.Active))
}

func (h *VaultHandler) Rebalance(c *gin.Context) {
	var req request.AssetReq
	if !bind(c, &req) {
		return
	}
	asset, ok := address(c, "asset", req.Asset)
	if !ok {
		return
	}
	report, err := h.vaultService.Rebalance(c.Request.Context(), callerOf(c), asset)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	failures := make([]gin.H, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, gin.H{"index": f.Index, "adapter": f.Adapter, "error": f.Err.Error()})
	}
	c.JSON(http.StatusOK, gin.H{
		"total":      report.Total,
		"reserve":    report.Reserve,
		"deployable": report.Deployable,
		"moves":      report.Moves,
		"failures":   failures,
	})
}

func (h *VaultHandler) FundFees(c *gin.Context) {
	var req request.FundFeesReq
	if !bind(c, &req) {
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, fmt.Errorf("amount: %w", err))
		return
	}
	if req.ProtocolID == "" {
		h.done(c, h.vaultService.FundFees(c.Request.Context(), callerOf(c), amount))
		return
	}
	h.done(c, h.vaultService.FundRemoteFees(c.Request.Context(), callerOf(c), req.ProtocolID, amount))
}

// ---------- keeper ----------

func (h *VaultHandler) Harvest(c *gin.Context) {
	var req request.AssetReq
	if !bind(c, &req) {
		return
	}
	asset, ok := address(c, "asset", req.Asset)
	if !ok {
		return
	}
	y, err := h.vaultService.HarvestYield(c.Request.Context(), callerOf(c), asset)
	if err != nil {
		h.fail(c, err, gin.H{"harvested": y})
		return
	}
	c.JSON(http.StatusOK, gin.H{"harvested": y})
}

func (h *VaultHandler) Distribute(c *gin.Context) {
	var req request.AssetReq
	if !bind(c, &req) {
		return
	}
	asset, ok := address(c, "asset", req.Asset)
	if !ok {
		return
	}
	d, err := h.vaultService.DistributeYield(c.Request.Context(), callerOf(c), asset)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ---------- queries ----------

func (h *VaultHandler) GetOverview(c *gin.Context) {
	c.JSON(http.StatusOK, h.vaultService.Overview())
}

func (h *VaultHandler) GetAsset(c *gin.Context) {
	asset, ok := address(c, "asset", c.Param("asset"))
	if !ok {
		return
	}
	ctx := c.Request.Context()
	a, err := h.vaultService.Asset(asset)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	allocs, err := h.vaultService.Allocations(asset)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	total, err := h.vaultService.TotalAssets(ctx, asset)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	apy, err := h.vaultService.CurrentAPY(ctx, asset)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":        a,
		"total_assets": total,
		"apy":          apy,
		"allocations":  allocationViews(allocs),
	})
}

func (h *VaultHandler) GetRemotes(c *gin.Context) {
	c.JSON(http.StatusOK, h.vaultService.Remotes())
}

func (h *VaultHandler) GetPending(c *gin.Context) {
	txs, err := h.vaultService.Outstanding(c.Param("protocol"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	out := make([]gin.H, 0, len(txs))
	for _, tx := range txs {
		out = append(out, pendingView(tx))
	}
	c.JSON(http.StatusOK, out)
}

// ---------- helpers ----------

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	switch wrapErrors.KindOf(err) {
	case wrapErrors.KindAuthorization:
		return http.StatusForbidden
	case wrapErrors.KindState:
		return http.StatusConflict
	case wrapErrors.KindArithmetic:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (h *VaultHandler) fail(c *gin.Context, err error, extra gin.H) {
	body := gin.H{
		"error":      err.Error(),
		"code":       wrapErrors.CodeOf(err),
		"kind":       wrapErrors.KindOf(err).String(),
		"request_id": c.GetString(ctxRequestID),
	}
	for k, v := range extra {
		body[k] = v
	}
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("upstream failure",
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.String("route", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func (h *VaultHandler) done(c *gin.Context, err error) {
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "request_id": c.GetString(ctxRequestID)})
}

func address(c *gin.Context, field, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		badRequest(c, fmt.Errorf("%s: not an address: %q", field, raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func assetAmount(c *gin.Context, rawAsset, rawAmount string) (common.Address, *big.Int, bool) {
	asset, ok := address(c, "asset", rawAsset)
	if !ok {
		return common.Address{}, nil, false
	}
	amount, err := utils.ParseAmount(rawAmount)
	if err != nil {
		badRequest(c, fmt.Errorf("amount: %w", err))
		return common.Address{}, nil, false
	}
	return asset, amount, true
}

func pendingView(tx entity.PendingTransaction) gin.H {
	return gin.H{
		"sequence":    tx.Sequence,
		"action":      tx.Action.String(),
		"amount":      tx.Amount,
		"shares":      tx.Shares,
		"issued_rate": tx.IssuedRate,
		"issued_at":   tx.IssuedAt,
		"state":       tx.State.String(),
		"resolved_at": tx.ResolvedAt,
	}
}

func allocationViews(allocs []domain.StrategyAllocation) []gin.H {
	out := make([]gin.H, 0, len(allocs))
	for i, a := range allocs {
		out = append(out, gin.H{
			"index":     i,
			"adapter":   a.Adapter.Address(),
			"weight":    a.TargetWeight,
			"deposited": a.DepositedAmount,
			"active":    a.IsActive,
		})
	}
	return out
}
