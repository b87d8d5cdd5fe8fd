package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/crossfusion/swapd/internal/core/application"
	"github.com/crossfusion/swapd/internal/core/domain"
	"github.com/crossfusion/swapd/pkg/dutch"
)

type createSwapRequest struct {
	OrderID string `json:"orderId"`
	Maker   string `json:"maker" binding:"required"`
	Taker   string `json:"taker"`

	MakingAmount string `json:"makingAmount" binding:"required"`
	TakingAmount string `json:"takingAmount" binding:"required"`
	MakingToken  string `json:"makingToken"`
	TakingToken  string `json:"takingToken"`

	SourceChain    string `json:"sourceChain" binding:"required"`
	TargetChain    string `json:"targetChain" binding:"required"`
	SourceContract string `json:"sourceContract"`
	TargetContract string `json:"targetContract"`

	SecretHash string `json:"secretHash" binding:"required"`
	TimeLock   int64  `json:"timeLock" binding:"required"`
	MaxRetries int    `json:"maxRetries"`
}

type createAuctionRequest struct {
	Seller         string `json:"seller"`
	StartPrice     string `json:"startPrice" binding:"required"`
	EndPrice       string `json:"endPrice" binding:"required"`
	DurationSec    int64  `json:"durationSeconds" binding:"required"`
	SecretHash     string `json:"secretHash" binding:"required"`
	EscrowContract string `json:"escrowContract"`
}

type failSwapRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *service) createSwap(c *gin.Context) {
	var req createSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	makingAmount, err := decimal.NewFromString(req.MakingAmount)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	takingAmount, err := decimal.NewFromString(req.TakingAmount)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	swap, err := s.coordinator.Create(c, application.CreateSwapParams{
		OrderID:        req.OrderID,
		Maker:          req.Maker,
		Taker:          req.Taker,
		MakingAmount:   makingAmount,
		TakingAmount:   takingAmount,
		MakingToken:    req.MakingToken,
		TakingToken:    req.TakingToken,
		SourceChain:    req.SourceChain,
		TargetChain:    req.TargetChain,
		SourceContract: req.SourceContract,
		TargetContract: req.TargetContract,
		SecretHash:     req.SecretHash,
		TimeLock:       time.Unix(req.TimeLock, 0).UTC(),
		MaxRetries:     req.MaxRetries,
	})
	if err != nil {
		abortWithError(c, statusForError(err), err)
		return
	}

	// Besides the periodic sweep, check this swap right when its timelock
	// expires so refunds are not delayed by up to one sweep interval.
	if s.scheduler != nil {
		if err := s.scheduler.ScheduleAtTime(swap.ExpiresAt, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.coordinator.CheckExpiry(ctx, time.Now().UTC()); err != nil {
				log.WithError(err).WithField("swap", swap.ID).Warn("timelock check failed")
			}
		}); err != nil {
			log.WithError(err).WithField("swap", swap.ID).Warn("failed to schedule timelock check")
		}
	}

	c.JSON(http.StatusCreated, swapResponse(swap))
}

func (s *service) getSwap(c *gin.Context) {
	swap, err := s.coordinator.GetSwap(c, c.Param("id"))
	if err != nil {
		abortWithError(c, statusForError(err), err)
		return
	}
	c.JSON(http.StatusOK, swapResponse(swap))
}

func (s *service) listSwaps(c *gin.Context) {
	filter := domain.SwapFilter{
		SourceChain: c.Query("sourceChain"),
		TargetChain: c.Query("targetChain"),
		Maker:       c.Query("maker"),
	}
	if raw := c.Query("status"); raw != "" {
		status := domain.SwapStatus(raw)
		filter.Status = &status
	}
	page := domain.Page{
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
	}

	swaps, err := s.coordinator.ListSwaps(c, filter, page)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]gin.H, 0, len(swaps))
	for i := range swaps {
		out = append(out, swapResponse(&swaps[i]))
	}
	c.JSON(http.StatusOK, gin.H{"swaps": out})
}

func (s *service) failSwap(c *gin.Context) {
	var req failSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := s.coordinator.MarkFailed(c, c.Param("id"), req.Reason); err != nil {
		abortWithError(c, statusForError(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *service) createAuction(c *gin.Context) {
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	startPrice, err := decimal.NewFromString(req.StartPrice)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	endPrice, err := decimal.NewFromString(req.EndPrice)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	order, err := s.coordinator.CreateAuction(c, application.CreateAuctionParams{
		Seller:         req.Seller,
		StartPrice:     startPrice,
		EndPrice:       endPrice,
		Duration:       time.Duration(req.DurationSec) * time.Second,
		SecretHash:     req.SecretHash,
		EscrowContract: req.EscrowContract,
	})
	if err != nil {
		abortWithError(c, statusForError(err), err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":              order.ID,
		"seller":          order.Seller,
		"startPrice":      order.StartPrice.String(),
		"endPrice":        order.EndPrice.String(),
		"durationSeconds": int64(order.Duration / time.Second),
		"secretHash":      order.SecretHash,
		"createdAt":       order.CreatedAt.Unix(),
	})
}

// getPrice evaluates the decay schedule at an arbitrary elapsed offset,
// without touching any stored auction.
func (s *service) getPrice(c *gin.Context) {
	startPrice, err := decimal.NewFromString(c.Query("startPrice"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	endPrice, err := decimal.NewFromString(c.Query("endPrice"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	durationSec, err := strconv.ParseInt(c.Query("durationSeconds"), 10, 64)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	elapsedSec, err := strconv.ParseInt(c.DefaultQuery("elapsedSeconds", "0"), 10, 64)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	price, err := dutch.Price(
		startPrice, endPrice,
		time.Duration(durationSec)*time.Second,
		time.Duration(elapsedSec)*time.Second,
	)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": price.String()})
}

func (s *service) getStats(c *gin.Context) {
	stats, err := s.coordinator.Stats(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *service) getStatus(c *gin.Context) {
	status, err := s.monitor.Status(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	resp := gin.H{
		"isRunning":            status.IsRunning,
		"lastSync":             status.LastSync,
		"processingQueueDepth": status.QueueDepth,
	}
	if s.scheduler != nil {
		if next := s.scheduler.WhenNextSweep(); !next.IsZero() {
			resp["nextExpirySweep"] = next.Unix()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func swapResponse(swap *domain.Swap) gin.H {
	resp := gin.H{
		"id":           swap.ID,
		"orderId":      swap.OrderID,
		"maker":        swap.Maker,
		"taker":        swap.Taker,
		"makingAmount": swap.MakingAmount.String(),
		"takingAmount": swap.TakingAmount.String(),
		"makingToken":  swap.MakingToken,
		"takingToken":  swap.TakingToken,
		"sourceChain":  swap.SourceChain,
		"targetChain":  swap.TargetChain,
		"secretHash":   swap.SecretHash,
		"status":       swap.Status,
		"substatus":    swap.Substatus,
		"timeLock":     swap.TimeLock.Unix(),
		"createdAt":    swap.CreatedAt.Unix(),
		"updatedAt":    swap.UpdatedAt.Unix(),
	}
	if swap.SourceTxHash != "" {
		resp["sourceTxHash"] = swap.SourceTxHash
	}
	if swap.TargetTxHash != "" {
		resp["targetTxHash"] = swap.TargetTxHash
	}
	if swap.RefundTxHash != "" {
		resp["refundTxHash"] = swap.RefundTxHash
	}
	// The preimage is only disclosed once the swap is complete.
	if swap.Status == domain.SwapStatusCompleted && swap.Secret != "" {
		resp["secret"] = swap.Secret
	}
	return resp
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrSwapNotFound),
		errors.Is(err, domain.ErrAuctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateSecretHash),
		errors.Is(err, domain.ErrSwapExists),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidParameters):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return fallback
	}
	return val
}
