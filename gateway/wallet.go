package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"

	"github.com/fluxapi/fluxgate"
	"github.com/fluxapi/fluxgate/ledger"
)

type claimRequest struct {
	APIID string `json:"apiId"`
}

// claim pays out a listing's accrued earnings to its owner.
func (s *Server) claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.APIID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "apiId is required"})
		return
	}

	result, err := s.payout.Claim(c.Request.Context(), req.APIID)
	if err != nil {
		switch {
		case errors.Is(err, fluxgate.ErrListingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "API not found"})
		case errors.Is(err, fluxgate.ErrInvalidAddress):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid owner Solana address"})
		case errors.Is(err, fluxgate.ErrNothingToClaim):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No earnings to claim"})
		case errors.Is(err, fluxgate.ErrTransferFailed), errors.Is(err, fluxgate.ErrInvalidAmount):
			s.logger.Error("payout transfer failed", "apiId", req.APIID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "USDC transfer failed", "details": err.Error()})
		default:
			s.fail(c, err, "Failed to claim earnings")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"signature": result.Signature,
		"amount":    result.Amount,
		"to":        result.To,
		"explorer":  result.Explorer,
	})
}

type earningsRequest struct {
	Address string `json:"address"`
}

// earnings lists the content addresses of all APIs owned by a provider.
func (s *Server) earnings(c *gin.Context) {
	var req earningsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}
	if !ledger.ValidAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid Solana address"})
		return
	}

	cids, err := s.store.CidsByOwner(c.Request.Context(), fluxgate.NormalizeOwner(req.Address))
	if err != nil {
		s.fail(c, err, "Failed to fetch earnings")
		return
	}
	if cids == nil {
		cids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"apiIds": cids})
}

// balance reports the settlement-token balance of a wallet. An address with
// no token account reads as zero.
func (s *Server) balance(c *gin.Context) {
	address := c.Param("address")
	if !ledger.ValidAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid Solana address"})
		return
	}
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid Solana address"})
		return
	}

	amount, err := s.wallet.TokenBalance(c.Request.Context(), owner)
	if err != nil && !errors.Is(err, fluxgate.ErrAccountNotFound) {
		s.fail(c, err, "Failed to fetch balance")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"balance": amount,
		"token":   fluxgate.SettlementToken,
	})
}

// health reports gateway liveness including cluster reachability.
func (s *Server) health(c *gin.Context) {
	slot, err := s.wallet.Slot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"blockchain":  "solana",
		"cluster":     s.cluster,
		"currentSlot": slot,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}
