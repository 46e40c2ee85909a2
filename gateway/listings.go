package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fluxapi/fluxgate"
	"github.com/fluxapi/fluxgate/keygen"
)

type storeListingRequest struct {
	Cid     string          `json:"cid"`
	OwnerID string          `json:"ownerId"`
	Earning decimal.Decimal `json:"earning"`
}

// storeListing registers a published API in the marketplace.
func (s *Server) storeListing(c *gin.Context) {
	var req storeListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if req.Cid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CID is required"})
		return
	}
	if req.Earning.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "earning cannot be negative"})
		return
	}

	id, err := s.store.Create(c.Request.Context(), fluxgate.Listing{
		Cid:     req.Cid,
		OwnerID: fluxgate.NormalizeOwner(req.OwnerID),
		Earning: req.Earning,
	})
	if err != nil {
		s.fail(c, err, "Failed to store API")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// listings returns all marketplace listings, newest first.
func (s *Server) listings(c *gin.Context) {
	all, err := s.store.List(c.Request.Context())
	if err != nil {
		s.fail(c, err, "Could not read APIs from database")
		return
	}
	if all == nil {
		all = []fluxgate.Listing{}
	}
	c.JSON(http.StatusOK, gin.H{"listings": all})
}

type keygenRequest struct {
	Cid string `json:"cid"`
}

// keygenHandler mints a fresh credential identifier and its derived access
// key for a provider onboarding an API.
func (s *Server) keygenHandler(c *gin.Context) {
	var req keygenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Cid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CID is required"})
		return
	}

	id := "fluxapi-" + uuid.NewString()
	key, err := keygen.Derive(id, s.keySecret)
	if err != nil {
		s.fail(c, err, "Failed to derive access key")
		return
	}

	c.JSON(http.StatusOK, gin.H{"apiKey": key, "uuid": id})
}

// usageRow is the caller-facing shape of one usage record.
type usageRow struct {
	Timestamp      string `json:"timestamp"`
	ResponseStatus int    `json:"responseStatus"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

// usage returns up to 1000 usage records for an API, newest first.
func (s *Server) usage(c *gin.Context) {
	apiID := c.Param("apiId")
	if apiID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "apiId is required"})
		return
	}

	entries, err := s.store.ByAPI(c.Request.Context(), apiID, 1000)
	if err != nil {
		s.fail(c, err, "Failed to fetch usage logs")
		return
	}

	rows := make([]usageRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, usageRow{
			Timestamp:      e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			ResponseStatus: e.ResponseStatus,
			ResponseTimeMs: e.ResponseTimeMs,
		})
	}

	c.JSON(http.StatusOK, gin.H{"apiId": apiID, "usage": rows, "usageCount": len(rows)})
}
