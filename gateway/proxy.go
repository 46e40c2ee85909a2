package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fluxapi/fluxgate"
	"github.com/fluxapi/fluxgate/keygen"
)

// accessHeader carries the derived upstream credential on proxied calls.
const accessHeader = "X-Fluxapi-Key"

// maxUpstreamBytes caps how much of a provider response is buffered.
const maxUpstreamBytes = 8 << 20

// invokeRequest is the body of the payment-gated proxy call.
type invokeRequest struct {
	Cid       string          `json:"cid"`
	Signature string          `json:"signature"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}

// paymentInfo returns the payment requirements for an API so a caller can
// construct the settlement transfer before invoking it.
func (s *Server) paymentInfo(c *gin.Context) {
	cid := c.Query("id")
	if cid == "" {
		s.fail(c, fluxgate.ErrMissingCid, "Missing CID")
		return
	}

	meta, err := s.metadata.Fetch(c.Request.Context(), cid)
	if err != nil {
		s.fail(c, err, "Cannot find API")
		return
	}

	name := meta.Name
	if name == "" {
		name = "API"
	}
	c.JSON(http.StatusOK, gin.H{
		"paymentRequired": true,
		"recipient":       s.recipient,
		"amount":          meta.CostPerRequest,
		"token":           fluxgate.SettlementToken,
		"tokenMint":       s.mint,
		"apiCid":          cid,
		"requestId":       uuid.NewString(),
		"description":     "Payment for " + name + " call",
	})
}

// invoke is the payment-gated proxy call: verify the payment signature,
// consume it, forward the request to the provider endpoint, log usage, and
// relay the response.
func (s *Server) invoke(c *gin.Context) {
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if req.Cid == "" {
		s.fail(c, fluxgate.ErrMissingCid, "Missing CID")
		return
	}

	ctx := c.Request.Context()
	meta, err := s.metadata.Fetch(ctx, req.Cid)
	if err != nil {
		s.fail(c, err, "Cannot find API")
		return
	}

	if req.Signature == "" {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "Payment required",
			"message": "Please submit a valid payment transaction signature",
			"paymentInfo": gin.H{
				"recipient": s.recipient,
				"amount":    meta.CostPerRequest,
				"token":     fluxgate.SettlementToken,
			},
		})
		return
	}

	receipt, err := s.verifier.Verify(ctx, req.Signature, meta.CostPerRequest, s.maxAge)
	if err != nil {
		s.fail(c, err, "Payment verification failed")
		return
	}

	// One signature buys exactly one call. The registry insert is atomic,
	// so two racing requests with the same signature cannot both pass.
	if err := s.store.Consume(ctx, req.Signature); err != nil {
		if errors.Is(err, fluxgate.ErrSignatureConsumed) {
			s.fail(c, err, "Payment already used")
			return
		}
		s.fail(c, err, "Request processing failed")
		return
	}

	status, latency, body, upstreamErr := s.forward(ctx, meta, req.Data)

	s.logUsage(meta, req.Cid, fluxgate.UsageEntry{
		ResponseStatus:   status,
		ResponseTimeMs:   latency.Milliseconds(),
		PaymentSignature: receipt.Signature,
		PaymentAmount:    receipt.Amount,
	})

	if upstreamErr != nil {
		s.logger.Error("upstream call failed", "cid", req.Cid, "endpoint", meta.Endpoint, "error", upstreamErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "API call failed", "details": upstreamErr.Error()})
		return
	}

	// The payment is verified and consumed, so the provider earns the call
	// price regardless of the upstream status code.
	s.credit(ctx, req.Cid, meta)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    body,
		"payment": gin.H{
			"signature": receipt.Signature,
			"amount":    receipt.Amount,
			"verified":  true,
		},
	})
}

// forward proxies the call to the provider endpoint: POST with a JSON body
// when data is present, GET otherwise. The derived access credential rides
// the request header either way.
func (s *Server) forward(ctx context.Context, meta *fluxgate.Metadata, data json.RawMessage) (int, time.Duration, json.RawMessage, error) {
	start := time.Now()

	var req *http.Request
	var err error
	if len(data) > 0 {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, meta.Endpoint, bytes.NewReader(data))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, meta.Endpoint, nil)
	}
	if err != nil {
		return http.StatusInternalServerError, time.Since(start), nil, fmt.Errorf("%w: %v", fluxgate.ErrUpstreamFailure, err)
	}
	if key := s.accessKey(meta); key != "" {
		req.Header.Set(accessHeader, key)
	}

	resp, err := s.upstream.Do(req)
	if err != nil {
		return http.StatusInternalServerError, time.Since(start), nil, fmt.Errorf("%w: %v", fluxgate.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBytes))
	latency := time.Since(start)
	if err != nil {
		return resp.StatusCode, latency, nil, fmt.Errorf("%w: %v", fluxgate.ErrUpstreamFailure, err)
	}

	// Non-JSON provider responses are relayed as a JSON string.
	if !json.Valid(raw) {
		encoded, _ := json.Marshal(string(raw))
		return resp.StatusCode, latency, encoded, nil
	}
	return resp.StatusCode, latency, raw, nil
}

// apiHealth probes the provider endpoint's /health route with the derived
// credential and reports online/offline. Probe failures read as offline,
// never as gateway errors.
func (s *Server) apiHealth(c *gin.Context) {
	cid := c.Param("cid")
	if cid == "" {
		s.fail(c, fluxgate.ErrMissingCid, "Missing CID")
		return
	}

	ctx := c.Request.Context()
	meta, err := s.metadata.Fetch(ctx, cid)
	if err != nil {
		s.fail(c, err, "Cannot find API")
		return
	}

	status := "offline"
	url := strings.TrimRight(meta.Endpoint, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err == nil {
		if key := s.accessKey(meta); key != "" {
			req.Header.Set(accessHeader, key)
		}
		if resp, probeErr := s.upstream.Do(req); probeErr == nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				status = "online"
			}
			resp.Body.Close()
		}
	}

	c.JSON(http.StatusOK, gin.H{"report": gin.H{"status": status}})
}

// accessKey derives the upstream credential for an API, or returns "" when
// the metadata carries no credential identifier.
func (s *Server) accessKey(meta *fluxgate.Metadata) string {
	if meta.UUID == "" {
		return ""
	}
	key, err := keygen.Derive(meta.UUID, s.keySecret)
	if err != nil {
		s.logger.Warn("credential derivation failed", "uuid", meta.UUID, "error", err)
		return ""
	}
	return key
}

// logUsage appends a usage record, keyed by the listing id when the
// metadata names one and by the content address otherwise. It runs on a
// background context so a dropped client cannot lose the record, and append
// failures never unwind the response; the call already happened.
func (s *Server) logUsage(meta *fluxgate.Metadata, cid string, entry fluxgate.UsageEntry) {
	entry.APIID = meta.ListingID
	if entry.APIID == "" {
		entry.APIID = cid
	}
	entry.Timestamp = time.Now().UTC()
	if err := s.store.Append(context.Background(), entry); err != nil {
		s.logger.Warn("usage log append failed", "apiId", entry.APIID, "error", err)
	}
}

// credit accrues the call price to the listing's earnings. A listing may
// not exist for a bare content address; that only skips accrual.
func (s *Server) credit(ctx context.Context, cid string, meta *fluxgate.Metadata) {
	if !meta.CostPerRequest.IsPositive() {
		return
	}
	if err := s.store.AddEarning(ctx, cid, meta.CostPerRequest); err != nil && !errors.Is(err, fluxgate.ErrListingNotFound) {
		s.logger.Warn("earning accrual failed", "cid", cid, "error", err)
	}
}
