package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/fluxapi/fluxgate"
	"github.com/fluxapi/fluxgate/payments"
	"github.com/fluxapi/fluxgate/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testRecipient = "7xLk17EQQ5KLDLDe44wCmupJKJjTGd8hs3eSVVhCx932"
	testMint      = "Gh9ZwEmdLJ8DscKNTkTqPbNwLNNBjuSzaG9Vp2KGtKJr"
	testSig       = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"
)

type fakeMetadata struct {
	docs map[string]*fluxgate.Metadata
}

func (f *fakeMetadata) Fetch(_ context.Context, cid string) (*fluxgate.Metadata, error) {
	if cid == "" {
		return nil, fluxgate.ErrMissingCid
	}
	meta, ok := f.docs[cid]
	if !ok {
		return nil, fluxgate.ErrAPINotFound
	}
	copied := *meta
	return &copied, nil
}

type fakeVerifier struct {
	receipt *payments.Receipt
	err     error
	calls   int
}

func (f *fakeVerifier) Verify(_ context.Context, signature string, _ decimal.Decimal, _ time.Duration) (*payments.Receipt, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := *f.receipt
	r.Signature = signature
	return &r, nil
}

type fakeClaimer struct {
	claim *payments.Claim
	err   error
}

func (f *fakeClaimer) Claim(context.Context, string) (*payments.Claim, error) {
	return f.claim, f.err
}

type fakeWallet struct {
	balance    decimal.Decimal
	balanceErr error
	slot       uint64
	slotErr    error
}

func (f *fakeWallet) TokenBalance(context.Context, solana.PublicKey) (decimal.Decimal, error) {
	return f.balance, f.balanceErr
}

func (f *fakeWallet) Slot(context.Context) (uint64, error) {
	return f.slot, f.slotErr
}

type testHarness struct {
	server   *Server
	router   *gin.Engine
	store    store.Store
	metadata *fakeMetadata
	verifier *fakeVerifier
	claimer  *fakeClaimer
	wallet   *fakeWallet
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		store:    store.NewMemory(),
		metadata: &fakeMetadata{docs: map[string]*fluxgate.Metadata{}},
		verifier: &fakeVerifier{receipt: &payments.Receipt{Amount: decimal.RequireFromString("0.5")}},
		claimer:  &fakeClaimer{},
		wallet:   &fakeWallet{slot: 12345},
	}
	h.server = NewServer(h.store, h.metadata, h.verifier, h.claimer, h.wallet, Options{
		Recipient:       testRecipient,
		Mint:            testMint,
		Cluster:         fluxgate.ClusterDevnet,
		KeySecret:       "test-secret",
		FreshnessWindow: 5 * time.Minute,
	}, nil)
	h.router = h.server.Router()
	return h
}

func (h *testHarness) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func (h *testHarness) addAPI(cid string, cost string) {
	h.metadata.docs[cid] = &fluxgate.Metadata{
		Endpoint:       "https://api.example.com",
		CostPerRequest: decimal.RequireFromString(cost),
		UUID:           "api-uuid-1",
		Name:           "Weather",
	}
}

func TestPaymentInfo(t *testing.T) {
	h := newHarness(t)
	h.addAPI("QmTest", "0.5")

	rec, body := h.do(t, http.MethodGet, "/fluxapi/payment-info?id=QmTest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	if body["paymentRequired"] != true {
		t.Error("paymentRequired not set")
	}
	if body["recipient"] != testRecipient {
		t.Errorf("got recipient %v", body["recipient"])
	}
	if body["token"] != "USDC" {
		t.Errorf("got token %v", body["token"])
	}
	if body["tokenMint"] != testMint {
		t.Errorf("got tokenMint %v", body["tokenMint"])
	}
	if body["requestId"] == "" || body["requestId"] == nil {
		t.Error("requestId missing")
	}
}

func TestPaymentInfoMissingCid(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodGet, "/fluxapi/payment-info", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestPaymentInfoUnknownAPI(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodGet, "/fluxapi/payment-info?id=QmUnknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestInvokeWithoutSignatureReturnsPaymentRequired(t *testing.T) {
	h := newHarness(t)
	h.addAPI("QmTest", "0.5")

	rec, body := h.do(t, http.MethodPost, "/fluxapi/", gin.H{"cid": "QmTest"})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	info, ok := body["paymentInfo"].(map[string]any)
	if !ok {
		t.Fatalf("paymentInfo missing: %v", body)
	}
	if info["recipient"] != testRecipient {
		t.Errorf("got recipient %v", info["recipient"])
	}
	if info["token"] != "USDC" {
		t.Errorf("got token %v", info["token"])
	}
	if h.verifier.calls != 0 {
		t.Errorf("verifier called without a signature")
	}
}

func TestInvokeMissingCid(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodPost, "/fluxapi/", gin.H{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestInvokeVerificationFailure(t *testing.T) {
	h := newHarness(t)
	h.addAPI("QmTest", "0.5")
	h.verifier.err = fluxgate.ErrAmountMismatch

	rec, body := h.do(t, http.MethodPost, "/fluxapi/", gin.H{"cid": "QmTest", "signature": testSig})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	if body["error"] != "Payment verification failed" {
		t.Errorf("got error %v", body["error"])
	}
}

func TestInvokeSuccess(t *testing.T) {
	h := newHarness(t)

	var gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Fluxapi-Key")
		w.Write([]byte(`{"result":"sunny"}`))
	}))
	defer upstream.Close()

	h.addAPI("QmTest", "0.5")
	h.metadata.docs["QmTest"].Endpoint = upstream.URL
	if _, err := h.store.Create(context.Background(), fluxgate.Listing{Cid: "QmTest", OwnerID: "owner"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, body := h.do(t, http.MethodPost, "/fluxapi/", gin.H{"cid": "QmTest", "signature": testSig})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	if body["success"] != true {
		t.Error("success not set")
	}
	data, ok := body["data"].(map[string]any)
	if !ok || data["result"] != "sunny" {
		t.Errorf("got data %v", body["data"])
	}
	payment, ok := body["payment"].(map[string]any)
	if !ok {
		t.Fatalf("payment missing: %v", body)
	}
	if payment["signature"] != testSig {
		t.Errorf("got signature %v", payment["signature"])
	}
	if payment["verified"] != true {
		t.Error("verified not set")
	}
	if gotKey == "" {
		t.Error("upstream did not receive the derived access key")
	}
	if gotKey == "api-uuid-1" {
		t.Error("access key must not be the raw identifier")
	}

	// The call price accrued to the listing.
	listing, err := h.store.GetByCid(context.Background(), "QmTest")
	if err != nil {
		t.Fatalf("GetByCid: %v", err)
	}
	if !listing.Earning.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("got earning %s, want 0.5", listing.Earning)
	}

	// And the call was logged.
	entries, err := h.store.ByAPI(context.Background(), "QmTest", 10)
	if err != nil {
		t.Fatalf("ByAPI: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d usage entries, want 1", len(entries))
	}
	if entries[0].PaymentSignature != testSig {
		t.Errorf("got logged signature %q", entries[0].PaymentSignature)
	}
	if entries[0].ResponseStatus != http.StatusOK {
		t.Errorf("got logged status %d", entries[0].ResponseStatus)
	}
}

func TestInvokeForwardsBodyAsPost(t *testing.T) {
	h := newHarness(t)

	var gotMethod, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		gotBody = buf.String()
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	h.addAPI("QmTest", "0.5")
	h.metadata.docs["QmTest"].Endpoint = upstream.URL

	rec, _ := h.do(t, http.MethodPost, "/fluxapi/", gin.H{
		"cid":       "QmTest",
		"signature": testSig,
		"data":      gin.H{"city": "Lisbon"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("got method %q, want POST", gotMethod)
	}
	if !strings.Contains(gotBody, "Lisbon") {
		t.Errorf("upstream body %q missing payload", gotBody)
	}
}

func TestInvokeReplayRejected(t *testing.T) {
	h := newHarness(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	h.addAPI("QmTest", "0.5")
	h.metadata.docs["QmTest"].Endpoint = upstream.URL

	rec, _ := h.do(t, http.MethodPost, "/fluxapi/", gin.H{"cid": "QmTest", "signature": testSig})
	if rec.Code != http.StatusOK {
		t.Fatalf("first call: got status %d: %s", rec.Code, rec.Body)
	}

	rec, body := h.do(t, http.MethodPost, "/fluxapi/", gin.H{"cid": "QmTest", "signature": testSig})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("replay: got status %d: %s", rec.Code, rec.Body)
	}
	if body["error"] != "Payment already used" {
		t.Errorf("got error %v", body["error"])
	}
}

func TestInvokeUpstreamFailureStillLogged(t *testing.T) {
	h := newHarness(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // connection refused

	h.addAPI("QmTest", "0.5")
	h.metadata.docs["QmTest"].Endpoint = upstream.URL

	rec, body := h.do(t, http.MethodPost, "/fluxapi/", gin.H{"cid": "QmTest", "signature": testSig})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	if body["error"] != "API call failed" {
		t.Errorf("got error %v", body["error"])
	}

	entries, err := h.store.ByAPI(context.Background(), "QmTest", 10)
	if err != nil {
		t.Fatalf("ByAPI: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d usage entries, want 1", len(entries))
	}
	if entries[0].ResponseStatus != http.StatusInternalServerError {
		t.Errorf("got logged status %d, want 500", entries[0].ResponseStatus)
	}
}

func TestAPIHealth(t *testing.T) {
	tests := []struct {
		name       string
		upstreamOK bool
		want       string
	}{
		{"online", true, "online"},
		{"offline", false, "offline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("got path %q, want /health", r.URL.Path)
				}
				if !tt.upstreamOK {
					w.WriteHeader(http.StatusServiceUnavailable)
				}
			}))
			defer upstream.Close()

			h.addAPI("QmTest", "0.5")
			h.metadata.docs["QmTest"].Endpoint = upstream.URL

			rec, body := h.do(t, http.MethodGet, "/fluxapi/health/QmTest", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("got status %d", rec.Code)
			}
			report, ok := body["report"].(map[string]any)
			if !ok || report["status"] != tt.want {
				t.Errorf("got report %v, want status %q", body["report"], tt.want)
			}
		})
	}
}

func TestStoreListingAndList(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodPost, "/store-listing", gin.H{
		"cid":     "QmTest",
		"ownerId": "  OwnerAddr  ",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	if body["success"] != true || body["id"] == "" {
		t.Errorf("got body %v", body)
	}

	rec, body = h.do(t, http.MethodGet, "/listings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	listings, ok := body["listings"].([]any)
	if !ok || len(listings) != 1 {
		t.Fatalf("got listings %v", body["listings"])
	}
	first := listings[0].(map[string]any)
	if first["ownerId"] != "owneraddr" {
		t.Errorf("owner not normalized: %v", first["ownerId"])
	}
}

func TestStoreListingRequiresCid(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodPost, "/store-listing", gin.H{"ownerId": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestKeygen(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodPost, "/keygen", gin.H{"cid": "QmTest"})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	id, _ := body["uuid"].(string)
	key, _ := body["apiKey"].(string)
	if !strings.HasPrefix(id, "fluxapi-") {
		t.Errorf("got uuid %q", id)
	}
	if len(key) != 64 {
		t.Errorf("got key length %d, want 64", len(key))
	}

	rec, _ = h.do(t, http.MethodPost, "/keygen", gin.H{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing cid: got status %d", rec.Code)
	}
}

func TestUsageEndpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.store.Append(ctx, fluxgate.UsageEntry{APIID: "api-1", ResponseStatus: 200, ResponseTimeMs: 42}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rec, body := h.do(t, http.MethodGet, "/usage/api-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if body["apiId"] != "api-1" {
		t.Errorf("got apiId %v", body["apiId"])
	}
	if body["usageCount"] != float64(3) {
		t.Errorf("got usageCount %v", body["usageCount"])
	}
}

func TestClaimEndpoint(t *testing.T) {
	h := newHarness(t)
	h.claimer.claim = &payments.Claim{
		Signature: "sig",
		Amount:    decimal.RequireFromString("1.5"),
		To:        testRecipient,
		Explorer:  "https://explorer.solana.com/tx/sig?cluster=devnet",
	}

	rec, body := h.do(t, http.MethodPost, "/claim", gin.H{"apiId": "QmTest"})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	if body["success"] != true || body["signature"] != "sig" {
		t.Errorf("got body %v", body)
	}
}

func TestClaimEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", fluxgate.ErrListingNotFound, http.StatusNotFound},
		{"invalid address", fluxgate.ErrInvalidAddress, http.StatusBadRequest},
		{"nothing to claim", fluxgate.ErrNothingToClaim, http.StatusBadRequest},
		{"transfer failed", fluxgate.ErrTransferFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.claimer.err = tt.err

			rec, _ := h.do(t, http.MethodPost, "/claim", gin.H{"apiId": "QmTest"})
			if rec.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestEarningsEndpoint(t *testing.T) {
	h := newHarness(t)
	owner := fluxgate.NormalizeOwner(testRecipient)
	if _, err := h.store.Create(context.Background(), fluxgate.Listing{Cid: "QmA", OwnerID: owner}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, body := h.do(t, http.MethodPost, "/earnings", gin.H{"address": testRecipient})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	ids, ok := body["apiIds"].([]any)
	if !ok || len(ids) != 1 || ids[0] != "QmA" {
		t.Errorf("got apiIds %v", body["apiIds"])
	}

	rec, _ = h.do(t, http.MethodPost, "/earnings", gin.H{"address": "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid address: got status %d", rec.Code)
	}
}

func TestBalanceEndpoint(t *testing.T) {
	h := newHarness(t)
	h.wallet.balance = decimal.RequireFromString("25.5")

	rec, body := h.do(t, http.MethodGet, "/balance/"+testRecipient, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	if body["token"] != "USDC" {
		t.Errorf("got token %v", body["token"])
	}
	if body["address"] != testRecipient {
		t.Errorf("got address %v", body["address"])
	}

	rec, _ = h.do(t, http.MethodGet, "/balance/bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid address: got status %d", rec.Code)
	}
}

func TestBalanceEndpointUninitializedAccountReadsZero(t *testing.T) {
	h := newHarness(t)
	h.wallet.balanceErr = fluxgate.ErrAccountNotFound

	rec, body := h.do(t, http.MethodGet, "/balance/"+testRecipient, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	if body["balance"] != "0" {
		t.Errorf("got balance %v, want 0", body["balance"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if body["status"] != "healthy" || body["blockchain"] != "solana" {
		t.Errorf("got body %v", body)
	}
	if body["currentSlot"] != float64(12345) {
		t.Errorf("got slot %v", body["currentSlot"])
	}

	h.wallet.slotErr = errors.New("rpc down")
	rec, body = h.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d", rec.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("got status %v", body["status"])
	}
}
