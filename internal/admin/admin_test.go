package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/lowlatency-trading/internal/book"
	"github.com/abdoElHodaky/lowlatency-trading/internal/position"
	"github.com/abdoElHodaky/lowlatency-trading/internal/risk"
	"github.com/abdoElHodaky/lowlatency-trading/pkg/wire"
)

type fakeBooks struct {
	books map[wire.TickerId]*book.Book
}

func (f *fakeBooks) Book(ticker wire.TickerId) (*book.Book, bool) {
	b, ok := f.books[ticker]
	return b, ok
}

func newTestServer(t *testing.T) (*Server, *fakeBooks) {
	t.Helper()
	b := book.New(1, 16)
	_, err := b.AddOrder(1, 1, wire.SideBuy, 100, 10)
	require.NoError(t, err)

	books := &fakeBooks{books: map[wire.TickerId]*book.Book{1: b}}
	pos := position.NewKeeper()
	riskMgr := risk.NewManager(risk.DefaultLimits())
	return New(books, pos, riskMgr, fakeProto{}, 1000), books
}

type fakeProto struct{}

func (fakeProto) ProtocolConstraint() string { return "^1.0.0" }

func TestProtocolReturnsAcceptedRange(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/protocol", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "^1.0.0", body["accepted_range"])
}

func TestHealthzReturnsOK(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBookDepthReturnsBestBid(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/books/1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(100), body["best_bid"])
	assert.Equal(t, true, body["has_bid"])
}

func TestBookDepthUnknownTickerReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/books/99", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRiskLimitsReturnsDefaults(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/risk/limits", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var limits risk.Limits
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limits))
	assert.Equal(t, risk.DefaultLimits(), limits)
}

func TestRateLimitHeadersArePresent(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
}
