package swapapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/barterline/swapd/internal/domain"
)

func TestGetProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/p1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("profile_id"); got != "prof-9" {
			t.Fatalf("expected profile_id prof-9, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("unexpected auth header %q", got)
		}
		json.NewEncoder(w).Encode(APIProduct{
			ID:         "p1",
			Name:       "bicycle",
			Points:     300,
			Profile:    "prof-9",
			Categories: []string{"sport"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	p, err := c.GetProduct(context.Background(), "p1", "prof-9")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.Name != "bicycle" || p.Points != 300 || p.ProfileID != "prof-9" {
		t.Fatalf("unexpected product: %+v", p)
	}
}

func TestGetProductNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"no such product"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetProduct(context.Background(), "gone", "prof-9")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitTradePayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/trades" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	err := c.SubmitTrade(context.Background(), domain.TradeSubmission{
		TraderProductIDs:    []string{"p1", "p2"},
		TraderUserID:        "user-trader",
		AnchorProductID:     "anchor-1",
		NonTraderProductIDs: []string{"p3"},
		NonTraderUserID:     "user-other",
	})
	if err != nil {
		t.Fatalf("SubmitTrade: %v", err)
	}

	// The backend contract uses camelCase keys.
	for _, key := range []string{"traderProductIds", "traderUserId", "anchorProductId", "nonTraderProductIds", "nonTraderUserId"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("missing key %q in submission payload: %v", key, got)
		}
	}
}

func TestSubmitTradeErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrSessionExpired},
		{http.StatusForbidden, domain.ErrForbidden},
		{http.StatusBadRequest, domain.ErrInvalidTrade},
		{http.StatusUnprocessableEntity, domain.ErrInvalidTrade},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"message":"nope"}`))
		}))

		c := NewClient(srv.URL, "tok")
		err := c.SubmitTrade(context.Background(), domain.TradeSubmission{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		srv.Close()
	}
}

func TestSubmitTradeGenericError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	err := c.SubmitTrade(context.Background(), domain.TradeSubmission{})
	if err == nil {
		t.Fatal("expected an error for 502")
	}
	for _, sentinel := range []error{domain.ErrSessionExpired, domain.ErrForbidden, domain.ErrInvalidTrade, domain.ErrNotFound} {
		if errors.Is(err, sentinel) {
			t.Fatalf("502 must not classify as %v", sentinel)
		}
	}
}
