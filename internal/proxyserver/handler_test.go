package proxyserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nghyane/tokenproxy/internal/credential"
	"github.com/nghyane/tokenproxy/internal/tokenpool"
)

func newTestPool(t *testing.T, values ...string) *tokenpool.Pool {
	t.Helper()
	seeds := make([]tokenpool.SeedToken, len(values))
	for i, v := range values {
		seeds[i] = tokenpool.SeedToken{Value: v, Credential: credential.Credential{Username: "u", Password: "p"}}
	}
	pool, err := tokenpool.New(seeds)
	if err != nil {
		t.Fatalf("failed to build pool: %v", err)
	}
	return pool
}

func TestHandler_InjectsAuthorizationHeader(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	pool := newTestPool(t, "tok-1")
	h, err := NewHandler(pool, upstream.URL)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	cs := newConnState(pool)
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req = req.WithContext(withConnState(req.Context(), cs))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotAuth != "Bearer tok-1" {
		t.Errorf("expected Bearer tok-1, got %q", gotAuth)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_ReusesBoundSlotAcrossRequests(t *testing.T) {
	var auths []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	pool := newTestPool(t, "only-token")
	h, err := NewHandler(pool, upstream.URL)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	cs := newConnState(pool)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req = req.WithContext(withConnState(req.Context(), cs))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}

	if pool.Available() != 0 {
		t.Errorf("expected the single slot to stay checked out across requests, available=%d", pool.Available())
	}
	if len(auths) != 3 {
		t.Fatalf("expected 3 requests to reach upstream, got %d", len(auths))
	}
	for _, a := range auths {
		if a != "Bearer only-token" {
			t.Errorf("expected consistent Bearer only-token, got %q", a)
		}
	}
}

func TestHandler_MarksErrorAndNeedsRefreshOn401(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	pool := newTestPool(t, "tok-1")
	h, err := NewHandler(pool, upstream.URL)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	cs := newConnState(pool)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(withConnState(req.Context(), cs))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	cs.release()

	_, errCount, _, ok := pool.SlotStats(0)
	if !ok {
		t.Fatal("expected slot 0 to exist")
	}
	if errCount != 1 {
		t.Errorf("expected error count 1 after 401, got %d", errCount)
	}
	marked := pool.GetTokensNeedingRefresh()
	if len(marked) != 1 || marked[0] != 0 {
		t.Errorf("expected slot 0 marked needing refresh, got %v", marked)
	}
}

func TestHandler_MarkSurvivesLaterSuccessesOnSameConnection(t *testing.T) {
	var statuses = []int{http.StatusUnauthorized, http.StatusOK, http.StatusOK}
	call := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statuses[call])
		call++
	}))
	defer upstream.Close()

	pool := newTestPool(t, "tok-1")
	h, err := NewHandler(pool, upstream.URL)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	cs := newConnState(pool)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req = req.WithContext(withConnState(req.Context(), cs))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}

	// The connection is still open here: release() has not run yet, so
	// this asserts the mark was made at response-observation time, not
	// deferred to teardown.
	marked := pool.GetTokensNeedingRefresh()
	if len(marked) != 1 || marked[0] != 0 {
		t.Fatalf("expected slot 0 marked needing refresh before the connection closes, got %v", marked)
	}
	_, errCount, _, ok := pool.SlotStats(0)
	if !ok || errCount != 1 {
		t.Fatalf("expected error count 1 surviving the later 200s, got %d (ok=%v)", errCount, ok)
	}

	cs.release()

	// The two trailing 200s must not have cleared the earlier mark.
	marked = pool.GetTokensNeedingRefresh()
	if len(marked) != 1 || marked[0] != 0 {
		t.Errorf("expected slot 0 still marked needing refresh after release, got %v", marked)
	}
}

func TestHandler_ErrorHandlerMarksBadGatewayOnDialFailure(t *testing.T) {
	pool := newTestPool(t, "tok-1")
	// Point at a closed port so the round trip itself fails.
	closedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable := closedSrv.URL
	closedSrv.Close()

	h, err := NewHandler(pool, unreachable)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	cs := newConnState(pool)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(withConnState(req.Context(), cs))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestConnState_ReleaseIsIdempotent(t *testing.T) {
	pool := newTestPool(t, "tok-1")
	cs := newConnState(pool)
	if _, err := cs.bind(req(t).Context()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	cs.release()
	cs.release()

	if pool.Available() != 1 {
		t.Errorf("expected the slot to be released exactly once, available=%d", pool.Available())
	}
}

func req(t *testing.T) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodGet, "/", nil)
}
