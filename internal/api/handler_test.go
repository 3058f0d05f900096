package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/equitypanel/internal/domain/dto"
	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/service"
)

type mockPanelService struct {
	resp *dto.PanelResponse
	err  error

	gotSymbol, gotFrom, gotTo string
}

func (m *mockPanelService) GetSymbolPanel(_ context.Context, symbol, from, to string) (*dto.PanelResponse, error) {
	m.gotSymbol, m.gotFrom, m.gotTo = symbol, from, to
	return m.resp, m.err
}

var _ service.PanelService = (*mockPanelService)(nil)

type mockRuns struct {
	runs     []models.RunReport
	err      error
	gotLimit int
}

func (m *mockRuns) RecentRuns(limit int) ([]models.RunReport, error) {
	m.gotLimit = limit
	return m.runs, m.err
}

func setupRouterWithMock(s service.PanelService, runs RunLister) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(s, runs)
	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.GET("/panel", h.GetPanel)
	v1.GET("/runs", h.ListRuns)
	return r
}

func TestGetPanel_TableDriven(t *testing.T) {
	cases := []struct {
		name   string
		svc    *mockPanelService
		query  string
		status int
		assert func(t *testing.T, m *mockPanelService, body []byte)
	}{
		{
			name:   "missing symbol",
			svc:    &mockPanelService{},
			query:  "/api/v1/panel",
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid from",
			svc:    &mockPanelService{},
			query:  "/api/v1/panel?symbol=AAPL&from=2024-13",
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid to",
			svc:    &mockPanelService{},
			query:  "/api/v1/panel?symbol=AAPL&to=2024/01",
			status: http.StatusBadRequest,
		},
		{
			name:   "from after to",
			svc:    &mockPanelService{},
			query:  "/api/v1/panel?symbol=AAPL&from=2024-05&to=2024-01",
			status: http.StatusBadRequest,
		},
		{
			name:   "not found",
			svc:    &mockPanelService{},
			query:  "/api/v1/panel?symbol=MSFT",
			status: http.StatusNotFound,
		},
		{
			name:   "internal error",
			svc:    &mockPanelService{err: errors.New("db down")},
			query:  "/api/v1/panel?symbol=MSFT",
			status: http.StatusInternalServerError,
		},
		{
			name: "success",
			svc: &mockPanelService{resp: &dto.PanelResponse{
				Symbol: "AAPL", Months: 1, CumulativeLogReturn: 0.25,
				Records: []models.CleanRecord{{Symbol: "AAPL", Period: "2024-01", Price: 184.4, Volume: 10}},
			}},
			query:  "/api/v1/panel?symbol=aapl&from=2024-01&to=2024-06",
			status: http.StatusOK,
			assert: func(t *testing.T, m *mockPanelService, body []byte) {
				if m.gotSymbol != "AAPL" || m.gotFrom != "2024-01" || m.gotTo != "2024-06" {
					t.Fatalf("service called with %q %q %q", m.gotSymbol, m.gotFrom, m.gotTo)
				}
				var out dto.PanelResponse
				if err := json.Unmarshal(body, &out); err != nil {
					t.Fatalf("invalid json: %v", err)
				}
				if out.Symbol != "AAPL" || out.Months != 1 || out.CumulativeLogReturn != 0.25 || len(out.Records) != 1 {
					t.Fatalf("unexpected body: %+v", out)
				}
				if out.Records[0].MonthlyLogReturn.Valid {
					t.Fatalf("expected null return, got %+v", out.Records[0])
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := setupRouterWithMock(tc.svc, nil)
			req := httptest.NewRequest(http.MethodGet, tc.query, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			if tc.assert != nil {
				tc.assert(t, tc.svc, w.Body.Bytes())
			}
		})
	}
}

func TestListRuns_TableDriven(t *testing.T) {
	cases := []struct {
		name      string
		runs      *mockRuns
		query     string
		status    int
		wantLimit int
		wantLen   int
	}{
		{name: "default limit", runs: &mockRuns{runs: []models.RunReport{{RunID: "a"}, {RunID: "b"}}}, query: "/api/v1/runs", status: http.StatusOK, wantLimit: 10, wantLen: 2},
		{name: "explicit limit", runs: &mockRuns{}, query: "/api/v1/runs?limit=3", status: http.StatusOK, wantLimit: 3},
		{name: "bad limit", runs: &mockRuns{}, query: "/api/v1/runs?limit=abc", status: http.StatusBadRequest},
		{name: "limit out of range", runs: &mockRuns{}, query: "/api/v1/runs?limit=0", status: http.StatusBadRequest},
		{name: "recorder error", runs: &mockRuns{err: errors.New("locked")}, query: "/api/v1/runs", status: http.StatusInternalServerError, wantLimit: 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := setupRouterWithMock(&mockPanelService{}, tc.runs)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.query, nil))
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			if tc.runs.gotLimit != tc.wantLimit {
				t.Fatalf("limit=%d want %d", tc.runs.gotLimit, tc.wantLimit)
			}
			if tc.status != http.StatusOK {
				return
			}
			var out []models.RunReport
			if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if out == nil || len(out) != tc.wantLen {
				t.Fatalf("unexpected body %s", w.Body.String())
			}
		})
	}
}

func TestListRuns_NoRecorder(t *testing.T) {
	r := setupRouterWithMock(&mockPanelService{}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}
