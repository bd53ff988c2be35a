package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carbon-scribe/report-engine/internal/auth"
	"carbon-scribe/report-engine/internal/reports"
	"carbon-scribe/report-engine/internal/reports/engine"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Generate(ctx context.Context, req engine.GenerateRequest) (*reports.RenderedResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*reports.RenderedResult)
	return result, args.Error(1)
}

func (m *mockService) ListAvailable(ctx context.Context, principal *reports.Principal) ([]reports.ReportMeta, error) {
	args := m.Called(ctx, principal)
	metas, _ := args.Get(0).([]reports.ReportMeta)
	return metas, args.Error(1)
}

func (m *mockService) GetSchema(ctx context.Context, code string) (*reports.Schema, error) {
	args := m.Called(ctx, code)
	schema, _ := args.Get(0).(*reports.Schema)
	return schema, args.Error(1)
}

func (m *mockService) Invalidate(ctx context.Context, code string) (int, error) {
	args := m.Called(ctx, code)
	return args.Int(0), args.Error(1)
}

func (m *mockService) Reload(code string) {
	m.Called(code)
}

func (m *mockService) Formats() []string {
	return []string{"csv", "json"}
}

var finance = &reports.Principal{ID: "u-1", Roles: []reports.RoleGrant{{Code: "finance"}}}

// setup builds a router whose requests run as principal
func setup(principal *reports.Principal) (*gin.Engine, *mockService) {
	gin.SetMode(gin.TestMode)
	svc := new(mockService)
	r := gin.New()
	api := r.Group("/api/v1", func(c *gin.Context) {
		if principal != nil {
			auth.SetPrincipal(c, principal)
		}
		c.Next()
	})
	NewHandler(svc, nil).RegisterRoutes(api)
	return r, svc
}

func perform(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGenerate_JSON(t *testing.T) {
	r, svc := setup(finance)
	svc.On("Generate", mock.Anything, engine.GenerateRequest{
		Code:      "sales",
		Params:    map[string]any{"year": float64(2025)},
		Format:    "json",
		Principal: finance,
	}).Return(&reports.RenderedResult{
		Format: reports.FormatJSON,
		Data:   map[string]any{"metadata": map[string]any{"report_code": "sales"}},
	}, nil)

	w := perform(r, http.MethodPost, "/api/v1/reports/sales/generate", `{"params":{"year":2025},"format":"json"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"metadata":{"report_code":"sales"}}`, w.Body.String())
	svc.AssertExpectations(t)
}

func TestGenerate_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"unknown report", &reports.ConfigError{Code: "x", Message: "not found", Err: reports.ErrNotFound}, http.StatusNotFound, ""},
		{"unsupported format", &reports.ConfigError{Code: "x", Err: reports.ErrUnsupportedFormat}, http.StatusBadRequest, ""},
		{"permission", &reports.PermissionError{Code: "x"}, http.StatusForbidden, ""},
		{"parameter", &reports.ParameterError{Field: "year", Message: "is required"}, http.StatusUnprocessableEntity, `"parameter":"year"`},
		{"internal", errors.New("connection refused"), http.StatusInternalServerError, `"internal error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, svc := setup(finance)
			svc.On("Generate", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := perform(r, http.MethodPost, "/api/v1/reports/x/generate", "")

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Contains(t, w.Body.String(), tt.body)
			}
			assert.NotContains(t, w.Body.String(), "connection refused")
		})
	}
}

func TestGenerate_BadBody(t *testing.T) {
	r, _ := setup(finance)
	w := perform(r, http.MethodPost, "/api/v1/reports/x/generate", `{"params":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownload_StreamsFile(t *testing.T) {
	r, svc := setup(finance)
	svc.On("Generate", mock.Anything, mock.MatchedBy(func(req engine.GenerateRequest) bool {
		return req.Code == "sales" && req.Format == "csv" &&
			req.Params["year"] == "2025" &&
			assert.ObjectsAreEqual([]any{"eu", "us"}, req.Params["region"]) &&
			len(req.Params) == 2
	})).Return(&reports.RenderedResult{
		Format:      reports.FormatCSV,
		Content:     []byte("a,b\n"),
		ContentType: "text/csv",
		FileName:    "sales_20250312_093000.csv",
		DownloadURL: "https://files/sales.csv",
	}, nil)

	w := perform(r, http.MethodGet, "/api/v1/reports/sales/download?format=csv&year=2025&region=eu&region=us", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a,b\n", w.Body.String())
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="sales_20250312_093000.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "https://files/sales.csv", w.Header().Get("X-Download-URL"))
}

func TestListAndSchema(t *testing.T) {
	r, svc := setup(finance)
	svc.On("ListAvailable", mock.Anything, finance).Return([]reports.ReportMeta{{Code: "sales", Name: "Sales"}}, nil)
	svc.On("GetSchema", mock.Anything, "sales").Return(&reports.Schema{ReportCode: "sales"}, nil)
	svc.On("GetSchema", mock.Anything, "nope").Return(nil, &reports.ConfigError{Code: "nope", Err: reports.ErrNotFound})

	w := perform(r, http.MethodGet, "/api/v1/reports", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_count":1`)

	w = perform(r, http.MethodGet, "/api/v1/reports/sales/schema", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"report_code":"sales"`)

	assert.Equal(t, http.StatusNotFound, perform(r, http.MethodGet, "/api/v1/reports/nope/schema", "").Code)

	w = perform(r, http.MethodGet, "/api/v1/reports/formats", "")
	assert.JSONEq(t, `{"formats":["csv","json"]}`, w.Body.String())
}

func TestAdminRoutes_RequireSuperuser(t *testing.T) {
	r, svc := setup(finance)
	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodDelete, "/api/v1/reports/sales/cache", "").Code)
	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodPost, "/api/v1/reports/reload", "").Code)
	svc.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)

	r, svc = setup(reports.SystemPrincipal())
	svc.On("Invalidate", mock.Anything, "sales").Return(3, nil)
	svc.On("Reload", "sales").Return()

	w := perform(r, http.MethodDelete, "/api/v1/reports/sales/cache", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"report_code":"sales","invalidated":3}`, w.Body.String())

	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/api/v1/reports/reload?code=sales", "").Code)
	svc.AssertExpectations(t)
}
