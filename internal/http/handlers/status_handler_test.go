package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lumistory/go-studio-backend/internal/services"
)

func newStatusRouter(status StatusService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(stubGenSvc{}, status, stubCreditSvc{}, nil)
	r := gin.New()
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
	return r
}

func getPath(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

const jobID = "33333333-3333-3333-3333-333333333333"

func TestGetJob_MissingIdentity(t *testing.T) {
	r := newStatusRouter(stubStatusSvc{})
	if w := getPath(r, "/jobs/"+jobID, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no identity -> %d", w.Code)
	}
}

func TestGetJob_RejectsNonUUID(t *testing.T) {
	r := newStatusRouter(stubStatusSvc{})
	w := getPath(r, "/jobs/not-a-uuid", map[string]string{"X-Session-ID": "s1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("non-uuid -> %d", w.Code)
	}
}

func TestGetJob_NotFoundAndForbidden(t *testing.T) {
	r := newStatusRouter(stubStatusSvc{
		get: func(context.Context, string, string) (*services.JobStatusView, error) {
			return nil, services.ErrJobNotFound
		},
	})
	w := getPath(r, "/jobs/"+jobID, map[string]string{"X-Session-ID": "s1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown id -> %d", w.Code)
	}

	r = newStatusRouter(stubStatusSvc{
		get: func(context.Context, string, string) (*services.JobStatusView, error) {
			return nil, services.ErrUnauthorised
		},
	})
	w = getPath(r, "/jobs/"+jobID, map[string]string{"X-Session-ID": "s1"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("someone else's job -> %d", w.Code)
	}
	var body ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Code != ErrCodeForbidden {
		t.Fatalf("unexpected code %q", body.Code)
	}
}

func TestGetJob_Success(t *testing.T) {
	var gotOwner, gotJob string
	r := newStatusRouter(stubStatusSvc{
		get: func(_ context.Context, ownerKey, id string) (*services.JobStatusView, error) {
			gotOwner, gotJob = ownerKey, id
			return &services.JobStatusView{JobID: id, Kind: "image", Status: "processing", Progress: 42}, nil
		},
	})

	w := getPath(r, "/jobs/"+jobID, map[string]string{"X-User-ID": "u7"})
	if w.Code != http.StatusOK {
		t.Fatalf("success -> %d", w.Code)
	}
	if gotOwner != "user:u7" || gotJob != jobID {
		t.Fatalf("unexpected lookup: %q %q", gotOwner, gotJob)
	}
	var view services.JobStatusView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Progress != 42 || view.Status != "processing" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestListJobs_PaginationEnvelope(t *testing.T) {
	r := newStatusRouter(stubStatusSvc{
		list: func(_ context.Context, _ string, page, pageSize int) ([]services.JobStatusView, int64, int, int, error) {
			views := make([]services.JobStatusView, pageSize)
			return views, 45, page, pageSize, nil
		},
	})

	w := getPath(r, "/jobs?page=2&page_size=20", map[string]string{"X-Session-ID": "s1"})
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d", w.Code)
	}
	var resp ListJobsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := resp.Pagination
	if p.Page != 2 || p.PageSize != 20 || p.Total != 45 || p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("unexpected pagination: %+v", p)
	}
}

func TestListJobs_ClampsQueryParams(t *testing.T) {
	var gotPage, gotSize int
	r := newStatusRouter(stubStatusSvc{
		list: func(_ context.Context, _ string, page, pageSize int) ([]services.JobStatusView, int64, int, int, error) {
			gotPage, gotSize = page, pageSize
			return nil, 0, page, pageSize, nil
		},
	})

	getPath(r, "/jobs?page=-3&page_size=9999", map[string]string{"X-Session-ID": "s1"})
	if gotPage != 1 || gotSize != 100 {
		t.Fatalf("clamp got page=%d size=%d", gotPage, gotSize)
	}
	getPath(r, "/jobs?page=&page_size=0", map[string]string{"X-Session-ID": "s1"})
	if gotPage != 1 || gotSize != 1 {
		t.Fatalf("defaults got page=%d size=%d", gotPage, gotSize)
	}
}

func TestListJobs_ServiceError(t *testing.T) {
	r := newStatusRouter(stubStatusSvc{
		list: func(context.Context, string, int, int) ([]services.JobStatusView, int64, int, int, error) {
			return nil, 0, 1, 20, errors.New("db down")
		},
	})
	w := getPath(r, "/jobs", map[string]string{"X-Session-ID": "s1"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("service error -> %d", w.Code)
	}
}
