package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nishad/uniload/internal/db"
	"github.com/nishad/uniload/internal/errors"
)

type fakeRegistry struct {
	pingErr error
	release *db.ReleaseRecord
	runs    []db.RunRecord
	lastN   int
}

func (f *fakeRegistry) Ping(context.Context) error { return f.pingErr }

func (f *fakeRegistry) CurrentRelease(_ context.Context, _ string) (*db.ReleaseRecord, error) {
	return f.release, nil
}

func (f *fakeRegistry) History(_ context.Context, _ string, limit int) ([]db.RunRecord, error) {
	f.lastN = limit
	return f.runs, nil
}

func testServer(reg Registry) *Server {
	return NewServer(Config{ListenAddr: ":0", Schema: "uniprot_public"}, reg, zerolog.Nop())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthOK(t *testing.T) {
	rec := get(t, testServer(&fakeRegistry{}), "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHealthDatabaseDown(t *testing.T) {
	reg := &fakeRegistry{pingErr: errors.E(errors.Op("test"), errors.KindAdapterUnavailable, "down")}
	rec := get(t, testServer(reg), "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStatusWithRelease(t *testing.T) {
	reg := &fakeRegistry{release: &db.ReleaseRecord{
		Version:             "2024_03",
		ReleaseDate:         time.Date(2024, 5, 29, 0, 0, 0, 0, time.UTC),
		LoadTimestamp:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		SwissprotEntryCount: 571609,
	}}
	rec := get(t, testServer(reg), "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != "2024_03" || resp.Schema != "uniprot_public" {
		t.Errorf("response = %+v", resp)
	}
	if resp.SwissprotEntryCount != 571609 {
		t.Errorf("swissprot count = %d", resp.SwissprotEntryCount)
	}
}

func TestStatusBeforeFirstLoad(t *testing.T) {
	rec := get(t, testServer(&fakeRegistry{}), "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != "" {
		t.Errorf("version = %q before any load", resp.Version)
	}
}

func TestHistory(t *testing.T) {
	reg := &fakeRegistry{runs: []db.RunRecord{
		{
			RunID:     uuid.New(),
			Status:    db.RunSucceeded,
			Mode:      "full",
			Dataset:   "swissprot",
			StartTime: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
			EndTime:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			RunID:        uuid.New(),
			Status:       db.RunFailed,
			Mode:         "delta",
			StartTime:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			ErrorMessage: "copy into proteins failed",
		},
	}}
	rec := get(t, testServer(reg), "/api/v1/history?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if reg.lastN != 5 {
		t.Errorf("limit passed through = %d", reg.lastN)
	}

	var out []historyEntry
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d entries", len(out))
	}
	if out[0].Status != db.RunSucceeded || out[0].EndTime == nil {
		t.Errorf("first entry = %+v", out[0])
	}
	if out[1].Error == "" || out[1].EndTime != nil {
		t.Errorf("failed entry = %+v", out[1])
	}
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	rec := get(t, testServer(&fakeRegistry{}), "/api/v1/history?limit=0")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
