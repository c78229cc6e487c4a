package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/magpielabs/magpie/internal/consolidate"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/store"
	"github.com/magpielabs/magpie/internal/testutil"
)

func testRouter(t *testing.T) chi.Router {
	t.Helper()
	db := testutil.TestDB(t)
	repo := testutil.TestRepo(t)

	logger := slog.New(slog.DiscardHandler)
	engine := consolidate.New(repo, nil, logger)
	svc := NewService(db, repo, engine, logger)
	return NewRouter(svc, false, "", nil)
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v\n%s", err, w.Body.String())
	}
	return v
}

func TestAuthMiddleware(t *testing.T) {
	db := testutil.TestDB(t)
	repo := testutil.TestRepo(t)
	logger := slog.New(slog.DiscardHandler)
	svc := NewService(db, repo, consolidate.New(repo, nil, logger), logger)
	r := NewRouter(svc, true, "secret", nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/domains", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/domains", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/domains", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", w.Code)
	}
}

func TestDomainCRUD(t *testing.T) {
	r := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/domains", CreateDomainRequest{
		Name: "fitness", Keywords: []string{"workout", "gym"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/domains", CreateDomainRequest{Name: "fitness"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/domains", nil)
	list := decodeBody[DomainListResponse](t, w)
	if list.Total != 2 { // bootstrap general + fitness
		t.Errorf("total = %d, want 2", list.Total)
	}

	desc := "health tracking"
	w = doJSON(t, r, http.MethodPatch, "/domains/fitness", UpdateDomainRequest{Description: &desc})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: status = %d", w.Code)
	}
	d := decodeBody[store.Domain](t, w)
	if d.Description != desc {
		t.Errorf("description = %q", d.Description)
	}

	w = doJSON(t, r, http.MethodGet, "/domains/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", w.Code)
	}
}

func TestDeleteDomainForceFlow(t *testing.T) {
	r := testRouter(t)
	doJSON(t, r, http.MethodPost, "/domains", CreateDomainRequest{Name: "jobs"})
	w := doJSON(t, r, http.MethodPost, "/items", CreateItemRequest{Domain: "jobs", Title: "SWE at Acme"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create item: status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodDelete, "/domains/jobs", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("non-empty delete: status = %d, want 409", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, "/domains/jobs?force=true", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("force delete: status = %d, want 204", w.Code)
	}
}

func TestItemsAndSearch(t *testing.T) {
	r := testRouter(t)
	w := doJSON(t, r, http.MethodPost, "/items", CreateItemRequest{
		Title: "quarterly xylophone report", Tags: []string{"reports"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", w.Code, w.Body.String())
	}
	it := decodeBody[store.Item](t, w)
	if it.Domain != "general" {
		t.Errorf("default domain = %q", it.Domain)
	}

	w = doJSON(t, r, http.MethodGet, "/search?q=xylophone", nil)
	res := decodeBody[ItemListResponse](t, w)
	if res.Total != 1 {
		t.Errorf("search total = %d, want 1: %s", res.Total, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", w.Code)
	}

	status := "done"
	w = doJSON(t, r, http.MethodPatch, "/items/"+it.ID, UpdateItemRequest{Status: &status})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: status = %d", w.Code)
	}
	if got := decodeBody[store.Item](t, w); got.Status != "done" {
		t.Errorf("status = %q", got.Status)
	}
}

func TestLogEpisodeDetectsDomain(t *testing.T) {
	r := testRouter(t)
	doJSON(t, r, http.MethodPost, "/domains", CreateDomainRequest{
		Name: "fitness", Keywords: []string{"workout", "gym"},
	})

	w := doJSON(t, r, http.MethodPost, "/memory/episodic", LogEpisodeRequest{
		Agent: "claude", Task: "logged a workout", Outcome: "done", Importance: 3,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("log: status = %d: %s", w.Code, w.Body.String())
	}
	var entry struct {
		Domain string `json:"domain"`
		Date   string `json:"date"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Domain != "fitness" {
		t.Errorf("detected domain = %q, want fitness", entry.Domain)
	}

	w = doJSON(t, r, http.MethodGet, "/memory/episodic/"+entry.Date, nil)
	day := decodeBody[EpisodicDayResponse](t, w)
	if len(day.Entries) != 1 || day.Entries[0].Task != "logged a workout" {
		t.Errorf("day entries = %+v", day.Entries)
	}
}

func TestNoteUpdateIfMatch(t *testing.T) {
	r := testRouter(t)
	content := "# Plan\n\n<!-- domain: fitness -->\n\n- squat twice a week\n"

	w := doJSON(t, r, http.MethodPut, "/memory/semantic/plan", UpdateNoteRequest{Content: content})
	if w.Code != http.StatusOK {
		t.Fatalf("create: status = %d: %s", w.Code, w.Body.String())
	}
	note := decodeBody[NoteDetail](t, w)
	if note.Checksum == "" || note.Domain != "fitness" {
		t.Fatalf("note = %+v", note)
	}

	// Stale checksum is rejected.
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(UpdateNoteRequest{Content: content + "- new line\n"}) //nolint:errcheck
	req := httptest.NewRequest(http.MethodPut, "/memory/semantic/plan", &buf)
	req.Header.Set("If-Match", "deadbeef")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusConflict {
		t.Errorf("stale checksum: status = %d, want 409", w2.Code)
	}

	// Matching checksum goes through.
	buf.Reset()
	json.NewEncoder(&buf).Encode(UpdateNoteRequest{Content: content + "- new line\n"}) //nolint:errcheck
	req = httptest.NewRequest(http.MethodPut, "/memory/semantic/plan", &buf)
	req.Header.Set("If-Match", note.Checksum)
	w2 = httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Errorf("matching checksum: status = %d: %s", w2.Code, w2.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/memory/wisdom/plan", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad kind: status = %d, want 400", w.Code)
	}
}

func TestMemoryIndexEndpoint(t *testing.T) {
	r := testRouter(t)
	doJSON(t, r, http.MethodPut, "/memory/semantic/plan", UpdateNoteRequest{
		Content: "# Plan\n\n<!-- domain: fitness -->\n\n- squat\n",
	})

	w := doJSON(t, r, http.MethodGet, "/memory/index", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("index: status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("# Memory Index")) ||
		!bytes.Contains(w.Body.Bytes(), []byte("plan")) {
		t.Errorf("index body:\n%s", w.Body.String())
	}
}

func TestConsolidateDryRunByDefault(t *testing.T) {
	r := testRouter(t)
	w := doJSON(t, r, http.MethodPost, "/consolidate", ConsolidateRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	rep := decodeBody[consolidate.Report](t, w)
	if !rep.DryRun || rep.Status != consolidate.StatusNothingToDo {
		t.Errorf("report = %+v", rep)
	}
}

func TestForgetEndpoint(t *testing.T) {
	r := testRouter(t)
	doJSON(t, r, http.MethodPost, "/memory/episodic", LogEpisodeRequest{
		Agent: "claude", Task: "password rotation", Outcome: "done",
	})

	// Missing filters is a validation error.
	w := doJSON(t, r, http.MethodPost, "/forget", ForgetRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("no filters: status = %d, want 400", w.Code)
	}

	// Default is a preview.
	w = doJSON(t, r, http.MethodPost, "/forget", ForgetRequest{Search: "password"})
	if w.Code != http.StatusOK {
		t.Fatalf("preview: status = %d: %s", w.Code, w.Body.String())
	}
	res := decodeBody[ForgetResponse](t, w)
	if res.Applied || res.Count != 1 {
		t.Errorf("preview = %+v", res)
	}

	w = doJSON(t, r, http.MethodPost, "/forget", ForgetRequest{Search: "password", Apply: true})
	if w.Code != http.StatusOK {
		t.Fatalf("apply: status = %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodGet, "/memory/episodic", nil)
	dates := decodeBody[EpisodicDatesResponse](t, w)
	if len(dates.Dates) != 0 {
		t.Errorf("dates = %v, want empty", dates.Dates)
	}
}

func TestProceduralForgetNeedsConfirm(t *testing.T) {
	r := testRouter(t)
	doJSON(t, r, http.MethodPut, "/memory/procedural/deploy", UpdateNoteRequest{
		Content: "# Deploy\n\n<!-- domain: ops -->\n\nWhen: deploying\n1. run checks\n",
	})

	w := doJSON(t, r, http.MethodPost, "/forget", ForgetRequest{
		File: "deploy", Type: "procedural", Apply: true,
	})
	if w.Code != http.StatusPreconditionRequired {
		t.Errorf("status = %d, want 428", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/forget", ForgetRequest{
		File: "deploy", Type: "procedural", Apply: true, Confirm: true,
	})
	if w.Code != http.StatusOK {
		t.Errorf("confirmed: status = %d: %s", w.Code, w.Body.String())
	}
}

type eventSink struct {
	kinds []string
}

func (e *eventSink) PublishMemoryEvent(kind, _ string) { e.kinds = append(e.kinds, kind) }

func TestServiceEvents(t *testing.T) {
	db := testutil.TestDB(t)
	repo := testutil.TestRepo(t)
	logger := slog.New(slog.DiscardHandler)
	svc := NewService(db, repo, consolidate.New(repo, nil, logger), logger)

	sink := &eventSink{}
	svc.SetEvents(sink)

	if _, err := svc.LogEpisode(models.Entry{
		Time: "10:00", Agent: "test", Task: "wrote report", Outcome: "done", Importance: 2,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateNote(models.KindSemantic, "notes", []byte("# Notes\n\n<!-- domain: general -->\n\n- a fact\n"), ""); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteNote(models.KindSemantic, "notes"); err != nil {
		t.Fatal(err)
	}

	want := []string{"logged", "updated", "forgotten"}
	if len(sink.kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", sink.kinds, want)
	}
	for i := range want {
		if sink.kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %q, want %q", i, sink.kinds[i], want[i])
		}
	}
}
