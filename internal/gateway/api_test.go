package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tabulant/tabulant/internal/auth"
	"github.com/tabulant/tabulant/internal/observability"
	"github.com/tabulant/tabulant/pkg/models"
)

func (f *httpFixture) request(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestUploadCreatesSession(t *testing.T) {
	f := newHTTPFixture(t, finalizingProvider())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "people.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(testCSV)); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	resp := f.request(t, http.MethodPost, "/sessions/upload", &buf, mw.FormDataContentType())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[uploadResponse](t, resp)
	if created.ID == "" || created.Title != models.DefaultSessionTitle {
		t.Errorf("upload response = %+v", created)
	}
	if created.File.RowCount != 3 || created.File.ColumnCount != 3 {
		t.Errorf("file info = %+v", created.File)
	}

	detail := decodeBody[sessionDetail](t, f.request(t, http.MethodGet, "/sessions/"+created.ID, nil, ""))
	if detail.File == nil || detail.File.Filename != "people.csv" {
		t.Errorf("session detail file = %+v", detail.File)
	}
	if len(detail.Messages) != 0 {
		t.Errorf("fresh session has %d messages", len(detail.Messages))
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	f := newHTTPFixture(t, finalizingProvider())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "notes.txt")
	_, _ = part.Write([]byte("hello"))
	mw.Close()

	resp := f.request(t, http.MethodPost, "/sessions/upload", &buf, mw.FormDataContentType())
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	rf := newRuntimeFixture(t, finalizingProvider())
	authService := auth.NewService("test-secret", time.Hour)
	token, err := authService.Generate("alice")
	if err != nil {
		t.Fatal(err)
	}
	server := NewServer(ServerConfig{DataDir: t.TempDir(), MaxUploadBytes: 16},
		rf.store, authService, rf.runtime,
		observability.NewNopLogger(), observability.NewMetrics(nil))
	ts := httptest.NewServer(server.Routes())
	defer ts.Close()

	upload := func(size int) int {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "big.csv")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(bytes.Repeat([]byte("a"), size)); err != nil {
			t.Fatal(err)
		}
		mw.Close()

		req, err := http.NewRequest(http.MethodPost, ts.URL+"/sessions/upload", &buf)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	// Just over the limit: the save path detects the overrun.
	if got := upload(200); got != http.StatusRequestEntityTooLarge {
		t.Errorf("slightly oversized upload status = %d, want 413", got)
	}
	// Far over the limit: multipart parsing trips the request byte cap.
	if got := upload(2 << 20); got != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body upload status = %d, want 413", got)
	}
}

func TestListSessions(t *testing.T) {
	f := newHTTPFixture(t, finalizingProvider())

	resp := f.request(t, http.MethodGet, "/sessions", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	sessions := decodeBody[[]sessionSummary](t, resp)
	if len(sessions) != 1 || sessions[0].ID != f.session.ID {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestListSessionsRequiresAuth(t *testing.T) {
	f := newHTTPFixture(t, finalizingProvider())

	resp, err := f.ts.Client().Get(f.ts.URL + "/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGetSessionFiltersHiddenKinds(t *testing.T) {
	f := newHTTPFixture(t, finalizingProvider())
	ctx := context.Background()

	appends := []*models.Message{
		{SessionID: f.session.ID, Role: models.RoleUser, Kind: models.KindText, Body: "question"},
		{SessionID: f.session.ID, Role: models.RoleAssistant, Kind: models.KindInternal, Body: "thinking"},
		{SessionID: f.session.ID, Role: models.RoleAssistant, Kind: models.KindQueryResult, Body: "probe", Payload: []byte(`{}`)},
		{SessionID: f.session.ID, Role: models.RoleAssistant, Kind: models.KindText, Body: "answer"},
	}
	for _, m := range appends {
		if _, err := f.store.AppendMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	detail := decodeBody[sessionDetail](t, f.request(t, http.MethodGet, "/sessions/"+f.session.ID, nil, ""))
	if len(detail.Messages) != 2 {
		t.Fatalf("restored messages = %d, want 2", len(detail.Messages))
	}
	for _, m := range detail.Messages {
		if m.Kind != models.KindText {
			t.Errorf("restored message kind = %s", m.Kind)
		}
	}
}

func TestGetSessionNotFoundForOtherUser(t *testing.T) {
	f := newHTTPFixture(t, finalizingProvider())
	if err := f.store.CreateSession(context.Background(), &models.Session{
		ID: "bobs", UserID: "bob", Title: "private",
	}); err != nil {
		t.Fatal(err)
	}

	resp := f.request(t, http.MethodGet, "/sessions/bobs", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	f := newHTTPFixture(t, finalizingProvider())

	resp := f.request(t, http.MethodDelete, "/sessions/"+f.session.ID, nil, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	resp = f.request(t, http.MethodGet, "/sessions/"+f.session.ID, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}

	resp = f.request(t, http.MethodDelete, "/sessions/"+f.session.ID, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	f := newHTTPFixture(t, finalizingProvider())

	resp, err := f.ts.Client().Get(f.ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
