package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL, Number: "+15550001111"}, zerolog.Nop())
}

func TestDeliverSendsExpectedPayload(t *testing.T) {
	var got sendRequest
	var gotPath, gotContentType string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	if err := c.Deliver(context.Background(), "group.abc", "hello there", ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotPath != "/v2/send" {
		t.Fatalf("path = %q, want /v2/send", gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if got.Message != "hello there" {
		t.Fatalf("message = %q", got.Message)
	}
	if len(got.Recipients) != 1 || got.Recipients[0] != "group.abc" {
		t.Fatalf("recipients = %v, want exactly the one target group", got.Recipients)
	}
	if got.Number != "+15550001111" {
		t.Fatalf("number = %q", got.Number)
	}
	if len(got.Base64Attachments) != 0 {
		t.Fatalf("unexpected attachments: %v", got.Base64Attachments)
	}
}

func TestDeliverInlinesAttachment(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	path := filepath.Join(t.TempDir(), "pic.png")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	var got sendRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))

	if err := c.Deliver(context.Background(), "g", "with image", path); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(got.Base64Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(got.Base64Attachments))
	}
	if want := base64.StdEncoding.EncodeToString(img); got.Base64Attachments[0] != want {
		t.Fatalf("attachment = %q, want %q", got.Base64Attachments[0], want)
	}
}

func TestDeliverMissingAttachmentFailsWithoutRequest(t *testing.T) {
	requests := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))

	err := c.Deliver(context.Background(), "g", "msg", filepath.Join(t.TempDir(), "gone.png"))
	if err == nil {
		t.Fatalf("expected error for missing attachment file")
	}
	if requests != 0 {
		t.Fatalf("no gateway request may be made when the attachment is unreadable")
	}
}

func TestDeliverGatewayRejection(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "untrusted identity", http.StatusBadRequest)
	}))

	if err := c.Deliver(context.Background(), "g", "msg", ""); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestGroups(t *testing.T) {
	var gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"id": "group.1", "internal_id": "i1", "name": "Riders", "description": "d"},
			{"id": "group.2", "internal_id": "i2", "name": ""},
		})
	}))

	groups, err := c.Groups(context.Background())
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if gotPath != "/v1/groups/+15550001111" {
		t.Fatalf("path = %q", gotPath)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Name != "Riders" || groups[1].Name != "Unnamed Group" {
		t.Fatalf("unexpected names: %+v", groups)
	}
}

func TestGroupsGatewayError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	if _, err := c.Groups(context.Background()); err == nil {
		t.Fatalf("expected error for gateway failure")
	}
}
