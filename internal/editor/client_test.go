package editor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientPersist(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token-123")
	err := client.Persist(context.Background(), "nod_1", Update{
		Title:  strp("Chapter 1"),
		Status: strp("final"),
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	if gotPath != "/api/documents/nod_1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer token-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["title"] != "Chapter 1" {
		t.Errorf("title = %v", gotBody["title"])
	}
	metadata, _ := gotBody["metadata"].(map[string]any)
	if metadata["status"] != "final" {
		t.Errorf("metadata = %v", gotBody["metadata"])
	}
	if _, ok := gotBody["updatedAt"]; !ok {
		t.Error("body missing updatedAt")
	}
}

func TestClientPersistServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":"CONFLICT"}`, http.StatusConflict)
	}))
	defer server.Close()

	client := NewClient(server.URL, "token-123")
	err := client.Persist(context.Background(), "nod_1", Update{Title: strp("Dup")})
	if err == nil {
		t.Fatal("expected error on 409 response")
	}
}

func TestClientGetDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/documents/nod_1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"document":{"id":"nod_1","title":"Intro","path":"/root/Intro","metadata":{"type":"note","wordCount":7}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token-123")
	doc, err := client.GetDocument(context.Background(), "nod_1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if doc.Title != "Intro" || doc.Metadata.WordCount != 7 {
		t.Errorf("doc = %+v", doc)
	}
}
