package grok

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAssetURL(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"https://assets.grok.com/users/u/image.jpg", "https://assets.grok.com/users/u/image.jpg"},
		{"users/u/image.jpg", "https://assets.grok.com/users/u/image.jpg"},
		{"/users/u/image.jpg", "https://assets.grok.com/users/u/image.jpg"},
	}
	for _, tt := range tests {
		if got := AssetURL(tt.ref); got != tt.want {
			t.Errorf("AssetURL(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestDownloadAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie := r.Header.Get("Cookie"); cookie == "" {
			t.Error("missing session cookie on asset request")
		}
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	data, err := c.DownloadAsset(context.Background(), testCred, srv.URL+"/users/u/image.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestDownloadAssetFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.DownloadAsset(context.Background(), testCred, srv.URL+"/missing.jpg"); err == nil {
		t.Fatal("expected error for 404 asset")
	}
}
