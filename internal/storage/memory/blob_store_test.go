package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/shotcast/internal/store"
)

func TestBlobStoreUploadCopiesData(t *testing.T) {
	t.Parallel()

	blobs := NewBlobStore("http://localhost:8080/")
	payload := []byte("content")
	if err := blobs.Upload(context.Background(), "shots/abc.png", "image/png", payload); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	payload[0] = 'C'
	got, err := blobs.Download(context.Background(), "shots/abc.png")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
	got[0] = 'X'
	again, _ := blobs.Download(context.Background(), "shots/abc.png")
	if string(again) != "content" {
		t.Fatalf("expected Download to return a copy, got %q", again)
	}
}

func TestBlobStoreDownloadMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore("").Download(context.Background(), "missing.png")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlobStorePublicURL(t *testing.T) {
	t.Parallel()

	blobs := NewBlobStore("https://shots.example.com/")
	got := blobs.PublicURL("screens/a b.png")
	if got != "https://shots.example.com/v1/screenshots/screens/a%20b.png" {
		t.Fatalf("unexpected url %s", got)
	}
	if err := blobs.Upload(context.Background(), " ", "", nil); err == nil {
		t.Fatal("expected error for empty key")
	}
}
