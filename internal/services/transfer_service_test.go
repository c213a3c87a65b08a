package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-media/internal/clients/origin"
	"github.com/bionicotaku/lingo-services-media/internal/models/po"
)

type stubFetcher struct {
	payload *origin.Payload
	err     error
}

func (s *stubFetcher) Fetch(context.Context, string) (*origin.Payload, error) {
	return s.payload, s.err
}

type recordingStore struct {
	path string
	mime string
	data []byte
}

func (s *recordingStore) Upload(_ context.Context, path string, data []byte, mimeType string) (int64, error) {
	s.path = path
	s.mime = mimeType
	s.data = data
	return int64(len(data)), nil
}

func (s *recordingStore) ResolveURL(_ context.Context, path string) (string, error) {
	return "https://store.example/" + path, nil
}

func (s *recordingStore) Download(context.Context, string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *recordingStore) Holds(string) bool { return false }

func TestExtensionForMIME(t *testing.T) {
	cases := map[string]string{
		"image/jpeg":      ".jpg",
		"image/png":       ".png",
		"image/webp":      ".webp",
		"text/html":       ".img",
		"":                ".img",
		"application/pdf": ".img",
	}
	for mime, want := range cases {
		if got := extensionForMIME(mime); got != want {
			t.Fatalf("extensionForMIME(%q) = %q, want %q", mime, got, want)
		}
	}
}

func TestTransferBuildsContentAddressedPath(t *testing.T) {
	fetcher := &stubFetcher{payload: &origin.Payload{Data: []byte("png-bytes"), MimeType: "image/png"}}
	store := &recordingStore{}
	svc := NewMediaTransferService(fetcher, store, log.NewStdLogger(io.Discard))

	hash := ContentAddress("https://cdn.example/a.jpg")
	result, err := svc.Transfer(context.Background(), "https://cdn.example/a.jpg", hash, po.EntityKindCreator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantPath := "creator/" + hash + ".png"
	if store.path != wantPath {
		t.Fatalf("expected upload path %s, got %s", wantPath, store.path)
	}
	if result.Location != "https://store.example/"+wantPath {
		t.Fatalf("unexpected location: %s", result.Location)
	}
	if result.Size != int64(len("png-bytes")) || result.MimeType != "image/png" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTransferUnknownKindUsesGenericPrefix(t *testing.T) {
	fetcher := &stubFetcher{payload: &origin.Payload{Data: []byte("data"), MimeType: "image/gif"}}
	store := &recordingStore{}
	svc := NewMediaTransferService(fetcher, store, log.NewStdLogger(io.Discard))

	if _, err := svc.Transfer(context.Background(), "https://cdn.example/x", "abc123", po.EntityKind("")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.path != "images/abc123.gif" {
		t.Fatalf("expected generic prefix path, got %s", store.path)
	}
}

func TestTransferFetchErrorPropagates(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("origin unreachable")}
	svc := NewMediaTransferService(fetcher, &recordingStore{}, log.NewStdLogger(io.Discard))

	if _, err := svc.Transfer(context.Background(), "https://cdn.example/x", "abc", po.EntityKindVideo); err == nil {
		t.Fatalf("expected error from failed fetch")
	}
}

func TestContentAddressDeterministic(t *testing.T) {
	a := ContentAddress("https://cdn.example/a.jpg")
	b := ContentAddress("https://cdn.example/a.jpg")
	c := ContentAddress("https://cdn.example/b.jpg")
	if a != b {
		t.Fatalf("same url must hash identically")
	}
	if a == c {
		t.Fatalf("different urls must not collide")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha-256 length 64, got %d", len(a))
	}
}
