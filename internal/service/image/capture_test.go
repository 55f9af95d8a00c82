package image

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/util"
)

type fakeBlob struct {
	data         map[string][]byte
	contentTypes map[string]string
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{
		data:         map[string][]byte{},
		contentTypes: map[string]string{},
	}
}

func (f *fakeBlob) PutBlob(_ context.Context, key string, data []byte, contentType string) error {
	f.data[key] = data
	f.contentTypes[key] = contentType
	return nil
}

func (f *fakeBlob) GetBlob(_ context.Context, key string) ([]byte, string, bool, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, "", false, nil
	}
	return data, f.contentTypes[key], true, nil
}

func (f *fakeBlob) BlobExists(_ context.Context, key string) (bool, error) {
	_, ok := f.data[key]
	return ok, nil
}

func testService(blobs *fakeBlob, baseURL string) *Service {
	breaker := util.NewCircuitBreaker(3, time.Minute, zap.NewNop())
	return New(Config{
		BaseURL:   baseURL,
		UserAgent: "test-agent",
		Timeout:   5 * time.Second,
	}, blobs, breaker, zap.NewNop())
}

func TestCaptureStoresImage(t *testing.T) {
	imageBytes := bytes.Repeat([]byte{0xff, 0xd8, 0xfe, 0x00}, 200)
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(imageBytes)
	}))
	defer server.Close()

	blobs := newFakeBlob()
	svc := testService(blobs, server.URL)

	rec := &domain.LiverRecord{ID: "158", ActualImageURL: server.URL + "/user_files/158/main.jpg"}
	result, err := svc.Capture(context.Background(), rec)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if result.Cached {
		t.Error("first capture reported cached")
	}
	if result.Size != len(imageBytes) || result.ContentType != "image/jpeg" {
		t.Errorf("result = %+v", result)
	}

	stored, contentType, found, _ := blobs.GetBlob(context.Background(), BlobKey("158"))
	if !found || !bytes.Equal(stored, imageBytes) || contentType != "image/jpeg" {
		t.Fatal("blob not stored as fetched")
	}

	// A second capture must not refetch.
	result, err = svc.Capture(context.Background(), rec)
	if err != nil {
		t.Fatalf("second Capture: %v", err)
	}
	if !result.Cached {
		t.Error("second capture should be cached")
	}
	if hits != 1 {
		t.Errorf("upstream hit %d times, want 1", hits)
	}
}

func TestCaptureRejectsHTMLBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>" + strings.Repeat("not found ", 50) + "</body></html>"))
	}))
	defer server.Close()

	svc := testService(newFakeBlob(), server.URL)
	rec := &domain.LiverRecord{ID: "7", ActualImageURL: server.URL + "/img.jpg"}

	if _, err := svc.Capture(context.Background(), rec); err == nil {
		t.Fatal("HTML error page accepted as image")
	}
}

func TestCaptureNoSource(t *testing.T) {
	svc := testService(newFakeBlob(), "https://www.comisapolive.com")
	rec := &domain.LiverRecord{ID: "9", ImageURL: "/api/images/9.jpg"}

	if _, err := svc.Capture(context.Background(), rec); err == nil {
		t.Fatal("expected error when every source is a serving path")
	}
}

func TestSourceURL(t *testing.T) {
	base := "https://www.comisapolive.com"
	tests := []struct {
		name string
		rec  *domain.LiverRecord
		want string
	}{
		{
			name: "actual image preferred",
			rec: &domain.LiverRecord{
				ActualImageURL: "https://cdn.example.com/a.jpg",
				ImageURL:       "/api/images/1.jpg",
				ProfileImages:  []domain.ProfileImage{{OriginalURL: "/user_files/1/p.jpg"}},
			},
			want: "https://cdn.example.com/a.jpg",
		},
		{
			name: "serving path skipped for profile image",
			rec: &domain.LiverRecord{
				ImageURL:      "/api/images/2.jpg",
				ProfileImages: []domain.ProfileImage{{OriginalURL: "/user_files/2/p.jpg"}},
			},
			want: base + "/user_files/2/p.jpg",
		},
		{
			name: "placeholder rejected",
			rec: &domain.LiverRecord{
				ActualImageURL: base + "/assets/images/shared/noimage.png",
				ProfileImages:  []domain.ProfileImage{{OriginalURL: "https://cdn.example.com/real.jpg"}},
			},
			want: "https://cdn.example.com/real.jpg",
		},
		{
			name: "nothing usable",
			rec: &domain.LiverRecord{
				ImageURL: "/assets/images/shared/noimage.png",
			},
			want: "",
		},
		{
			name: "relative source resolved",
			rec: &domain.LiverRecord{
				ActualImageURL: "/user_files/5/main.jpg",
			},
			want: base + "/user_files/5/main.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SourceURL(tt.rec, base); got != tt.want {
				t.Errorf("SourceURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidImage(t *testing.T) {
	big := bytes.Repeat([]byte{0x01}, 512)

	if validImage([]byte("tiny"), "image/png") {
		t.Error("undersized body accepted")
	}
	if !validImage(big, "image/png") {
		t.Error("declared image rejected")
	}
	if !validImage(big, "application/octet-stream") {
		t.Error("undeclared binary body rejected")
	}
	htmlBody := append([]byte("<!DOCTYPE html><html>"), big...)
	if validImage(htmlBody, "text/html") {
		t.Error("HTML page accepted")
	}
}
