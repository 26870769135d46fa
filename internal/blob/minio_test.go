package blob

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	got := ObjectKey("post_1", 3, "Lab-partners.pdf")
	if got != "exports/post_1/v3/Lab-partners.pdf" {
		t.Fatalf("ObjectKey() = %q", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("FORUM_TEST_MINIO_ENDPOINT"))
	if endpoint == "" {
		t.Skip("FORUM_TEST_MINIO_ENDPOINT is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := New(ctx, Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("FORUM_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("FORUM_TEST_MINIO_SECRET_KEY"),
		Bucket:    "forum-exports-test",
		LinkTTL:   time.Minute,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	link, err := s.Put(ctx, ObjectKey("post_test", 1, "post.html"), "text/html", []byte("<h1>hi</h1>"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	resp, err := http.Get(link)
	if err != nil {
		t.Fatalf("GET presigned link: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "<h1>hi</h1>" {
		t.Fatalf("unexpected download: %d %q", resp.StatusCode, body)
	}
}
