package asset

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vpool/internal/model"
	"vpool/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newS3Server answers HEAD object requests for the given keys
func newS3Server(t *testing.T, bucket string, keys ...string) *httptest.Server {
	t.Helper()
	present := make(map[string]bool)
	for _, k := range keys {
		present["/"+bucket+"/"+k] = true
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead || !present[r.URL.Path] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "0")
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
	}))
}

func newTestProber(t *testing.T, server *httptest.Server, bucket string) *MinioProber {
	t.Helper()
	prober, err := NewMinioProber(config.AssetConfig{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		Bucket:    bucket,
		AccessKey: "test",
		SecretKey: "testsecret",
		Region:    "us-east-1",
	})
	require.NoError(t, err)
	return prober
}

func TestMinioProber_Exists(t *testing.T) {
	server := newS3Server(t, "assets", "intro.mp4")
	defer server.Close()
	prober := newTestProber(t, server, "assets")
	ctx := context.Background()

	assert.NoError(t, prober.Exists(ctx, "intro.mp4"))

	err := prober.Exists(ctx, "missing.mp4")
	assert.ErrorIs(t, err, model.ErrAssetNotFound)
}

func TestMinioProber_NoBucket(t *testing.T) {
	prober, err := NewMinioProber(config.AssetConfig{})
	require.NoError(t, err)

	assert.ErrorIs(t, prober.Exists(context.Background(), "intro.mp4"), model.ErrBucketNameMissing)
}
