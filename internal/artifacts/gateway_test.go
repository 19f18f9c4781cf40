package artifacts_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jastek/extractor/internal/artifacts"
)

func newGateway(t *testing.T) (*artifacts.Gateway, *artifacts.LocalStore) {
	t.Helper()
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return artifacts.NewGateway(store, nil, "my-bucket"), store
}

func TestGateway_Resolve_BareKeyPassesThrough(t *testing.T) {
	gw, _ := newGateway(t)
	key, err := gw.Resolve(context.Background(), "originals/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "originals/doc.pdf", key)
}

func TestGateway_Resolve_RejectsBlankReference(t *testing.T) {
	gw, _ := newGateway(t)
	_, err := gw.Resolve(context.Background(), "   ")
	assert.Error(t, err)
}

func TestGateway_Resolve_SameBucketS3URIYieldsBareKey(t *testing.T) {
	gw, _ := newGateway(t)
	key, err := gw.Resolve(context.Background(), "s3://my-bucket/originals/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "originals/doc.pdf", key)
}

func TestGateway_Resolve_CrossBucketS3URIIsUnsupported(t *testing.T) {
	gw, _ := newGateway(t)
	_, err := gw.Resolve(context.Background(), "s3://other-bucket/doc.pdf")
	assert.Error(t, err)
}

func TestGateway_Resolve_HTTPURLDownloadsAndReuploads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("pdf-bytes"))
	}))
	defer srv.Close()

	gw, store := newGateway(t)
	key, err := gw.Resolve(context.Background(), srv.URL+"/invoice.pdf")
	require.NoError(t, err)
	assert.Regexp(t, `^uploaded/invoice_[0-9a-f]{8}\.pdf$`, key)

	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(got))
}

func TestGateway_Resolve_HTTPURLNonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	gw, _ := newGateway(t)
	_, err := gw.Resolve(context.Background(), srv.URL+"/missing.pdf")
	assert.Error(t, err)
}

func TestGateway_IssueUploadGrant_FloorsTTLAndReturnsDirectWriteKey(t *testing.T) {
	gw, _ := newGateway(t)
	grant, err := gw.IssueUploadGrant(context.Background(), "My Invoice (final).pdf", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "originals/My_Invoice__final_.pdf", grant.RequiredFields["key"])
	assert.Empty(t, grant.UploadURL, "a nil presigner degrades to a direct-write grant with no URL")
}

type stubPresigner struct {
	grant artifacts.UploadGrant
	ttl   time.Duration
	key   string
}

func (p *stubPresigner) PresignPut(_ context.Context, key string, ttl time.Duration) (artifacts.UploadGrant, error) {
	p.key = key
	p.ttl = ttl
	return p.grant, nil
}

func TestGateway_IssueUploadGrant_DelegatesToPresigner(t *testing.T) {
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	presigner := &stubPresigner{grant: artifacts.UploadGrant{UploadURL: "https://example.com/upload"}}
	gw := artifacts.NewGateway(store, presigner, "my-bucket")

	grant, err := gw.IssueUploadGrant(context.Background(), "report.pdf", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/upload", grant.UploadURL)
	assert.Equal(t, "originals/report.pdf", presigner.key)
	assert.Equal(t, time.Hour, presigner.ttl)
}

func TestDerivedOutputKey(t *testing.T) {
	cases := map[string]string{
		"originals/invoice.pdf":  "attributes/invoice.json",
		"processed/invoice.txt":  "attributes/invoice.json",
		"uploaded/doc_a1b2c3d4.jpg": "attributes/doc_a1b2c3d4.json",
		"bare-key-no-prefix.png": "attributes/bare-key-no-prefix.json",
	}
	for in, want := range cases {
		assert.Equal(t, want, artifacts.DerivedOutputKey(in), in)
	}
}
