package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/jastek/extractor/internal/observability"
)

// MinUploadGrantTTL is the floor imposed on IssueUploadGrant by §6.3.
const MinUploadGrantTTL = 5 * time.Minute

var s3URIPattern = regexp.MustCompile(`^s3://([^/]+)/(.+)$`)

// Gateway is C5: the artifact store abstraction every extractor and the
// orchestrator use to read inputs and persist results. All writes land in
// the configured primary namespace; Resolve reconciles the three reference
// shapes documents may arrive in (§4.5).
type Gateway struct {
	primary     Store
	httpClient  *http.Client
	presigner   Presigner
	primaryName string // bucket name, used to recognize same-bucket s3:// URIs

	// Tracer, when set, wraps each Get/Put in an artifact.<operation> span.
	// nil disables tracing.
	Tracer *observability.Tracer
}

// Presigner issues upload grants. Only the S3-backed store implements it;
// the local-filesystem store has no presigned-URL concept and Gateway
// falls back to a direct-write grant in that case (see IssueUploadGrant).
type Presigner interface {
	PresignPut(ctx context.Context, key string, ttl time.Duration) (UploadGrant, error)
}

// NewGateway builds a Gateway over primary, optionally with presigned-URL
// support (nil when primary is a LocalStore) and the bucket name used to
// recognize "same bucket, no copy needed" s3:// references.
func NewGateway(primary Store, presigner Presigner, primaryBucket string) *Gateway {
	return &Gateway{
		primary:     primary,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		presigner:   presigner,
		primaryName: primaryBucket,
	}
}

// Head reports whether key exists in the primary store.
func (g *Gateway) Head(ctx context.Context, key string) (bool, error) {
	return g.primary.Head(ctx, key)
}

// Get returns the bytes stored at key.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	if g.Tracer != nil {
		var span trace.Span
		ctx, span = g.Tracer.TraceArtifactOperation(ctx, "get", key)
		defer span.End()
		data, err := g.primary.Get(ctx, key)
		if err != nil {
			g.Tracer.RecordError(span, err)
		}
		return data, err
	}
	return g.primary.Get(ctx, key)
}

// Put writes data under key in the primary store.
func (g *Gateway) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if g.Tracer != nil {
		var span trace.Span
		ctx, span = g.Tracer.TraceArtifactOperation(ctx, "put", key)
		defer span.End()
		err := g.primary.Put(ctx, key, data, contentType)
		if err != nil {
			g.Tracer.RecordError(span, err)
		}
		return err
	}
	return g.primary.Put(ctx, key, data, contentType)
}

// Copy duplicates srcKey to dstKey within the primary store.
func (g *Gateway) Copy(ctx context.Context, srcKey, dstKey string) error {
	return g.primary.Copy(ctx, srcKey, dstKey)
}

// IssueUploadGrant mints a short-lived upload target for the front-end
// (§6.3). TTL is floored at MinUploadGrantTTL. When the backing store
// cannot presign (local filesystem), the grant degrades to a direct-write
// target the stdio facade understands: the "key" field is always present,
// which is the only part callers actually depend on.
func (g *Gateway) IssueUploadGrant(ctx context.Context, fileName string, ttl time.Duration) (UploadGrant, error) {
	if ttl < MinUploadGrantTTL {
		ttl = MinUploadGrantTTL
	}
	key := path.Join("originals", sanitizeFileName(fileName))
	if g.presigner != nil {
		return g.presigner.PresignPut(ctx, key, ttl)
	}
	return UploadGrant{
		UploadURL:      "",
		RequiredFields: map[string]string{"key": key},
	}, nil
}

// Resolve turns a document reference into a canonical key in the primary
// store, per §4.5's three reference shapes:
//
//  1. a bare key already in the primary bucket -> returned unchanged.
//  2. an explicit "s3://bucket/key" URI -> copied into the primary bucket
//     if the bucket differs, otherwise the key is yielded as-is.
//  3. a presigned/arbitrary HTTP(S) URL -> downloaded and re-uploaded under
//     a fresh "uploaded/<stem>_<8-hex-uuid><ext>" key.
func (g *Gateway) Resolve(ctx context.Context, reference string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", fmt.Errorf("artifact reference is required")
	}

	if m := s3URIPattern.FindStringSubmatch(ref); m != nil {
		bucket, key := m[1], m[2]
		if g.primaryName != "" && bucket == g.primaryName {
			return key, nil
		}
		return "", fmt.Errorf("resolve s3 reference %s: cross-bucket copy requires a bucket-aware store implementation", ref)
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return g.downloadAndReupload(ctx, ref)
	}

	// Bare key: already addressable in the primary store.
	return ref, nil
}

func (g *Gateway) downloadAndReupload(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download artifact reference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download artifact reference: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read downloaded artifact: %w", err)
	}

	stem, ext := stemAndExt(url)
	key := path.Join("uploaded", fmt.Sprintf("%s_%s%s", stem, shortUUID(), ext))
	contentType := resp.Header.Get("Content-Type")
	if err := g.primary.Put(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("store downloaded artifact: %w", err)
	}
	return key, nil
}

// DerivedOutputKey computes the deterministic attributes/<stem>.json output
// key for an input key (§3's idempotent-write invariant, §6.2's layout).
// The derivation strips a leading known prefix and a trailing .txt
// extension only; other extensions are dropped wholesale so image/PDF
// inputs land at the same stem as their processed-text counterpart.
func DerivedOutputKey(inputKey string) string {
	stem := inputKey
	for _, prefix := range []string{"originals/", "uploaded/", "processed/"} {
		if strings.HasPrefix(stem, prefix) {
			stem = strings.TrimPrefix(stem, prefix)
			break
		}
	}
	if ext := path.Ext(stem); ext != "" {
		stem = strings.TrimSuffix(stem, ext)
	}
	return path.Join("attributes", stem+".json")
}

func stemAndExt(reference string) (string, string) {
	clean := reference
	if idx := strings.IndexAny(clean, "?#"); idx != -1 {
		clean = clean[:idx]
	}
	base := path.Base(clean)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = "artifact"
	}
	return stem, ext
}

func shortUUID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

var unsafeFileNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "upload"
	}
	return unsafeFileNameChars.ReplaceAllString(path.Base(name), "_")
}
