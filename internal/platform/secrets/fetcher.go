// Package secrets resolves secret:// references found in the service
// configuration against Google Secret Manager, with an in-process cache and a
// local fallback file for development machines.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	productionEnv       = "production"
	meterScope          = "github.com/pagecraft/api/internal/platform/secrets"
)

// newSecretManagerClient is swapped out by tests that exercise construction
// without real credentials.
var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// versionAccessor is the slice of the Secret Manager client the fetcher needs.
type versionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references. Values fetched from Secret Manager
// are cached for the process lifetime; provider API keys rotate by restart.
type Fetcher struct {
	client     versionAccessor
	ownsClient bool

	logger    *zap.Logger
	env       string
	projectID string

	fallbackPath   string
	fallbackOnce   sync.Once
	fallbackValues map[string]string
	fallbackErr    error

	mu    sync.RWMutex
	cache map[string]string

	resolveDuration metric.Float64Histogram
	cacheHits       metric.Int64Counter
}

type settings struct {
	logger       *zap.Logger
	env          string
	projectID    string
	fallbackPath string
	client       versionAccessor
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*settings)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment records the deployment environment. In production the local
// fallback file is ignored; a secret that Secret Manager cannot serve is an
// error.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the Google Cloud project that holds the secrets.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.projectID = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the path of the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

// WithClientOptions forwards Cloud client options when constructing the
// Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithSecretManagerClient injects a preconfigured client, primarily for tests.
func WithSecretManagerClient(client versionAccessor) Option {
	return func(s *settings) { s.client = client }
}

// NewFetcher builds a Fetcher. A missing or unreachable Secret Manager is not
// a construction error; resolution falls back to the local file until the
// environment forbids it.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
	}
	if s.env == "" {
		s.env = defaultEnvironment
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	meter := otel.GetMeterProvider().Meter(meterScope)
	duration, err := meter.Float64Histogram(
		"secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"),
	)
	if err != nil {
		s.logger.Warn("secrets: duration metric unavailable", zap.Error(err))
		duration = nil
	}
	hits, err := meter.Int64Counter(
		"secrets.resolve.cache_hits",
		metric.WithDescription("Secret resolutions served from the in-process cache"),
	)
	if err != nil {
		s.logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
		hits = nil
	}

	f := &Fetcher{
		logger:          s.logger,
		env:             s.env,
		projectID:       s.projectID,
		fallbackPath:    s.fallbackPath,
		cache:           make(map[string]string),
		resolveDuration: duration,
		cacheHits:       hits,
	}

	if s.client != nil {
		f.client = s.client
		return f, nil
	}

	client, err := newSecretManagerClient(ctx, s.clientOpts...)
	if err != nil {
		s.logger.Warn("secrets: secret manager client unavailable",
			zap.String("environment", s.env), zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the underlying client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret:// reference.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()

	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.cacheKey()

	f.mu.RLock()
	value, cached := f.cache[key]
	f.mu.RUnlock()
	if cached {
		f.countCacheHit(ctx, parsed)
		f.observe(ctx, start, "cache")
		return value, nil
	}

	project := parsed.Project
	if project == "" {
		project = f.projectID
	}

	if f.client != nil && project != "" {
		value, err := f.access(ctx, project, parsed)
		switch {
		case err == nil:
			f.store(key, value)
			f.observe(ctx, start, "remote")
			return value, nil
		case !fallbackWorthy(err):
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.Canonical, err)
		default:
			f.logger.Debug("secrets: consulting local fallback",
				zap.String("ref", parsed.Canonical), zap.Error(err))
		}
	}

	if f.env == productionEnv {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("secrets: %s unavailable and fallback is disabled in production", parsed.Canonical)
	}

	value, ok := f.fromFallbackFile(parsed)
	if !ok {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("secrets: no value found for %s", parsed.Canonical)
	}
	f.store(key, value)
	f.observe(ctx, start, "fallback")
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.Name, ref.version())
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned an empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) fromFallbackFile(ref reference) (string, bool) {
	f.fallbackOnce.Do(f.loadFallbackFile)

	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallbackValues[ref.cacheKey()]; ok {
		return value, true
	}
	value, ok := f.fallbackValues[ref.Canonical]
	return value, ok
}

// loadFallbackFile reads the local secrets file once. Each line is
// `secret://name=value`; blank lines and #-comments are skipped.
func (f *Fetcher) loadFallbackFile() {
	f.fallbackValues = map[string]string{}

	path := f.fallbackPath
	if path == "" {
		return
	}
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: open %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if ref, err := parseReference(key); err == nil {
			f.fallbackValues[ref.Canonical] = value
			f.fallbackValues[ref.cacheKey()] = value
		} else {
			f.fallbackValues[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read %s: %w", path, err)
	}
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, outcome string) {
	if f.resolveDuration == nil {
		return
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.resolveDuration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (f *Fetcher) countCacheHit(ctx context.Context, ref reference) {
	if f.cacheHits == nil {
		return
	}
	// The reference is hashed so secret names stay out of metric labels.
	digest := sha256.Sum256([]byte(ref.Canonical))
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("secret", hex.EncodeToString(digest[:8]))))
}

// reference is a parsed secret:// URI. Query parameters select a project or a
// pinned version, e.g. secret://printful_api_key?version=3.
type reference struct {
	Canonical string
	Name      string
	Version   string
	Project   string
}

func (r reference) version() string {
	if r.Version == "" {
		return "latest"
	}
	return r.Version
}

func (r reference) cacheKey() string {
	return r.Canonical + "#" + r.version()
}

func parseReference(raw string) (reference, error) {
	if strings.TrimSpace(raw) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	return reference{
		Canonical: canonical.String(),
		Name:      name,
		Version:   strings.TrimSpace(query.Get("version")),
		Project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// fallbackWorthy reports whether a Secret Manager failure should route to the
// local fallback file instead of failing the resolution. Missing secrets do
// not qualify; a typo in a reference must surface.
func fallbackWorthy(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
