package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry = 15 * time.Minute
	documentContentType    = "application/pdf"
)

var (
	errNoBucket = errors.New("storage: bucket name is required")
	errNoClient = errors.New("storage: client is required")
	errNoData   = errors.New("storage: document data is empty")
)

// ObjectWriter is the small slice of the Cloud Storage client the document store
// needs; the concrete client satisfies it via gcsWriter.
type ObjectWriter interface {
	Write(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// DocumentStore persists press-ready documents in Cloud Storage and hands out
// time-limited download URLs for fulfillment providers.
type DocumentStore struct {
	writer ObjectWriter
	bucket string
	signer Signer
	expiry time.Duration
	now    func() time.Time
}

// DocumentStoreOption customises store behaviour.
type DocumentStoreOption func(*DocumentStore)

// WithURLExpiry overrides the signed URL lifetime (defaults to 15 minutes).
func WithURLExpiry(expiry time.Duration) DocumentStoreOption {
	return func(s *DocumentStore) {
		if expiry > 0 {
			s.expiry = expiry
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) DocumentStoreOption {
	return func(s *DocumentStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithObjectWriter replaces the Cloud Storage writer, primarily for tests.
func WithObjectWriter(writer ObjectWriter) DocumentStoreOption {
	return func(s *DocumentStore) {
		if writer != nil {
			s.writer = writer
		}
	}
}

// NewDocumentStore constructs a DocumentStore over the provided bucket. The signer is
// optional; without one the store returns unsigned storage URLs, which only work for
// buckets that allow public reads.
func NewDocumentStore(client *gcs.Client, bucket string, signer Signer, opts ...DocumentStoreOption) (*DocumentStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errNoBucket
	}

	store := &DocumentStore{
		bucket: bucket,
		signer: signer,
		expiry: defaultSignedURLExpiry,
		now:    time.Now,
	}
	if client != nil {
		store.writer = gcsWriter{client: client}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if store.writer == nil {
		return nil, errNoClient
	}
	return store, nil
}

// StoreDocument uploads the encoded document under the job's object path and returns a
// URL a provider can fetch it from.
func (s *DocumentStore) StoreDocument(ctx context.Context, jobID string, data []byte) (string, error) {
	if s == nil {
		return "", errNoClient
	}
	if len(data) == 0 {
		return "", errNoData
	}

	object, err := DocumentObjectPath(jobID)
	if err != nil {
		return "", err
	}

	if err := s.writer.Write(ctx, s.bucket, object, documentContentType, data); err != nil {
		return "", fmt.Errorf("storage: upload document: %w", err)
	}

	if s.signer == nil {
		return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, object), nil
	}
	return s.signedDownloadURL(ctx, object)
}

func (s *DocumentStore) signedDownloadURL(ctx context.Context, object string) (string, error) {
	opts := &gcs.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         "GET",
		Expires:        s.now().Add(s.expiry),
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	}
	signedURL, err := gcs.SignedURL(s.bucket, object, opts)
	if err != nil {
		return "", fmt.Errorf("storage: sign download url: %w", err)
	}
	return signedURL, nil
}

type gcsWriter struct {
	client *gcs.Client
}

func (w gcsWriter) Write(ctx context.Context, bucket, object, contentType string, data []byte) error {
	writer := w.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
