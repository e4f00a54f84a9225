package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MediaFetcher resolves job media URLs. http(s) is always available;
// s3:// and minio:// need MinIO configured, gs:// needs GCS enabled.
type MediaFetcher struct {
	client     *http.Client
	retryCount int
	retryDelay time.Duration
	maxBytes   int64
	minio      *minio.Client
	gcs        *storage.Client
	logger     zerolog.Logger
}

func NewMediaFetcher(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*MediaFetcher, error) {
	f := &MediaFetcher{
		client:     &http.Client{Timeout: cfg.HTTPTimeout},
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		maxBytes:   cfg.MaxObjectBytes,
		logger:     logger.With().Str("component", "media_fetcher").Logger(),
	}

	if cfg.MinIO.Enabled {
		client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
			Region: cfg.MinIO.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create MinIO client: %w", err)
		}
		f.minio = client
	}

	if cfg.GCSEnabled {
		client, err := storage.NewClient(ctx, ClientOptionsFromEnv()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		f.gcs = client
	}

	return f, nil
}

func (f *MediaFetcher) Close() error {
	if f.gcs != nil {
		return f.gcs.Close()
	}
	return nil
}

func (f *MediaFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad url %q: %v", models.ErrMediaUnavailable, rawURL, err)
	}

	var data []byte
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		data, err = f.fetchHTTP(ctx, rawURL)
	case "s3", "minio":
		data, err = f.fetchMinIO(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	case "gs":
		data, err = f.fetchGCS(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", models.ErrMediaUnavailable, u.Scheme)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return data, nil
}

func (f *MediaFetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for i := 0; i <= f.retryCount; i++ {
		if i > 0 {
			f.logger.Warn().Int("attempt", i).Str("url", rawURL).Msg("Retrying media download")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay * time.Duration(i)):
			}
		}

		data, retry, err := f.getOnce(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", models.ErrMediaUnavailable, lastErr)
}

func (f *MediaFetcher) getOnce(ctx context.Context, rawURL string) (data []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode >= 500, fmt.Errorf("media host returned status %d", resp.StatusCode)
	}

	data, err = f.readAll(resp.Body)
	return data, false, err
}

func (f *MediaFetcher) fetchMinIO(ctx context.Context, bucket, key string) ([]byte, error) {
	if f.minio == nil {
		return nil, fmt.Errorf("%w: object storage not configured", models.ErrMediaUnavailable)
	}

	obj, err := f.minio.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMediaUnavailable, err)
	}
	defer obj.Close()

	data, err := f.readAll(obj)
	if err != nil {
		if code := minio.ToErrorResponse(err).Code; code != "" {
			return nil, fmt.Errorf("%w: minio %s %s/%s", models.ErrMediaUnavailable, code, bucket, key)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrMediaUnavailable, err)
	}
	return data, nil
}

func (f *MediaFetcher) fetchGCS(ctx context.Context, bucket, key string) ([]byte, error) {
	if f.gcs == nil {
		return nil, fmt.Errorf("%w: gcs not configured", models.ErrMediaUnavailable)
	}

	rd, err := f.gcs.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s not found", models.ErrMediaUnavailable, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMediaUnavailable, err)
	}
	defer rd.Close()

	data, err := f.readAll(rd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMediaUnavailable, err)
	}
	return data, nil
}

func (f *MediaFetcher) readAll(r io.Reader) ([]byte, error) {
	if f.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("object exceeds %d bytes", f.maxBytes)
	}
	return data, nil
}
