// Package archive uploads run reports to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/shpitdev/lead-engagement-pipeline/internal/pipeline"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/redact"
)

// ObjectStore is the subset of *minio.Client the archive uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// NewClient connects a minio client for cfg.
func NewClient(cfg Config) (*minio.Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("missing one or more required settings: endpoint, access key, secret key")
	}
	client, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

type Archive struct {
	store  ObjectStore
	bucket string
	region string
}

func New(store ObjectStore, bucket, region string) *Archive {
	return &Archive{store: store, bucket: strings.TrimSpace(bucket), region: region}
}

// EnsureBucket creates the bucket if it does not exist yet.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Document is the archived form of a run.
type Document struct {
	RunID      string          `json:"run_id"`
	State      string          `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Error      string          `json:"error,omitempty"`
	Leads      int             `json:"leads"`
	Scored     int             `json:"scored"`
	Filtered   int             `json:"filtered"`
	TotalCost  float64         `json:"total_cost_usd"`
	Report     pipeline.Report `json:"report"`
}

// ObjectKey is where the report of runID is stored.
func ObjectKey(runID string) string {
	return path.Join("runs", runID, "report.json")
}

// Put uploads the report of run and returns its object key.
func (a *Archive) Put(ctx context.Context, run *pipeline.Run, rep pipeline.Report) (string, error) {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return "", fmt.Errorf("archive: run id is required")
	}
	doc := Document{
		RunID:      run.ID,
		State:      run.State.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Leads:      len(run.Leads),
		Scored:     len(run.Scored),
		Filtered:   len(run.Filtered),
		TotalCost:  rep.TotalCost(),
		Report:     rep,
	}
	if run.Err != nil {
		doc.Error = redact.Error(run.Err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	key := ObjectKey(run.ID)
	_, err = a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("store %s in bucket %s: %w", key, a.bucket, err)
	}
	return key, nil
}
