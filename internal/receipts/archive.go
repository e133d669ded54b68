// Package receipts keeps an immutable copy of every auction outcome in object
// storage.
package receipts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/terminal-bench/nftauction/pkg/messaging"
)

// Bucket stores one object per key.
type Bucket interface {
	Put(ctx context.Context, key string, body []byte, checksum string) error
}

// Archive is a messaging.Publisher that writes settled and cancelled events
// as JSON receipts. Other subjects are ignored.
type Archive struct {
	bucket Bucket
	logger *slog.Logger
}

func NewArchive(bucket Bucket, logger *slog.Logger) *Archive {
	return &Archive{bucket: bucket, logger: logger}
}

var _ messaging.Publisher = (*Archive)(nil)

func (a *Archive) Publish(ctx context.Context, subject string, data interface{}) error {
	if subject != messaging.SubjectAuctionSettled && subject != messaging.SubjectAuctionCancelled {
		return nil
	}
	event, ok := data.(*messaging.Event)
	if !ok {
		return fmt.Errorf("receipt for %s: unexpected payload %T", subject, data)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	sum := sha256.Sum256(body)
	checksum := hex.EncodeToString(sum[:])

	key := Key(event)
	if err := a.bucket.Put(ctx, key, body, checksum); err != nil {
		return fmt.Errorf("failed to store receipt %s: %w", key, err)
	}
	a.logger.Info("receipt archived", "auction_id", event.AuctionID, "key", key)
	return nil
}

// Key is the object name for an event's receipt: the outcome date, then the
// auction id, then the event id.
func Key(event *messaging.Event) string {
	return fmt.Sprintf("receipts/%s/%d-%s.json",
		event.Timestamp.UTC().Format("2006/01/02"), event.AuctionID, event.ID)
}

// MinioConfig locates an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// MinioBucket writes receipts with minio-go.
type MinioBucket struct {
	client *minio.Client
	bucket string
}

// NewMinioBucket connects and creates the bucket if it does not exist.
func NewMinioBucket(ctx context.Context, cfg MinioConfig) (*MinioBucket, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioBucket{client: client, bucket: cfg.Bucket}, nil
}

func (b *MinioBucket) Put(ctx context.Context, key string, body []byte, checksum string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"sha256": checksum},
	})
	return err
}

// MemoryBucket keeps receipts in process.
type MemoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{objects: make(map[string][]byte)}
}

func (b *MemoryBucket) Put(_ context.Context, key string, body []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), body...)
	return nil
}

// Get returns a stored receipt.
func (b *MemoryBucket) Get(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[key]
	return body, ok
}

// Keys lists stored receipt names in no particular order.
func (b *MemoryBucket) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	return keys
}
