package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"

	"github.com/img2kvm/img2kvm/pkg/errors"
)

// Scheme prefixes image names that live in S3.
const Scheme = "s3://"

// DownloadDir is the work dir subdirectory S3 images are fetched into.
const DownloadDir = "img2kvm_downloads"

// Location is a parsed s3://bucket/key image name.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return Scheme + l.Bucket + "/" + l.Key
}

// IsRemote reports whether name refers to an S3 object.
func IsRemote(name string) bool {
	return strings.HasPrefix(name, Scheme)
}

// ParseLocation splits an s3://bucket/key name.
func ParseLocation(name string) (Location, error) {
	if !IsRemote(name) {
		return Location{}, fmt.Errorf("not an s3 location: %s", name)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(name, Scheme), "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return Location{}, fmt.Errorf("s3 location must look like s3://bucket/key: %s", name)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
}

// NewClient creates a new S3 client. Anonymous access skips the credential
// chain, which public image buckets need.
func NewClient(ctx context.Context, region string, anonymous bool) (*Client, error) {
	slog.Info("s3_client_init", "region", region, "anonymous", anonymous)

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if anonymous {
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	slog.Info("s3_client_created", "region", region)

	return &Client{s3Client: s3.NewFromConfig(cfg)}, nil
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Download downloads an object from S3 and computes SHA256
func (c *Client) Download(ctx context.Context, loc Location, localPath string) (*DownloadResult, error) {
	slog.Info("s3_download_start", "bucket", loc.Bucket, "s3_key", loc.Key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", loc.Key, "error", err)
		return nil, errors.E(errors.KindIO, "failed to get object from S3", loc.String(), err)
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.E(errors.KindIO, "failed to create local file", localPath, err)
	}
	defer f.Close()

	hash := sha256.New()
	writer := io.MultiWriter(f, hash)

	size, err := io.Copy(writer, result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", loc.Key, "error", err)
		os.Remove(localPath)
		return nil, errors.E(errors.KindIO, "failed to download file", loc.String(), err)
	}

	checksum := hex.EncodeToString(hash.Sum(nil))

	slog.Info("s3_download_complete",
		"s3_key", loc.Key,
		"size", humanize.IBytes(uint64(size)),
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}
