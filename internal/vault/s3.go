package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"sealbox/internal/config"
	"sealbox/internal/sb"
)

// versionKey is the user-metadata key holding a metadata item's version.
const versionKey = "sealbox-version"

// s3API is the subset of *s3.Client used by S3Vault.
type s3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Vault stores blobs in an S3 bucket (or an S3-compatible service):
//
//	<prefix>/content/<key>
//	<prefix>/metadata/<storeID>/<name>
//
// Metadata versions travel as object user metadata.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   s3API
	uploader *manager.Uploader
}

var _ sb.Vault = (*S3Vault)(nil)

// NewS3Vault loads AWS configuration and builds a client for the bucket.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func newS3Vault(name, bucket, prefix string, client s3API) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (v *S3Vault) contentKey(key string) string {
	return path.Join(v.prefix, "content", key)
}

func (v *S3Vault) metadataKey(storeID, name string) string {
	return path.Join(v.prefix, "metadata", storeID, name)
}

func (v *S3Vault) upload(key string, r io.Reader, size int64, meta map[string]string) error {
	_, err := v.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket:   aws.String(v.bucket),
		Key:      aws.String(key),
		Body:     &sizedReader{r: r, want: size},
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

func (v *S3Vault) download(key string, w io.Writer) error {
	out, err := v.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("not found: %s", key)
		}
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}

// head returns nil, nil when the object does not exist.
func (v *S3Vault) head(key string) (*s3.HeadObjectOutput, error) {
	out, err := v.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checking %s: %w", key, err)
	}
	return out, nil
}

func (v *S3Vault) PutContent(key string, r io.Reader, size int64) error {
	return v.upload(v.contentKey(key), r, size, nil)
}

func (v *S3Vault) GetContent(key string, w io.Writer) error {
	return v.download(v.contentKey(key), w)
}

func (v *S3Vault) HasContent(key string) (bool, error) {
	out, err := v.head(v.contentKey(key))
	return out != nil, err
}

func (v *S3Vault) PutMetadata(storeID, name string, r io.Reader, size int64, version int64) error {
	meta := map[string]string{versionKey: strconv.FormatInt(version, 10)}
	return v.upload(v.metadataKey(storeID, name), r, size, meta)
}

func (v *S3Vault) GetMetadata(storeID, name string, w io.Writer) error {
	return v.download(v.metadataKey(storeID, name), w)
}

// GetMetadataVersion returns 0 if the item does not exist.
func (v *S3Vault) GetMetadataVersion(storeID, name string) (int64, error) {
	out, err := v.head(v.metadataKey(storeID, name))
	if err != nil || out == nil {
		return 0, err
	}
	raw, ok := out.Metadata[versionKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup() error {
	_, err := v.client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// sizedReader fails the read that would end the stream if the byte count
// does not match, so a short or long body aborts the upload.
type sizedReader struct {
	r    io.Reader
	want int64
	n    int64
}

func (s *sizedReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if s.n > s.want {
		return n, fmt.Errorf("size mismatch: expected %d bytes, got more", s.want)
	}
	if err == io.EOF && s.n != s.want {
		return n, fmt.Errorf("size mismatch: expected %d bytes, got %d", s.want, s.n)
	}
	return n, err
}
