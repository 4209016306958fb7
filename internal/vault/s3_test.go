package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	body []byte
	meta map[string]string
}

// fakeS3 is an in-memory bucket good enough for single-part uploads.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	puts    []string
}

var _ s3API = (*fakeS3)(nil)

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.objects[key] = fakeObject{body: body, meta: maps.Clone(in.Metadata)}
	f.puts = append(f.puts, key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: obj.meta, ContentLength: aws.Int64(int64(len(obj.body)))}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != "bucket" {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

var errMultipart = errors.New("multipart upload not supported by fake")

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errMultipart
}

func TestS3Vault_KeyLayout(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	v := newS3Vault("s3", "bucket", "team/sealbox", fake)

	if err := v.PutContent("abc", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	if err := v.PutMetadata("store-1", "db", strings.NewReader("y"), 1, 3); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}

	want := []string{"team/sealbox/content/abc", "team/sealbox/metadata/store-1/db"}
	if len(fake.puts) != len(want) {
		t.Fatalf("puts = %v, want %v", fake.puts, want)
	}
	for i := range want {
		if fake.puts[i] != want[i] {
			t.Errorf("put[%d] = %q, want %q", i, fake.puts[i], want[i])
		}
	}
	if got := fake.objects[want[1]].meta[versionKey]; got != "3" {
		t.Errorf("version metadata = %q, want %q", got, "3")
	}
}

func TestS3Vault_BadVersionMetadata(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	v := newS3Vault("s3", "bucket", "", fake)
	fake.objects["metadata/store-1/db"] = fakeObject{body: []byte("x"), meta: map[string]string{versionKey: "nope"}}

	if _, err := v.GetMetadataVersion("store-1", "db"); err == nil {
		t.Error("GetMetadataVersion() with unparsable version succeeded, want error")
	}
}

func TestS3Vault_ValidateSetupMissingBucket(t *testing.T) {
	t.Parallel()
	v := newS3Vault("s3", "missing", "", newFakeS3())
	if err := v.ValidateSetup(); err == nil {
		t.Error("ValidateSetup() for missing bucket succeeded, want error")
	}
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "head not found", err: &types.NotFound{}, want: true},
		{name: "no such key", err: &types.NoSuchKey{}, want: true},
		{name: "no such bucket", err: &types.NoSuchBucket{}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isNotFound(tt.err); got != tt.want {
				t.Errorf("isNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}
