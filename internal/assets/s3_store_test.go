package assets

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string]string
	types     map[string]string
	deleted   []string
	putErr    error
	deleteErr error
	headErr   error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]string), types: make(map[string]string)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = string(data)
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestS3StorePutUsesPrefixAndPublicURL(t *testing.T) {
	client := newFakeS3()
	store := newS3StoreWithClient(client, S3Config{Bucket: "media", Region: "eu-west-1", Prefix: "/streamhub/", PublicBaseURL: "https://cdn.example.com/"})

	object, err := store.Put(context.Background(), "videos/abc/seg0.ts", "", strings.NewReader("ts"), 2)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if object.Key != "streamhub/videos/abc/seg0.ts" {
		t.Fatalf("unexpected key %q", object.Key)
	}
	if object.URL != "https://cdn.example.com/streamhub/videos/abc/seg0.ts" {
		t.Fatalf("unexpected url %q", object.URL)
	}
	if client.types["streamhub/videos/abc/seg0.ts"] != "video/mp2t" {
		t.Fatalf("expected content type derived from extension, got %q", client.types["streamhub/videos/abc/seg0.ts"])
	}

	if err := store.Delete(context.Background(), object.Key); err != nil {
		t.Fatalf("Delete by full key: %v", err)
	}
	if err := store.Delete(context.Background(), "videos/abc/seg0.ts"); err != nil {
		t.Fatalf("Delete by relative key: %v", err)
	}
	if len(client.deleted) != 2 || client.deleted[0] != client.deleted[1] {
		t.Fatalf("expected both deletes to target the same key, got %v", client.deleted)
	}
}

func TestPublicBaseURL(t *testing.T) {
	cases := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"aws", S3Config{Bucket: "b", Region: "us-west-2"}, "https://b.s3.us-west-2.amazonaws.com"},
		{"aws default region", S3Config{Bucket: "b"}, "https://b.s3.us-east-1.amazonaws.com"},
		{"path style", S3Config{Bucket: "b", Endpoint: "http://minio:9000/", UsePathStyle: true}, "http://minio:9000/b"},
		{"virtual host", S3Config{Bucket: "b", Endpoint: "https://objects.example.com"}, "https://b.objects.example.com"},
		{"explicit", S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := publicBaseURL(tc.cfg); got != tc.want {
				t.Fatalf("publicBaseURL = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestS3StoreDeleteIgnoresMissingKey(t *testing.T) {
	client := newFakeS3()
	client.deleteErr = &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	store := newS3StoreWithClient(client, S3Config{Bucket: "media"})
	if err := store.Delete(context.Background(), "videos/x/seg.ts"); err != nil {
		t.Fatalf("expected missing key to be ignored, got %v", err)
	}
}

func TestS3StoreWrapsErrors(t *testing.T) {
	client := newFakeS3()
	boom := errors.New("boom")
	client.putErr = boom
	client.headErr = boom
	store := newS3StoreWithClient(client, S3Config{Bucket: "media"})
	if _, err := store.Put(context.Background(), "a.ts", "", strings.NewReader("x"), 1); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped put error, got %v", err)
	}
	if err := store.Ping(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped head error, got %v", err)
	}
	if _, err := store.Put(context.Background(), "../a.ts", "", strings.NewReader("x"), 1); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
