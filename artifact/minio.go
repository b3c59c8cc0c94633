package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

// MinIOStore keeps artifacts in a MinIO (or other S3-compatible) bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// MinIOOptions configures NewMinIOStore.
type MinIOOptions struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
	AccessKey string
	SecretKey string
}

// NewMinIOStore connects to a MinIO endpoint.
func NewMinIOStore(opts MinIOOptions) (*MinIOStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to create minio client")
	}
	return &MinIOStore{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

func (s *MinIOStore) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put implements Store.
func (s *MinIOStore) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	if err := ValidateKey(key); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "invalid artifact key")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", key, err)
	}

	opts := minio.PutObjectOptions{ContentType: contentType(key, data)}
	opts.SetMatchETagExcept("*")

	_, err = s.client.PutObject(ctx, s.bucket, s.objectKey(key), bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == http.StatusPreconditionFailed || resp.Code == "PreconditionFailed" {
			return fmt.Errorf("%w: %s", ErrExists, key)
		}
		return fmt.Errorf("minio put %s/%s: %w", s.bucket, s.objectKey(key), err)
	}
	return nil
}

// Get implements Store.
func (s *MinIOStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate("get", key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s.translate("get", key, err)
	}
	return obj, nil
}

// List implements Store.
func (s *MinIOStore) List(ctx context.Context, prefix string) ([]Object, error) {
	listPrefix := s.objectKey(prefix)
	if s.prefix != "" && prefix == "" {
		listPrefix = s.prefix + "/"
	}

	var objects []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, s.translate("list", prefix, info.Err)
		}
		key := info.Key
		if s.prefix != "" {
			key = strings.TrimPrefix(key, s.prefix+"/")
		}
		objects = append(objects, Object{
			Key:          key,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Delete implements Store.
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return s.translate("delete", key, err)
	}
	return nil
}

func (s *MinIOStore) translate(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("minio %s %s/%s: %w", op, s.bucket, s.objectKey(key), err)
}
