package artifact

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures MinioStore.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is the object name prefix, e.g. "models/".
	Prefix string
}

// MinioStore keeps one object per artifact in an S3 compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore connects and creates the bucket when it does not exist.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "minio client %s", opts.Endpoint)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "minio bucket %s", opts.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "create bucket %s", opts.Bucket)
		}
	}
	return &MinioStore{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (s *MinioStore) object(key Key) string {
	return path.Join(s.prefix, key.fileName()+fileExt)
}

func (s *MinioStore) Put(ctx context.Context, key Key, a *Artifact) error {
	b, err := Encode(a)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.object(key), bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		UserMetadata: map[string]string{
			"generator": key.GeneratorID,
			"strategy":  key.Strategy,
			"run-id":    a.RunID,
		},
	})
	return errors.Wrapf(err, "minio put %s", key)
}

func (s *MinioStore) Get(ctx context.Context, key Key) (*Artifact, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.object(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "minio get %s", key)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.NewArtifactMissingError(key.String())
		}
		return nil, errors.Wrapf(err, "minio read %s", key)
	}
	return Decode(b)
}
