// Package s3fs implements fsx.Facade over an S3-compatible object store.
// Grounded on the teacher's S3 block store (pkg/blocks/store/s3): same AWS
// SDK v2 client construction, same path-style/endpoint overrides for
// S3-compatible services (MinIO, Localstack).
//
// Move is NOT atomic here (spec §4.1, §4.5): object stores have no rename,
// so Move is implemented as copy-then-delete. The rollback engine must
// treat a "replace" on this backend as an ADDED+DELETED pair rather than a
// single REPLACED action.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// Config mirrors the teacher's S3 block store Config: bucket, region,
// custom endpoint, key prefix, and path-style addressing for
// S3-compatible services.
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	KeyPrefix      string
	ForcePathStyle bool
}

// Client is the subset of the S3 API the facade needs; satisfied by
// *s3.Client in production and by a hand-rolled fake in tests
// (pkg/fsx/s3fs/s3fstest), keeping the test suite hermetic (SPEC_FULL §D).
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Facade is an S3-backed fsx.Facade.
type Facade struct {
	client Client
	bucket string
	prefix string
}

// New wraps an existing S3 client.
func New(client Client, cfg Config) *Facade {
	return &Facade{client: client, bucket: cfg.Bucket, prefix: cfg.KeyPrefix}
}

// NewFromConfig builds an AWS SDK v2 client from cfg and wraps it,
// mirroring the teacher's NewFromConfig constructor.
func NewFromConfig(ctx context.Context, cfg Config) (*Facade, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return New(client, cfg), nil
}

func (f *Facade) key(p string) string { return f.prefix + strings.TrimPrefix(fsx.NormalizePath(p), "/") }

func (f *Facade) Scheme() string   { return "s3" }
func (f *Facade) AtomicMove() bool { return false }

func (f *Facade) Exists(ctx context.Context, p string) (bool, error) {
	_, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(f.bucket), Key: aws.String(f.key(p))})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, zerrors.IO("exists", p, err)
	}
	return true, nil
}

// IsDir has no literal meaning on a flat object store; a "directory"
// exists if any object shares its prefix.
func (f *Facade) IsDir(ctx context.Context, p string) (bool, error) {
	prefix := f.key(p)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out, err := f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket), Prefix: aws.String(prefix), MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, zerrors.IO("is_dir", p, err)
	}
	return len(out.Contents) > 0, nil
}

func (f *Facade) List(ctx context.Context, p string) ([]string, error) {
	prefix := f.key(p)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var names []string
	var token *string
	for {
		out, err := f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(f.bucket), Prefix: aws.String(prefix), ContinuationToken: token,
		})
		if err != nil {
			return nil, zerrors.IO("list", p, err)
		}
		for _, obj := range out.Contents {
			names = append(names, strings.TrimPrefix(*obj.Key, prefix))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return names, nil
}

func (f *Facade) Read(ctx context.Context, p string) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(f.bucket), Key: aws.String(f.key(p))})
	if err != nil {
		if isNotFound(err) {
			return nil, zerrors.IO("read", p, fs.ErrNotExist)
		}
		return nil, zerrors.IO("read", p, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, zerrors.IO("read", p, err)
	}
	return data, nil
}

func (f *Facade) Write(ctx context.Context, p string, data []byte, overwrite bool) error {
	if !overwrite {
		if exists, _ := f.Exists(ctx, p); exists {
			return zerrors.IO("write", p, fs.ErrExist)
		}
	}
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket), Key: aws.String(f.key(p)), Body: bytes.NewReader(data),
	})
	if err != nil {
		return zerrors.IO("write", p, err)
	}
	return nil
}

func (f *Facade) Delete(ctx context.Context, p string, recursive bool) error {
	if !recursive {
		_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(f.bucket), Key: aws.String(f.key(p))})
		if err != nil && !isNotFound(err) {
			return zerrors.IO("delete", p, err)
		}
		return nil
	}
	keys, err := f.List(ctx, p)
	if err != nil {
		return err
	}
	for _, k := range keys {
		full := strings.TrimSuffix(p, "/") + "/" + k
		if err := f.Delete(ctx, full, false); err != nil {
			return err
		}
	}
	// p may itself be an object (a file path), not only a key prefix.
	return f.Delete(ctx, p, false)
}

// Move copies src to dst then deletes src. Not atomic: a crash between
// the copy and the delete leaves both objects present, which is exactly
// why the append engine journals a replace on this backend as a
// DELETED+ADDED pair rather than a single REPLACED action (spec §4.5).
func (f *Facade) Move(ctx context.Context, src, dst string) error {
	data, err := f.Read(ctx, src)
	if err != nil {
		return err
	}
	if err := f.Write(ctx, dst, data, true); err != nil {
		return err
	}
	return f.Delete(ctx, src, false)
}

// MkdirAll is a no-op: object stores have no directory entities.
func (f *Facade) MkdirAll(context.Context, string) error { return nil }

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "NoSuchKey") || strings.Contains(s, "NotFound") || strings.Contains(s, "404")
}

var _ fsx.Facade = (*Facade)(nil)
