// Package s3store implements the remote repository service on an
// S3-compatible object store. Each folder maps to one bucket; each entry
// to one object at the bucket root. The object ETag is the version tag and
// conditional writes (If-None-Match / If-Match) give the same optimistic
// concurrency guard as GitHub's blob SHA.
package s3store

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // S3 ETags for single-part uploads are MD5
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/alexjbarnes/pushbox/internal/metrics"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const (
	// DefaultTimeout bounds each S3 call.
	DefaultTimeout = 30 * time.Second

	// maxObjectBytes caps downloads.
	maxObjectBytes = 100 * 1024 * 1024

	defaultRegion = "us-east-1"
)

var bucketInvalid = regexp.MustCompile(`[^a-z0-9.-]+`)

// Options configures a Store.
type Options struct {
	Region          string
	Endpoint        string // S3-compatible endpoint (MinIO, R2); empty for AWS
	AccessKeyID     string
	SecretAccessKey string
	BucketPrefix    string
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// Store is a remote.Service backed by S3.
type Store struct {
	client  *s3.Client
	prefix  string
	region  string
	timeout time.Duration
}

var (
	_ remote.Service       = (*Store)(nil)
	_ remote.Lister        = (*Store)(nil)
	_ remote.Fetcher       = (*Store)(nil)
	_ remote.ContentTagger = (*Store)(nil)
)

// New builds a Store. Static credentials are used when both keys are
// set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, opts Options) (*Store, error) {
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
		config.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(opts.HTTPClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Store{
		client:  client,
		prefix:  opts.BucketPrefix,
		region:  region,
		timeout: timeout,
	}, nil
}

// BucketName maps a folder name onto a valid bucket name: prefix plus
// the lowercased name with runs of invalid characters replaced by '-'.
func (s *Store) BucketName(folder string) (string, error) {
	name := strings.ToLower(s.prefix + folder)
	name = bucketInvalid.ReplaceAllString(name, "-")
	name = strings.Trim(name, ".-")

	if len(name) < 3 || len(name) > 63 {
		return "", fmt.Errorf("folder %q does not map to a valid bucket name (got %q)", folder, name)
	}

	return name, nil
}

// call runs fn with the per-call timeout and records it.
func (s *Store) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordRemoteCall("s3", op, time.Since(start), err == nil || statusCode(err) == http.StatusNotFound)

	return err
}

// statusCode returns the HTTP status behind an SDK error, or 0.
func statusCode(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}

	return 0
}

// mapError converts an SDK error into the remote error taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	code := statusCode(err)
	if code == 0 {
		return remote.WrapTransport(op, err)
	}

	msg := http.StatusText(code)

	var ae smithy.APIError
	if errors.As(err, &ae) {
		msg = ae.ErrorCode()
		if m := ae.ErrorMessage(); m != "" {
			msg += ": " + m
		}
	}

	return &remote.StatusError{Op: op, StatusCode: code, Message: msg}
}

// RepositoryExists reports whether the folder's bucket exists.
func (s *Store) RepositoryExists(ctx context.Context, name string) (bool, error) {
	const op = "check bucket"

	bucket, err := s.BucketName(name)
	if err != nil {
		return false, err
	}

	err = s.call(ctx, op, func(ctx context.Context) error {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		return err
	})
	if err == nil {
		return true, nil
	}

	if statusCode(err) == http.StatusNotFound {
		return false, nil
	}

	return false, mapError(op, err)
}

// CreateRepository creates the folder's bucket. Public visibility adds a
// public-read ACL. A bucket this account already owns counts as created.
func (s *Store) CreateRepository(ctx context.Context, name string, visibility remote.Visibility) error {
	const op = "create bucket"

	bucket, err := s.BucketName(name)
	if err != nil {
		return err
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != defaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	if visibility == remote.Public {
		input.ACL = types.BucketCannedACLPublicRead
	}

	err = s.call(ctx, op, func(ctx context.Context) error {
		_, err := s.client.CreateBucket(ctx, input)
		return err
	})

	var owned *types.BucketAlreadyOwnedByYou
	if err == nil || errors.As(err, &owned) {
		return nil
	}

	return mapError(op, err)
}

// ObjectMetadata heads one object. The ETag (with its quotes) is the
// version tag.
func (s *Store) ObjectMetadata(ctx context.Context, repo, path string) (remote.Metadata, error) {
	const op = "head object"

	bucket, err := s.BucketName(repo)
	if err != nil {
		return remote.Metadata{}, err
	}

	var out *s3.HeadObjectOutput

	err = s.call(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(path),
		})

		return err
	})
	if statusCode(err) == http.StatusNotFound {
		return remote.Metadata{}, nil
	}

	if err != nil {
		return remote.Metadata{}, mapError(op, err)
	}

	return remote.Metadata{
		Exists:     true,
		VersionTag: aws.ToString(out.ETag),
		Size:       aws.ToInt64(out.ContentLength),
	}, nil
}

// PutObject writes one object conditionally: If-None-Match: * to create,
// If-Match: <etag> to update. A stale tag fails with 412. SDK retries are
// disabled for this call.
func (s *Store) PutObject(ctx context.Context, repo, path string, data []byte, versionTag string) (string, error) {
	const op = "put object"

	bucket, err := s.BucketName(repo)
	if err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}

	if versionTag == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(versionTag)
	}

	var out *s3.PutObjectOutput

	err = s.call(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = s.client.PutObject(ctx, input, func(o *s3.Options) {
			o.RetryMaxAttempts = 1
		})

		return err
	})
	if err != nil {
		return "", mapError(op, err)
	}

	return aws.ToString(out.ETag), nil
}

// ListObjects lists every object in the folder's bucket.
func (s *Store) ListObjects(ctx context.Context, repo string) ([]remote.Object, error) {
	const op = "list objects"

	bucket, err := s.BucketName(repo)
	if err != nil {
		return nil, err
	}

	var objs []remote.Object

	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for p.HasMorePages() {
		var page *s3.ListObjectsV2Output

		err := s.call(ctx, op, func(ctx context.Context) error {
			var err error
			page, err = p.NextPage(ctx)

			return err
		})
		if err != nil {
			return nil, mapError(op, err)
		}

		for _, o := range page.Contents {
			objs = append(objs, remote.Object{
				Path:       aws.ToString(o.Key),
				VersionTag: aws.ToString(o.ETag),
				Size:       aws.ToInt64(o.Size),
			})
		}
	}

	return objs, nil
}

// FetchObject downloads one object.
func (s *Store) FetchObject(ctx context.Context, repo, path string) ([]byte, error) {
	const op = "get object"

	bucket, err := s.BucketName(repo)
	if err != nil {
		return nil, err
	}

	var data []byte

	err = s.call(ctx, op, func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(path),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()

		data, err = io.ReadAll(io.LimitReader(out.Body, maxObjectBytes))

		return err
	})
	if err != nil {
		return nil, mapError(op, err)
	}

	return data, nil
}

// ContentTag returns the ETag S3 assigns to a single-part upload of data.
func (s *Store) ContentTag(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // matches the S3 ETag algorithm
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
