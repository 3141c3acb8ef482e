package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Archive stores mirrored payloads in Amazon S3 (or compatible APIs),
// one object per payload under a date-partitioned key.
type S3Archive struct {
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	bucket    string
	keyPrefix string
}

// Options selects the bucket and how the SDK resolves credentials.
type Options struct {
	Bucket    string
	KeyPrefix string
	Region    string
	Endpoint  string
	Profile   string
}

// NewS3Archive builds the archive from the ambient AWS credential chain.
func NewS3Archive(ctx context.Context, opts Options) (*S3Archive, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archive{
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		bucket:    opts.Bucket,
		keyPrefix: strings.Trim(opts.KeyPrefix, "/"),
	}, nil
}

// Archive uploads one payload file and returns its object key.
func (a *S3Archive) Archive(ctx context.Context, localPath, filename string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	key := a.objectKey(filename)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
		ACL:    types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	return key, nil
}

func (a *S3Archive) objectKey(filename string) string {
	day := time.Now().UTC().Format("2006/01/02")
	if a.keyPrefix != "" {
		return path.Join(a.keyPrefix, day, filename)
	}
	return path.Join(day, filename)
}

// ListObjects pages through the archive under the given prefix, relative
// to the configured key prefix.
func (a *S3Archive) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	full := a.keyPrefix
	if p := strings.Trim(prefix, "/"); p != "" {
		full = path.Join(full, p)
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
	}
	if full != "" {
		input.Prefix = aws.String(full)
	}

	var objects []ObjectInfo
	for {
		output, err := a.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}

		for _, obj := range output.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: obj.LastModified,
			})
		}

		if !aws.ToBool(output.IsTruncated) || output.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}
	return objects, nil
}

// ObjectURL returns a presigned download link for an archived payload.
func (a *S3Archive) ObjectURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

var _ Archive = (*S3Archive)(nil)
