package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"

	"github.com/OFFIS-RIT/ontograph/pkg/loader"
)

// S3SourceLoader is a SourceFileLoader implementation that loads source
// releases from an Amazon S3 bucket. Locations are either s3://bucket/key
// references or plain keys in the default bucket.
type S3SourceLoader struct {
	bucket string
	client *s3.Client

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewS3SourceLoaderWithClient creates a new S3SourceLoader using an existing
// s3.Client.
func NewS3SourceLoaderWithClient(bucket string, client *s3.Client) *S3SourceLoader {
	return &S3SourceLoader{
		bucket: bucket,
		client: client,
		cache:  make(map[string][]byte),
	}
}

// NewS3SourceLoaderParams defines the configuration parameters for creating a
// new S3SourceLoader.
//
// Bucket is the default bucket for plain keys. Endpoint allows overriding the
// S3 endpoint (useful for S3-compatible storage like MinIO). AccessKey and
// SecretKey provide static credentials.
type NewS3SourceLoaderParams struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3SourceLoader creates a new S3SourceLoader with static credentials.
//
// Example:
//
//	l, err := s3.NewS3SourceLoader(ctx, s3.NewS3SourceLoaderParams{
//		Bucket:    "releases",
//		Endpoint:  "https://s3.amazonaws.com",
//		Region:    "us-east-1",
//		AccessKey: os.Getenv("AWS_ACCESS_KEY"),
//		SecretKey: os.Getenv("AWS_SECRET_KEY"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	data, err := l.GetFileBytes(ctx, loader.SourceFile{Location: "s3://releases/hgnc/family.zip"})
func NewS3SourceLoader(ctx context.Context, params NewS3SourceLoaderParams) (*S3SourceLoader, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(params.Region),
		config.WithBaseEndpoint(params.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3SourceLoader{
		bucket: params.Bucket,
		client: client,
		cache:  make(map[string][]byte),
	}, nil
}

func (l *S3SourceLoader) resolve(location string) (string, string, error) {
	if loader.Scheme(location) == "s3" {
		return loader.SplitS3Location(location)
	}
	if l.bucket == "" {
		return "", "", fmt.Errorf("no bucket for key %s", location)
	}
	return l.bucket, location, nil
}

// GetFileBytes retrieves the object behind file.Location. It implements the
// SourceFileLoader interface.
func (l *S3SourceLoader) GetFileBytes(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	cacheKey := loader.CacheKey(file)

	l.cacheMu.RLock()
	if cached, ok := l.cache[cacheKey]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(cacheKey, func() (any, error) {
		l.cacheMu.RLock()
		if cached, ok := l.cache[cacheKey]; ok {
			l.cacheMu.RUnlock()
			return cached, nil
		}
		l.cacheMu.RUnlock()

		bucket, key, err := l.resolve(file.Location)
		if err != nil {
			return nil, err
		}

		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, err
		}

		byts := buf.Bytes()

		l.cacheMu.Lock()
		l.cache[cacheKey] = byts
		l.cacheMu.Unlock()

		return byts, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}
