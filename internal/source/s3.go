package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"healthai/internal/domain"
	"healthai/internal/extract"
	"healthai/internal/logger"
	"healthai/internal/provider"
)

// S3API is the subset of the S3 client used to read a corpus.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads every supported object under a bucket prefix.
type S3Loader struct {
	client   S3API
	maxBytes int64
}

// DefaultMaxObjectBytes bounds a single object read.
const DefaultMaxObjectBytes = 32 << 20

func NewS3Loader(client S3API) *S3Loader {
	return &S3Loader{client: client, maxBytes: DefaultMaxObjectBytes}
}

// NewS3LoaderFromConfig builds a loader on an aws.Config.
func NewS3LoaderFromConfig(cfg aws.Config) *S3Loader {
	return NewS3Loader(s3.NewFromConfig(cfg))
}

// IsS3URI reports whether uri uses the s3:// scheme.
func IsS3URI(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// ParseS3URI splits s3://bucket/prefix into bucket and prefix.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	if !IsS3URI(uri) {
		return "", "", fmt.Errorf("%w: %q is not an s3:// uri", domain.ErrInvalidInput, uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", domain.ErrInvalidInput, uri)
	}
	return bucket, prefix, nil
}

// Load lists the prefix of uri and downloads each supported object.
func (l *S3Loader) Load(ctx context.Context, uri string) ([]domain.RawDocument, error) {
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	var docs []domain.RawDocument
	paginator := s3.NewListObjectsV2Paginator(l.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, provider.MapAWSError("s3 list", err, domain.ErrBackendUnavailable)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") || !extract.Supported(key) {
				continue
			}
			doc, err := l.get(ctx, bucket, key)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	logger.Info("loaded %d objects from %s", len(docs), uri)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no supported documents under %s", domain.ErrInvalidInput, uri)
	}
	return docs, nil
}

func (l *S3Loader) get(ctx context.Context, bucket, key string) (domain.RawDocument, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.RawDocument{}, provider.MapAWSError("s3 get "+key, err, domain.ErrBackendUnavailable)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(io.LimitReader(out.Body, l.maxBytes+1))
	if err != nil {
		return domain.RawDocument{}, fmt.Errorf("%w: read s3://%s/%s: %v", domain.ErrBackendUnavailable, bucket, key, err)
	}
	if int64(len(data)) > l.maxBytes {
		return domain.RawDocument{}, fmt.Errorf("%w: s3://%s/%s exceeds %d bytes", domain.ErrInvalidInput, bucket, key, l.maxBytes)
	}
	uri := "s3://" + bucket + "/" + key
	return domain.RawDocument{
		ID:         DocumentID(uri),
		Source:     uri,
		SourceType: extract.DetectSourceType(key),
		Content:    data,
	}, nil
}
