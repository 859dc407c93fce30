package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"pixgrid/internal/core/types"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Source lists images straight out of a bucket. Each object under the
// configured prefix is one gallery record; object keys double as ids and
// the record URL uses the s3:// scheme so Download can find its way back.
type S3Source struct {
	id       string
	cfg      types.SourceConfig
	session  *session.Session
	s3Client *s3.S3
}

func NewS3Source(cfg types.SourceConfig) (Source, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 source %s requires a bucket", cfg.ID)
	}

	sessionConfig := aws.Config{}
	if cfg.Region != "" {
		sessionConfig.Region = aws.String(cfg.Region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Profile: cfg.Profile,
		Config:  sessionConfig,
	})
	if err != nil {
		return nil, err
	}

	return &S3Source{
		id:       cfg.ID,
		cfg:      cfg,
		session:  sess,
		s3Client: s3.New(sess),
	}, nil
}

func (s *S3Source) ID() string {
	return s.id
}

func (s *S3Source) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return s.cfg.Type
}

// FetchPage walks the bucket listing to the requested page. S3 paginates
// by continuation token rather than offset, so earlier pages are listed
// and discarded to reach page N; with gallery-sized pages that stays
// cheap.
func (s *S3Source) FetchPage(ctx context.Context, page, limit int) ([]types.ImageRecord, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.cfg.Bucket),
		MaxKeys: aws.Int64(int64(limit)),
	}
	if s.cfg.Prefix != "" {
		input.Prefix = aws.String(s.cfg.Prefix)
	}

	var out *s3.ListObjectsV2Output
	var token *string
	for p := 1; ; p++ {
		input.ContinuationToken = token
		result, err := s.s3Client.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return nil, types.NetworkFailure("list bucket", err)
		}
		if p == page {
			out = result
			break
		}
		if result.NextContinuationToken == nil {
			// Listing exhausted before the requested page
			return nil, nil
		}
		token = result.NextContinuationToken
	}

	records := make([]types.ImageRecord, 0, len(out.Contents))
	for _, obj := range out.Contents {
		key := aws.StringValue(obj.Key)
		if strings.HasSuffix(key, "/") {
			continue
		}
		records = append(records, types.ImageRecord{
			ID:    key,
			URL:   fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key),
			Title: path.Base(key),
		})
	}

	return records, nil
}

func (s *S3Source) Download(ctx context.Context, url string) ([]byte, error) {
	bucket, key, err := parseS3URL(url)
	if err != nil {
		return nil, types.ServerFailure("download object", err)
	}

	result, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, types.NetworkFailure("get object", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, types.NetworkFailure("read object body", err)
	}

	return data, nil
}

func parseS3URL(url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(url, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", url)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 url: %s", url)
	}
	return bucket, key, nil
}

func init() {
	RegisterFactory("s3", NewS3Source)
}
