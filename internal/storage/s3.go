package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cmgoffena13/etl-file-loader/internal/config"
)

// s3Store serves files from S3 prefixes. All three configured paths
// must be s3:// URIs in the same bucket layout the local store uses as
// directories.
type s3Store struct {
	client          *s3.Client
	bucket          string
	directoryPrefix string
	archiveURI      s3URI
	duplicatesURI   s3URI
}

type s3URI struct {
	bucket string
	prefix string
}

func newS3Store(ctx context.Context, cfg config.PathConfig, region string) (*s3Store, error) {
	dir, err := parseS3URI(cfg.DirectoryPath)
	if err != nil {
		return nil, err
	}
	archive, err := parseS3URI(cfg.ArchivePath)
	if err != nil {
		return nil, err
	}
	duplicates, err := parseS3URI(cfg.DuplicateFilesPath)
	if err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return &s3Store{
		client:          s3.NewFromConfig(awsCfg),
		bucket:          dir.bucket,
		directoryPrefix: dir.prefix,
		archiveURI:      archive,
		duplicatesURI:   duplicates,
	}, nil
}

func parseS3URI(raw string) (s3URI, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return s3URI{}, fmt.Errorf("storage: %q is not an s3://bucket/prefix URI", raw)
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return s3URI{bucket: u.Host, prefix: prefix}, nil
}

func (s *s3Store) List(ctx context.Context) ([]string, error) {
	var names []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.directoryPrefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, s.directoryPrefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.directoryPrefix)
			// Skip the prefix marker, nested keys, and dotfiles.
			if name == "" || strings.Contains(name, "/") || strings.HasPrefix(name, ".") {
				continue
			}
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *s3Store) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.directoryPrefix + filename),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s%s: %w", s.bucket, s.directoryPrefix, filename, err)
	}
	return out.Body, nil
}

func (s *s3Store) CopyToArchive(ctx context.Context, filename string) error {
	return s.copy(ctx, filename, s.archiveURI, filename)
}

func (s *s3Store) MoveToDuplicates(ctx context.Context, filename string) error {
	target := filename
	if s.exists(ctx, s.duplicatesURI, filename) {
		target = timestamped(filename, time.Now().UTC())
	}
	if err := s.copy(ctx, filename, s.duplicatesURI, target); err != nil {
		return err
	}
	return s.Delete(ctx, filename)
}

func (s *s3Store) Delete(ctx context.Context, filename string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.directoryPrefix + filename),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s%s: %w", s.bucket, s.directoryPrefix, filename, err)
	}
	return nil
}

func (s *s3Store) FilePath(filename string) string {
	return "s3://" + path.Join(s.bucket, s.directoryPrefix, filename)
}

func (s *s3Store) copy(ctx context.Context, filename string, dst s3URI, target string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dst.bucket),
		Key:        aws.String(dst.prefix + target),
		CopySource: aws.String(url.PathEscape(s.bucket + "/" + s.directoryPrefix + filename)),
	})
	if err != nil {
		return fmt.Errorf("copy %s to s3://%s/%s: %w", filename, dst.bucket, dst.prefix+target, err)
	}
	return nil
}

func (s *s3Store) exists(ctx context.Context, loc s3URI, filename string) bool {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.prefix + filename),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false
		}
		return false
	}
	return true
}
