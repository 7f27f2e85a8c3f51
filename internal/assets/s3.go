package assets

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/tours-web/internal/log"
	"github.com/keithlinneman/tours-web/internal/xerrors"
)

// S3API is the subset of *s3.Client used by the syncer.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// DefaultMaxObjectBytes caps a single downloaded asset.
const DefaultMaxObjectBytes int64 = 32 << 20

type S3Options struct {
	Logger log.Logger

	// objects under s3://{Bucket}/{Prefix}/ are mirrored into Dir
	Bucket string
	Prefix string
	Dir    string

	// Client overrides the client built from AWSConfig or the default chain.
	Client    S3API
	AWSConfig *aws.Config

	// MaxObjectBytes caps each object. Larger listed objects are skipped and
	// a body that outgrows the cap fails the sync. Default: DefaultMaxObjectBytes.
	MaxObjectBytes int64
}

type S3Syncer struct {
	opts   S3Options
	client S3API
	logger log.Logger
}

// SyncStats summarizes one Sync run.
type SyncStats struct {
	Downloaded int
	Unchanged  int
	Skipped    int
	Bytes      int64
}

func NewS3Syncer(ctx context.Context, opts S3Options) (*S3Syncer, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}
	if opts.Dir == "" {
		return nil, xerrors.New("Dir is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	if opts.MaxObjectBytes <= 0 {
		opts.MaxObjectBytes = DefaultMaxObjectBytes
	}

	client := opts.Client
	if client == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		client = s3.NewFromConfig(awsCfg)
	}
	return &S3Syncer{opts: opts, client: client, logger: opts.Logger}, nil
}

// Sync downloads every object under the prefix whose local copy is missing,
// a different size, or older than the object. Keys that would escape Dir or
// name hidden files are skipped.
func (s *S3Syncer) Sync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return stats, xerrors.Wrapf(err, "create public dir %s", s.opts.Dir)
	}

	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.opts.Bucket)}
	if s.opts.Prefix != "" {
		in.Prefix = aws.String(s.opts.Prefix + "/")
	}
	pages := s3.NewListObjectsV2Paginator(s.client, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return stats, xerrors.Wrapf(err, "list s3://%s/%s", s.opts.Bucket, s.opts.Prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel, ok := s.relPath(key)
			if !ok {
				stats.Skipped++
				continue
			}
			size := aws.ToInt64(obj.Size)
			if size > s.opts.MaxObjectBytes {
				s.logger.Warn(ctx, "public asset too large, skipping", "key", key, "bytes", size, "max_bytes", s.opts.MaxObjectBytes)
				stats.Skipped++
				continue
			}
			dest := filepath.Join(s.opts.Dir, filepath.FromSlash(rel))
			if upToDate(dest, size, aws.ToTime(obj.LastModified)) {
				stats.Unchanged++
				continue
			}
			n, err := s.download(ctx, key, dest)
			if err != nil {
				return stats, err
			}
			stats.Downloaded++
			stats.Bytes += n
		}
	}

	s.logger.Info(ctx, "public assets synced from s3",
		"bucket", s.opts.Bucket,
		"prefix", s.opts.Prefix,
		"downloaded", stats.Downloaded,
		"unchanged", stats.Unchanged,
		"skipped", stats.Skipped,
		"bytes", stats.Bytes,
	)
	return stats, nil
}

// relPath maps an object key to a slash path under Dir.
func (s *S3Syncer) relPath(key string) (string, bool) {
	rel := key
	if s.opts.Prefix != "" {
		var found bool
		rel, found = strings.CutPrefix(key, s.opts.Prefix+"/")
		if !found {
			return "", false
		}
	}
	if rel == "" || strings.HasSuffix(rel, "/") || strings.ContainsAny(rel, "\x00\\") || !fs.ValidPath(rel) {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	return rel, true
}

func upToDate(dest string, size int64, modified time.Time) bool {
	fi, err := os.Stat(dest)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	return fi.Size() == size && !fi.ModTime().Before(modified)
}

// download writes to a temp file next to dest and renames it into place.
func (s *S3Syncer) download(ctx context.Context, key, dest string) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, xerrors.Wrapf(err, "get S3 object s3://%s/%s", s.opts.Bucket, key)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, xerrors.Wrapf(err, "create dir for %s", dest)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".sync-*")
	if err != nil {
		return 0, xerrors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, io.LimitReader(out.Body, s.opts.MaxObjectBytes+1))
	if err == nil && n > s.opts.MaxObjectBytes {
		err = xerrors.Newf("object exceeds %d bytes", s.opts.MaxObjectBytes)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, xerrors.Wrapf(err, "download %s", key)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return 0, xerrors.Wrapf(err, "chmod %s", tmpPath)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return 0, xerrors.Wrapf(err, "install %s", path.Base(dest))
	}

	s.logger.Debug(ctx, "public asset downloaded", "key", key, "bytes", n)
	return n, nil
}
