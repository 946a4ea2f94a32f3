package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3 stores objects in S3 buckets addressed as s3://bucket/key.  Credentials
// and region come from the default AWS configuration chain.
type S3 struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
}

var _ Engine = (*S3)(nil)

func NewS3() *S3 {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	client := s3.New(sess)
	return &S3{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}
}

func s3Location(u *URI) (bucket, key string) {
	return u.Host, strings.TrimPrefix(u.Path, "/")
}

func (s *S3) Get(ctx context.Context, u *URI) (Reader, error) {
	bucket, key := s3Location(u)
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Err(err)
	}
	return &s3Reader{
		ctx:    ctx,
		engine: s,
		uri:    u,
		body:   out.Body,
		size:   aws.Int64Value(out.ContentLength),
	}, nil
}

func (s *S3) Put(ctx context.Context, u *URI) (io.WriteCloser, error) {
	bucket, key := s3Location(u)
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			pr.CloseWithError(err)
		}
		done <- err
	}()
	return &s3Writer{pw: pw, done: done}, nil
}

func (s *S3) Exists(ctx context.Context, u *URI) (bool, error) {
	_, err := s.head(ctx, u)
	if err == ErrNotExist {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3) Size(ctx context.Context, u *URI) (int64, error) {
	return s.head(ctx, u)
}

func (s *S3) List(ctx context.Context, u *URI) ([]Info, error) {
	bucket, key := s3Location(u)
	prefix := key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var infos []Info
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			infos = append(infos, Info{
				Name: strings.TrimPrefix(aws.StringValue(obj.Key), prefix),
				Size: aws.Int64Value(obj.Size),
			})
		}
		return true
	})
	return infos, err
}

func (s *S3) head(ctx context.Context, u *URI) (int64, error) {
	bucket, key := s3Location(u)
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, s3Err(err)
	}
	return aws.Int64Value(out.ContentLength), nil
}

func s3Err(err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return ErrNotExist
		}
	}
	return err
}

type s3Reader struct {
	ctx    context.Context
	engine *S3
	uri    *URI
	body   io.ReadCloser
	size   int64
}

func (r *s3Reader) Read(p []byte) (int, error) {
	return r.body.Read(p)
}

// ReadAt issues a ranged read independent of the streaming body.
func (r *s3Reader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	bucket, key := s3Location(r.uri)
	end := off + int64(len(p)) - 1
	if end >= r.size {
		end = r.size - 1
	}
	out, err := r.engine.client.GetObjectWithContext(r.ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, s3Err(err)
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p[:end-off+1])
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err == nil && int64(n) < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

func (r *s3Reader) Close() error {
	return r.body.Close()
}

type s3Writer struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}
