package storage

import (
	"context"
	"fmt"
	"io"
	"os"
)

// StdioEngine maps the stdio:stdin, stdio:stdout, and stdio:stderr URIs
// onto the process streams.  Closing a reader or writer obtained from it
// leaves the underlying stream open.
type StdioEngine struct{}

var _ Engine = (*StdioEngine)(nil)

func NewStdioEngine() *StdioEngine { return &StdioEngine{} }

func (*StdioEngine) Get(_ context.Context, u *URI) (Reader, error) {
	if u.Path != "stdin" && u.Path != "" {
		return nil, fmt.Errorf("cannot read from stdio stream %q", u.Path)
	}
	return &stdioReader{os.Stdin}, nil
}

func (*StdioEngine) Put(_ context.Context, u *URI) (io.WriteCloser, error) {
	switch u.Path {
	case "stdout", "":
		return nopWriteCloser{os.Stdout}, nil
	case "stderr":
		return nopWriteCloser{os.Stderr}, nil
	}
	return nil, fmt.Errorf("cannot write to stdio stream %q", u.Path)
}

func (*StdioEngine) Exists(context.Context, *URI) (bool, error) {
	return true, nil
}

func (*StdioEngine) Size(_ context.Context, u *URI) (int64, error) {
	return 0, fmt.Errorf("stdio streams have no size: %s", u)
}

func (*StdioEngine) List(_ context.Context, u *URI) ([]Info, error) {
	return nil, fmt.Errorf("stdio streams cannot be listed: %s", u)
}

type stdioReader struct {
	f *os.File
}

func (r *stdioReader) Read(p []byte) (int, error) {
	return r.f.Read(p)
}

func (r *stdioReader) ReadAt(p []byte, off int64) (int, error) {
	return r.f.ReadAt(p, off)
}

// Close leaves the stream open so a later Get still works.
func (*stdioReader) Close() error { return nil }

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
