package storage

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const (
	fileScheme  = "file"
	s3Scheme    = "s3"
	stdioScheme = "stdio"
)

// URI locates one stored object.  Bare paths parse as file URIs so callers
// can hand ParseURI command-line arguments unchanged.
type URI url.URL

// ParseURI parses s into a URI, treating a string without a scheme as a
// file system path.
func ParseURI(s string) (*URI, error) {
	if s == "" {
		return nil, fmt.Errorf("empty URI")
	}
	if strings.HasPrefix(s, "stdio:") {
		return &URI{Scheme: stdioScheme, Path: strings.TrimPrefix(s, "stdio:")}, nil
	}
	scheme, _, _ := strings.Cut(s, "://")
	switch scheme {
	case s, "":
		// No scheme: a file system path, possibly relative.
		abs, err := filepath.Abs(s)
		if err != nil {
			return nil, err
		}
		return &URI{Scheme: fileScheme, Path: filepath.ToSlash(abs)}, nil
	case fileScheme, s3Scheme:
		u, err := url.Parse(s)
		if err != nil {
			return nil, err
		}
		return (*URI)(u), nil
	}
	return nil, fmt.Errorf("unsupported URI scheme %q: %s", scheme, s)
}

// MustParseURI is ParseURI for statically known inputs.
func MustParseURI(s string) *URI {
	u, err := ParseURI(s)
	if err != nil {
		panic(err)
	}
	return u
}

func (u *URI) String() string {
	if u.Scheme == stdioScheme {
		return u.Scheme + ":" + u.Path
	}
	return (*url.URL)(u).String()
}

// Filepath returns the file system path of a file URI.
func (u *URI) Filepath() string {
	return filepath.FromSlash(u.Path)
}

// JoinPath returns a copy of u with elem appended to its path.
func (u *URI) JoinPath(elem ...string) *URI {
	dup := *u
	dup.Path = path.Join(append([]string{u.Path}, elem...)...)
	return &dup
}

// IsS3 reports whether the URI addresses an S3 object.
func (u *URI) IsS3() bool { return u.Scheme == s3Scheme }
