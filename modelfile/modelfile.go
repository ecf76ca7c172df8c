// Package modelfile resolves model locations to local files.
//
// A location is either a filesystem path or a gs://bucket/object URI.
// Cloud objects are downloaded to a temporary file.
package modelfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// File is a model file available on local disk.
type File struct {
	// Path is the local path.
	Path string

	// Source is the location the file was opened from.
	Source string

	// SHA256 is the hex digest of the file contents.
	SHA256 string

	cleanup func() error
}

// Close removes downloaded copies. Local files are left alone.
func (f *File) Close() error {
	if f.cleanup == nil {
		return nil
	}
	return f.cleanup()
}

// Opener resolves locations.
type Opener struct {
	// CredentialsFile is a service account key for gs:// locations.
	// Application default credentials are used when empty.
	CredentialsFile string

	// ClientOptions are extra options for the storage client.
	ClientOptions []option.ClientOption
}

// IsRemote reports whether loc names a cloud object.
func IsRemote(loc string) bool {
	return strings.HasPrefix(loc, gcsScheme)
}

// ParseGCS splits a gs:// URI into bucket and object.
func ParseGCS(loc string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(loc, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("modelfile: %q is not a gs:// URI", loc)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("modelfile: %q needs gs://bucket/object", loc)
	}
	return bucket, object, nil
}

// Open makes loc available locally.
func (o *Opener) Open(ctx context.Context, loc string) (*File, error) {
	if !IsRemote(loc) {
		sum, err := digest(loc)
		if err != nil {
			return nil, err
		}
		return &File{Path: loc, Source: loc, SHA256: sum}, nil
	}
	return o.download(ctx, loc)
}

func (o *Opener) download(ctx context.Context, loc string) (*File, error) {
	bucket, object, err := ParseGCS(loc)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption(nil), o.ClientOptions...)
	if o.CredentialsFile != "" {
		if _, err := os.Stat(o.CredentialsFile); err != nil {
			return nil, fmt.Errorf("modelfile: service account key: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(o.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("modelfile: storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("modelfile: open %s: %w", loc, err)
	}
	defer r.Close()

	tmp, err := os.CreateTemp("", "model-*"+path.Ext(object))
	if err != nil {
		return nil, fmt.Errorf("modelfile: temp file: %w", err)
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("modelfile: download %s: %w", loc, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("modelfile: download %s: %w", loc, err)
	}
	name := tmp.Name()
	return &File{
		Path:    name,
		Source:  loc,
		SHA256:  hex.EncodeToString(h.Sum(nil)),
		cleanup: func() error { return os.Remove(name) },
	}, nil
}

func digest(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("modelfile: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("modelfile: read %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
