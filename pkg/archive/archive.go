// Package archive reads tarballs for image items: it enumerates members to
// compute what an extraction provides, and decompresses archives for
// streaming into tar.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

// Compression identifies an archive's compression.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
	CompressionZstd  Compression = "zstd"
)

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	zstdMagic  = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Member is one entry of a tarball.
type Member struct {
	// Name is the entry name as stored in the archive.
	Name  string
	IsDir bool
}

// decompressed couples a decompressing reader with the underlying file.
type decompressed struct {
	io.Reader
	closers []io.Closer
}

func (d *decompressed) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Open returns the decompressed contents of the archive at path. The
// compression is detected from the leading magic bytes.
func Open(fs afero.Fs, path string) (io.ReadCloser, Compression, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, "", err
	}

	br := bufio.NewReader(f)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, "", fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		return &decompressed{Reader: zr, closers: []io.Closer{zr, f}}, CompressionGzip, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, "", fmt.Errorf("failed to open zstd stream %s: %w", path, err)
		}
		zrc := zr.IOReadCloser()
		return &decompressed{Reader: zrc, closers: []io.Closer{zrc, f}}, CompressionZstd, nil
	case bytes.HasPrefix(head, bzip2Magic):
		return &decompressed{Reader: bzip2.NewReader(br), closers: []io.Closer{f}}, CompressionBzip2, nil
	default:
		return &decompressed{Reader: br, closers: []io.Closer{f}}, CompressionNone, nil
	}
}

// Members lists the entries of the tarball at path in archive order.
func Members(fs afero.Fs, path string) ([]Member, error) {
	rc, _, err := Open(fs, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var members []Member
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tarball %s: %w", path, err)
		}
		members = append(members, Member{
			Name:  hdr.Name,
			IsDir: hdr.Typeflag == tar.TypeDir,
		})
	}
	return members, nil
}

// VerifyDigest checks the file at path against a digest of the form
// "algorithm:hex", where algorithm is sha256 or sha512.
func VerifyDigest(fs afero.Fs, path, digest string) error {
	algorithm, want, ok := strings.Cut(digest, ":")
	if !ok {
		return fmt.Errorf("digest %q must be of the form algorithm:hex", digest)
	}

	var h hash.Hash
	switch algorithm {
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}

	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != strings.ToLower(want) {
		return fmt.Errorf("%s has %s %s, expected %s", path, algorithm, got, want)
	}
	return nil
}
