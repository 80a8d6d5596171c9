// Package fetcher resolves address-file sources (local paths, HTTP and FTP
// URLs, ZIP archives) and reads CSV or XLSX tables in bounded chunks.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/model"
)

// DefaultChunkSize is the number of rows per chunk.
const DefaultChunkSize = 1000

// Source yields the rows of a table as consecutive chunks.
type Source interface {
	// Header returns the column names of the first row.
	Header() []string

	// Total returns the number of data rows, known before the first chunk.
	Total() int

	// Next returns the next chunk, or io.EOF after the last one.
	Next(ctx context.Context) (*model.Chunk, error)

	Close() error
}

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Open returns a chunked Source for a local file, chosen by extension:
// .xlsx is read as a workbook, anything else as delimited text.
func Open(path string, opts CSVOptions) (Source, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return OpenXLSX(path, XLSXOptions{ChunkSize: opts.ChunkSize})
	}
	return OpenCSV(path, opts)
}

// Resolver turns a source string into a readable local file.
type Resolver struct {
	HTTP   Fetcher
	FTP    Fetcher
	TmpDir string
}

// NewResolver creates a Resolver with default HTTP and FTP fetchers.
func NewResolver() *Resolver {
	return &Resolver{
		HTTP: NewHTTPFetcher(HTTPOptions{}),
		FTP:  NewFTPFetcher(FTPOptions{}),
	}
}

// Resolve returns a local path for source. Remote URLs are downloaded to a
// temporary file and ZIP archives are unpacked to their single table. The
// returned cleanup removes anything Resolve created and is never nil.
func (r *Resolver) Resolve(ctx context.Context, source string) (string, func(), error) {
	noop := func() {}

	u, err := url.Parse(source)
	remote := err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "ftp")

	if !remote {
		if _, err := os.Stat(source); err != nil {
			return "", noop, eris.Wrapf(err, "fetcher: stat %s", source)
		}
		return r.unpack(source, noop)
	}

	dir, err := os.MkdirTemp(r.TmpDir, "geoenrich-*")
	if err != nil {
		return "", noop, eris.Wrap(err, "fetcher: create temp dir")
	}
	cleanup := func() { os.RemoveAll(dir) } //nolint:errcheck

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "input.csv"
	}
	local := filepath.Join(dir, name)

	f := r.HTTP
	if u.Scheme == "ftp" {
		f = r.FTP
	}
	n, err := f.DownloadToFile(ctx, source, local)
	if err != nil {
		cleanup()
		return "", noop, eris.Wrapf(err, "fetcher: download %s", source)
	}
	zap.L().Info("downloaded input", zap.String("url", source), zap.Int64("bytes", n))

	return r.unpack(local, cleanup)
}

// unpack extracts a ZIP archive into a temporary directory. The returned
// cleanup also runs the cleanup of earlier steps.
func (r *Resolver) unpack(local string, cleanup func()) (string, func(), error) {
	if !strings.EqualFold(filepath.Ext(local), ".zip") {
		return local, cleanup, nil
	}

	dir, err := os.MkdirTemp(r.TmpDir, "geoenrich-zip-*")
	if err != nil {
		cleanup()
		return "", func() {}, eris.Wrap(err, "fetcher: create temp dir")
	}
	all := func() {
		os.RemoveAll(dir) //nolint:errcheck
		cleanup()
	}

	extracted, err := ExtractTable(local, dir)
	if err != nil {
		all()
		return "", func() {}, err
	}
	return extracted, all, nil
}
