package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/enrich"
	"github.com/sells-group/geoenrich/internal/export"
	"github.com/sells-group/geoenrich/internal/store"
)

// Response headers carrying the run statistics of POST /v1/enrich.
const (
	headerRunID            = "X-Geoenrich-Run-ID"
	headerTotalRows        = "X-Geoenrich-Total-Rows"
	headerProcessedRows    = "X-Geoenrich-Processed-Rows"
	headerValidCEPs        = "X-Geoenrich-Valid-CEPs"
	headerFixedCEPs        = "X-Geoenrich-Fixed-CEPs"
	headerFoundCoordinates = "X-Geoenrich-Found-Coordinates"
	headerErrors           = "X-Geoenrich-Errors"
)

var contentTypes = map[export.Format]string{
	export.FormatCSV:     "text/csv; charset=utf-8",
	export.FormatGeoJSON: "application/geo+json",
}

// handleEnrich accepts a table either as the raw request body or as the
// "file" part of a multipart form, enriches it, and streams the result back.
// The output format comes from the "format" query parameter (csv by default).
func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	format := export.FormatCSV
	if name := r.URL.Query().Get("format"); name != "" {
		f, err := export.ParseFormat(name)
		if err != nil || contentTypes[f] == "" {
			writeError(w, http.StatusBadRequest, "unsupported format")
			return
		}
		format = f
	}

	dir, err := os.MkdirTemp(s.opts.TempDir, "geoenrich-upload-*")
	if err != nil {
		zap.L().Error("server: create temp dir", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	input, err := s.saveUpload(r, dir)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	output := filepath.Join(dir, "output."+string(format))
	res, err := s.enricher.ProcessFile(r.Context(), input, enrich.FileOptions{
		OutputPath: output,
		Format:     format,
		Discard:    true,
	})
	if err != nil {
		zap.L().Warn("server: enrichment failed", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, "enrichment failed: "+err.Error())
		return
	}

	f, err := os.Open(output)
	if err != nil {
		zap.L().Error("server: open output", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer f.Close() //nolint:errcheck

	h := w.Header()
	h.Set("Content-Type", contentTypes[format])
	h.Set("Content-Disposition", `attachment; filename="enriched.`+string(format)+`"`)
	h.Set(headerRunID, res.RunID)
	h.Set(headerTotalRows, strconv.Itoa(res.Stats.TotalRows))
	h.Set(headerProcessedRows, strconv.Itoa(res.Stats.ProcessedRows))
	h.Set(headerValidCEPs, strconv.Itoa(res.Stats.ValidCEPs))
	h.Set(headerFixedCEPs, strconv.Itoa(res.Stats.FixedCEPs))
	h.Set(headerFoundCoordinates, strconv.Itoa(res.Stats.FoundCoordinates))
	h.Set(headerErrors, strconv.Itoa(len(res.Stats.Errors)))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		zap.L().Warn("server: write response", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

// saveUpload writes the uploaded table under dir and returns its path. The
// file keeps the upload's extension so XLSX and ZIP inputs are recognized.
func (s *Server) saveUpload(r *http.Request, dir string) (string, error) {
	body := io.Reader(r.Body)
	name := "input.csv"

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return "", err
			}
			return "", eris.Wrap(err, "missing file part")
		}
		defer file.Close() //nolint:errcheck
		body = file
		if ext := strings.ToLower(filepath.Ext(hdr.Filename)); ext == ".xlsx" || ext == ".zip" || ext == ".txt" {
			name = "input" + ext
		}
	}

	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "create upload file")
	}
	defer out.Close() //nolint:errcheck

	n, err := io.Copy(out, body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", err
		}
		return "", eris.Wrap(err, "read upload")
	}
	if n == 0 {
		return "", eris.New("empty upload")
	}
	return path, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
