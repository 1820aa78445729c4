package httpapp

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cesargomez89/stemdeck/internal/app"
	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/http/dto"
	"github.com/cesargomez89/stemdeck/internal/storage"
)

// multipartOverhead allows for form boundaries and headers around the file.
const multipartOverhead = 1 << 20

var uploadTypes = map[string]bool{
	constants.MimeTypeMP3:  true,
	constants.MimeTypeWAV:  true,
	constants.MimeTypeXWAV: true,
	constants.MimeTypeFLAC: true,
}

func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	var req dto.ConvertRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		h.writeError(w, r, domain.InvalidInput("invalid JSON body: %v", err))
		return
	}
	if errs := dto.Validate(&req); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
			Error:   dto.ToResponse(errs),
			Type:    string(domain.ErrKindInvalidInput),
			Details: dto.ToMap(errs),
		})
		return
	}

	task, err := h.Service.SubmitConversion(r.Context(), req.URL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dto.NewTaskAccepted(task, "/api/v1/youtube/progress/"+task.ID))
}

func (h *Handler) Separate(w http.ResponseWriter, r *http.Request) {
	up, err := h.receiveUpload(w, r, h.Limits.MaxSeparationUpload)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	task, err := h.Service.SubmitSeparation(r.Context(), up)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dto.NewTaskAccepted(task, "/api/v1/separate/"+task.ID+"/progress"))
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	up, err := h.receiveUpload(w, r, h.Limits.MaxAnalysisUpload)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	task, err := h.Service.SubmitAnalysis(r.Context(), up)
	if err != nil {
		h.writeUploadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dto.NewTaskAccepted(task, "/api/v1/bpm/"+task.ID+"/progress"))
}

// receiveUpload streams the "file" part of a multipart body into the uploads
// directory, enforcing the content type and size limit.
func (h *Handler) receiveUpload(w http.ResponseWriter, r *http.Request, limit int64) (app.Upload, error) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return app.Upload{}, domain.InvalidInput("expected a multipart form: %v", err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return app.Upload{}, domain.InvalidInput("missing form field \"file\"")
		}
		if err != nil {
			return app.Upload{}, uploadError(err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		defer part.Close()
		return h.saveUpload(part, limit)
	}
}

func (h *Handler) saveUpload(part *multipart.Part, limit int64) (app.Upload, error) {
	contentType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
	if !uploadTypes[contentType] {
		return app.Upload{}, domain.InvalidInput("unsupported content type %q, expected audio/mpeg, audio/wav or audio/flac", contentType)
	}

	name := filepath.Base(part.FileName())
	path, err := h.Service.NewUploadPath(name)
	if err != nil {
		return app.Upload{}, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, constants.FilePermissions)
	if err != nil {
		os.Remove(path)
		return app.Upload{}, domain.IO(err, "open upload file")
	}

	src := io.Reader(part)
	if limit > 0 {
		src = io.LimitReader(part, limit+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return app.Upload{}, uploadError(err)
	}
	if limit > 0 && n > limit {
		os.Remove(path)
		return app.Upload{}, domain.LimitExceeded("file too large: exceeds the %d MB limit", limit>>20)
	}
	return app.Upload{Path: path, Name: name, Size: n}, nil
}

func uploadError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return domain.LimitExceeded("file too large: request exceeds %d bytes", mbe.Limit)
	}
	return domain.InvalidInput("read upload: %v", err)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.Service.Task(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewTaskResponse(task))
}

// Progress streams server-sent events until the task finishes.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	if err := h.Reporter.ServeSSE(w, r, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handler) TaskWS(w http.ResponseWriter, r *http.Request) {
	if err := h.Reporter.ServeWS(w, r, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handler) DownloadConverted(w http.ResponseWriter, r *http.Request) {
	file, err := h.Service.ConvertedFile(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	serveAttachment(w, r, file.Path, file.Filename, constants.MimeTypeMP3)
}

func (h *Handler) DownloadStem(w http.ResponseWriter, r *http.Request) {
	id, stem := chi.URLParam(r, "id"), chi.URLParam(r, "stem")
	path, err := h.Service.Stem(id, stem)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	serveAttachment(w, r, path, stem+constants.ExtWAV, constants.MimeTypeWAV)
}

// DownloadStemsZip streams every stem of a finished separation as one archive.
func (h *Handler) DownloadStemsZip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stems, err := h.Service.Stems(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", constants.MimeTypeZIP)
	w.Header().Set("Content-Disposition", contentDisposition("stems_"+id+".zip"))
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	for _, stem := range dto.OrderedStems(stems) {
		if err := addToZip(zw, stems[stem], stem+constants.ExtWAV); err != nil {
			h.Logger.Error("Failed to write stems archive", "task_id", id, "stem", stem, "error", err)
			return
		}
	}
	if err := zw.Close(); err != nil {
		h.Logger.Error("Failed to finish stems archive", "task_id", id, "error", err)
	}
}

func addToZip(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// wav data barely compresses
	dst, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}

func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.Analysis(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewAnalysisResponse(a))
}

func serveAttachment(w http.ResponseWriter, r *http.Request, path, filename, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", contentDisposition(filename))
	http.ServeFile(w, r, path)
}

func contentDisposition(filename string) string {
	name := storage.Sanitize(filename)
	if name == "" {
		name = "download"
	}
	ascii := strings.Map(func(r rune) rune {
		if r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, ascii, url.PathEscape(name))
}
