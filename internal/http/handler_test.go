package httpapp

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/stemdeck/internal/app"
	"github.com/cesargomez89/stemdeck/internal/backend"
	"github.com/cesargomez89/stemdeck/internal/backend/backendtest"
	"github.com/cesargomez89/stemdeck/internal/cache"
	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/gate"
	"github.com/cesargomez89/stemdeck/internal/http/dto"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/probe"
	"github.com/cesargomez89/stemdeck/internal/progress"
	"github.com/cesargomez89/stemdeck/internal/ratelimit"
	"github.com/cesargomez89/stemdeck/internal/registry"
)

type testServer struct {
	router  chi.Router
	handler *Handler
	svc     *app.Service
	tasks   *registry.Registry
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	root := t.TempDir()
	log := logger.Discard()
	tasks := registry.New()

	svc := app.New(app.Options{
		DownloadsDir:        filepath.Join(root, "downloads"),
		UploadsDir:          filepath.Join(root, "uploads"),
		MaxDuration:         30 * time.Minute,
		TaskTimeout:         5 * time.Second,
		MaxSeparationUpload: 1 << 10,
		MaxAnalysisUpload:   1 << 10,
	}, app.Deps{
		Tasks: tasks,
		Gates: gate.NewSet(map[domain.TaskKind]int{
			domain.KindConversion: 1,
			domain.KindSeparation: 1,
			domain.KindAnalysis:   1,
		}),
		Stems:     cache.New(filepath.Join(root, "stems"), domain.KindSeparation, nil, log),
		BPM:       cache.New(filepath.Join(root, "bpm"), domain.KindAnalysis, nil, log),
		Fetcher:   &backendtest.Fetcher{Meta: backend.Metadata{ID: "abc123", Title: "Song", Duration: time.Minute}},
		Separator: &backendtest.Separator{},
		Analyzer:  &backendtest.Analyzer{Result: domain.Analysis{BPM: 128, Beats: []float64{0.5, 0.97}, Confidence: 0.9, Method: "tracker"}},
		Prober:    probe.New(&backendtest.Transcoder{Length: time.Minute}, log),
		Logger:    log,
	})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})

	reporter := progress.NewReporter(tasks, 10*time.Millisecond, log)
	h := NewHandler(svc, reporter, limiter, Limits{MaxSeparationUpload: 1 << 10, MaxAnalysisUpload: 1 << 10}, log)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	return &testServer{router: r, handler: h, svc: svc, tasks: tasks}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) wait(t *testing.T, id string) domain.Task {
	t.Helper()
	var task domain.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = s.tasks.Get(id)
		return err == nil && task.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return task
}

func uploadRequest(t *testing.T, target, contentType string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="song.mp3"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NotFound("x"), http.StatusNotFound},
		{domain.InvalidInput("x"), http.StatusBadRequest},
		{domain.LimitExceeded("x"), http.StatusTooManyRequests},
		{domain.Timeout("x"), http.StatusGatewayTimeout},
		{domain.Upstream(nil, "x"), http.StatusBadGateway},
		{domain.IO(errors.New("disk"), "x"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", ClientKey(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientKey(req))
}

func TestConvert_Accepted(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/youtube/convert",
		strings.NewReader(`{"url":"https://www.youtube.com/watch?v=abc123"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	accepted := decode[dto.TaskAccepted](t, rec)
	assert.Equal(t, "conversion", accepted.Kind)
	assert.Equal(t, "/api/v1/youtube/progress/"+accepted.TaskID, accepted.ProgressURL)

	done := s.wait(t, accepted.TaskID)
	require.Equal(t, domain.StatusCompleted, done.Status)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/youtube/download/"+accepted.TaskID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, constants.MimeTypeMP3, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Song.mp3"`)
	assert.Contains(t, rec.Body.String(), "fake mp3 abc123")
}

func TestConvert_ValidationError(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/youtube/convert", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[dto.ErrorResponse](t, rec)
	assert.Equal(t, "invalid_input", resp.Type)
	assert.Equal(t, "is required", resp.Details["url"])

	rec = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/youtube/convert", strings.NewReader(`{"url":"https://example.com/x"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.tasks.List())

	rec = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/youtube/convert", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, ratelimit.NewMemory(1, time.Minute))
	body := `{"url":"https://youtu.be/abc123"}`

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/youtube/convert", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/youtube/convert", strings.NewReader(body)))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "limit_exceeded", decode[dto.ErrorResponse](t, rec).Type)

	// reads are not limited
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSeparate_StemsAndZip(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(uploadRequest(t, "/api/v1/separate/", constants.MimeTypeMP3, []byte("some audio")))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode[dto.TaskAccepted](t, rec).TaskID
	require.Equal(t, domain.StatusCompleted, s.wait(t, id).Status)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	task := decode[dto.TaskResponse](t, rec)
	assert.Equal(t, constants.StemNames, task.Stems)
	assert.NotContains(t, rec.Body.String(), filepath.Dir(s.svc.DownloadsDir()))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/separate/"+id+"/stems/vocals", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "vocals of "))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/separate/"+id+"/stems/kazoo", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/separate/"+id+"/stems", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, constants.MimeTypeZIP, rec.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"vocals.wav", "drums.wav", "bass.wav", "other.wav"}, names)
}

func TestSeparate_RejectsBadUploads(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(uploadRequest(t, "/api/v1/separate/", "text/plain", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(uploadRequest(t, "/api/v1/separate/", constants.MimeTypeWAV, bytes.Repeat([]byte{1}, 2<<10)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "limit_exceeded", decode[dto.ErrorResponse](t, rec).Type)

	rec = s.do(uploadRequest(t, "/api/v1/separate/", constants.MimeTypeWAV, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/separate/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, s.do(req).Code)

	assert.Empty(t, s.tasks.List())
}

func TestAnalyze_Result(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(uploadRequest(t, "/api/v1/bpm/analyze", constants.MimeTypeFLAC, []byte("flac-ish")))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode[dto.TaskAccepted](t, rec).TaskID
	require.Equal(t, domain.StatusCompleted, s.wait(t, id).Status)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/bpm/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[dto.AnalysisResponse](t, rec)
	assert.Equal(t, 128.0, res.BPM)
	assert.Len(t, res.FileHash, 64)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/bpm/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgress_SSE(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(uploadRequest(t, "/api/v1/bpm/analyze", constants.MimeTypeMP3, []byte("audio")))
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode[dto.TaskAccepted](t, rec).TaskID
	s.wait(t, id)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/bpm/"+id+"/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n\n")
	last := strings.TrimPrefix(lines[len(lines)-1], "data: ")

	var e progress.Event
	require.NoError(t, json.Unmarshal([]byte(last), &e))
	assert.Equal(t, "completed", e.Status)
	assert.Equal(t, "/api/v1/bpm/"+id, e.DownloadURL)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/youtube/progress/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownload_NotReady(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/youtube/download/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	s.handler.FFmpegAvailable = func() bool { return false }

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
	assert.Equal(t, false, resp["ffmpeg_available"])
	assert.Contains(t, resp, "gates")
	assert.Contains(t, resp, "disk_free_mb")
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename="Song.mp3"; filename*=UTF-8''Song.mp3`, contentDisposition("Song.mp3"))
	assert.Contains(t, contentDisposition("Café.mp3"), `filename="Caf_.mp3"`)
	assert.Contains(t, contentDisposition(""), `filename="download"`)
}
