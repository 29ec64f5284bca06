package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio/internal/creations"
	"studio/internal/domain"
	"studio/internal/expiry"
	"studio/internal/flight"
	"studio/internal/http/handlers"
	"studio/internal/infra"
	"studio/internal/kv"
	"studio/internal/middleware"
	"studio/internal/orchestrator"
	"studio/internal/providers"
	"studio/internal/providers/genai"
	"studio/internal/providers/meshgen"
	"studio/internal/providers/moderation"
	"studio/internal/rescache"
	"studio/internal/wizard"
)

type stack struct {
	router http.Handler
	orch   *orchestrator.Orchestrator
	blobs  *rescache.BlobRegistry
	lock   *flight.Lock
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := infra.NopLogger()
	clock := clockwork.NewRealClock()
	durable, session := kv.NewMemory(), kv.NewMemory()

	blobs := rescache.NewBlobRegistry("http://studio.test")
	cache := rescache.New(blobs, &logger)
	lock := flight.New(session, flight.WithClock(clock))

	gemini, err := genai.NewClient(genai.Options{Logger: &logger})
	require.NoError(t, err)
	mesh, err := meshgen.NewClient(meshgen.Options{Logger: &logger})
	require.NoError(t, err)

	orch, err := orchestrator.New(orchestrator.Options{
		Generators: providers.Generators{Model: mesh, Composite: gemini, Story: gemini},
		Moderator:  moderation.NewStatic(),
		Lock:       lock,
		Cache:      cache,
		Session:    session,
		Clock:      clock,
		Logger:     &logger,
	})
	require.NoError(t, err)

	sweeper := expiry.New(expiry.Options{Durable: durable, Session: session, Clock: clock})
	app := &handlers.App{
		Wizard:       wizard.New(session, cache, clock, wizard.WithSessionReset(orch)),
		Orchestrator: orch,
		Creations: creations.New(creations.Options{
			Durable:       durable,
			Session:       session,
			Cache:         cache,
			Scheduler:     sweeper,
			Clock:         clock,
			PublicBaseURL: "http://studio.test",
		}),
		Lock:  lock,
		Blobs: blobs,
	}
	router := NewRouter(app, Options{
		Logger:          logger,
		Locales:         middleware.NewLocales([]string{"en", "ja"}),
		RateLimitPerMin: 1000,
	})
	return &stack{router: router, orch: orch, blobs: blobs, lock: lock}
}

func (s *stack) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func pngBase64(t *testing.T, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestRouter_FullFlow(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodGet, "/v1/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","generating":false}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/generations", map[string]string{"storyPrompt": "x"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "incomplete_session", decodeError(t, rec))

	rec = s.do(t, http.MethodPut, "/v1/session/stage", map[string]string{
		"prompt":      "A rooftop garden",
		"imageBase64": pngBase64(t, 32, 32, color.RGBA{R: 20, G: 120, B: 40, A: 255}),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPut, "/v1/session/character", map[string]string{
		"id":          "traveler",
		"prompt":      "A translucent traveler",
		"imageBase64": pngBase64(t, 8, 8, color.RGBA{R: 200, A: 255}),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var sel struct {
		DisplayHandle string `json:"displayHandle"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sel))
	assert.True(t, strings.HasPrefix(sel.DisplayHandle, "http://studio.test/v1/blobs/"))

	rec = s.do(t, http.MethodPost, "/v1/generations", map[string]string{"storyPrompt": "a quiet evening"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.orch.Wait()

	rec = s.do(t, http.MethodGet, "/v1/generations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var gen struct {
		State   domain.AggregateState     `json:"state"`
		Session *domain.GenerationSession `json:"session"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&gen))
	require.Equal(t, domain.StateReady, gen.State)
	require.NotNil(t, gen.Session.Results.Composite)

	blobURL, err := url.Parse(gen.Session.Results.Composite.DisplayURL)
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, blobURL.Path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = s.do(t, http.MethodPost, "/v1/creations", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var saved creations.SaveResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&saved))
	assert.True(t, saved.Success)
	assert.Equal(t, "http://studio.test/s/"+saved.ID, saved.ShareURL)

	rec = s.do(t, http.MethodGet, "/v1/limits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var limit creations.Limit
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&limit))
	assert.Equal(t, 1, limit.Count)
	assert.Equal(t, 2, limit.Remaining)

	rec = s.do(t, http.MethodGet, "/v1/creations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), saved.ID)

	rec = s.do(t, http.MethodGet, "/v1/creations/0/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	assert.NotEmpty(t, zr.File)

	rec = s.do(t, http.MethodGet, "/v1/creations/9/archive", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/s/"+saved.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/v1/session", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, blobURL.Path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "clearing the session revokes display handles")
	assert.Zero(t, s.blobs.Len())
}

func TestRouter_ModerationRejects(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodPut, "/v1/session/character", map[string]string{
		"prompt":      "a traveler",
		"imageBase64": pngBase64(t, 4, 4, color.White),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/generations", map[string]string{"storyPrompt": "a scene full of gore"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_failed", decodeError(t, rec))
}

func TestRouter_RetryWithoutRun(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodPost, "/v1/generations/retry", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "nothing_to_retry", decodeError(t, rec))
}

func TestRouter_SaveIncomplete(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodPost, "/v1/creations", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "incomplete_session", decodeError(t, rec))
}

func TestRouter_BadPayload(t *testing.T) {
	s := newStack(t)

	req := httptest.NewRequest(http.MethodPut, "/v1/session/stage", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decodeError(t, rec))
}

func TestRouter_BusyWhileLockHeld(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	rec := s.do(t, http.MethodPut, "/v1/session/character", map[string]string{
		"prompt":      "a traveler",
		"imageBase64": pngBase64(t, 4, 4, color.White),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	ok, err := s.lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	rec = s.do(t, http.MethodPost, "/v1/generations", map[string]string{"storyPrompt": "calm"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "generation_in_progress", decodeError(t, rec))

	rec = s.do(t, http.MethodDelete, "/v1/session", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPut, "/v1/session/stage", map[string]string{"prompt": "A quiet pier"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "generation_in_progress", decodeError(t, rec))

	rec = s.do(t, http.MethodGet, "/v1/healthz", nil)
	assert.JSONEq(t, `{"status":"ok","generating":true}`, rec.Body.String())

	require.NoError(t, s.lock.Release(ctx))
	rec = s.do(t, http.MethodDelete, "/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRouter_NewCharacterDropsPreviousRun(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodPut, "/v1/session/stage", map[string]string{
		"prompt":      "A rooftop garden",
		"imageBase64": pngBase64(t, 16, 16, color.RGBA{G: 120, A: 255}),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPut, "/v1/session/character", map[string]string{
		"id":          "char-1",
		"prompt":      "A translucent traveler",
		"imageBase64": pngBase64(t, 8, 8, color.RGBA{R: 200, A: 255}),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/v1/generations", map[string]string{"storyPrompt": "a quiet evening"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.orch.Wait()

	sess := s.orch.Snapshot()
	require.NotNil(t, sess)
	require.Equal(t, domain.StateReady, sess.State())
	blobURL, err := url.Parse(sess.Results.Composite.DisplayURL)
	require.NoError(t, err)

	rec = s.do(t, http.MethodPut, "/v1/session/character", map[string]string{
		"id":          "char-2",
		"prompt":      "A brass automaton",
		"imageBase64": pngBase64(t, 8, 8, color.RGBA{B: 200, A: 255}),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/generations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"idle"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, blobURL.Path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "the old composite is no longer displayed")

	rec = s.do(t, http.MethodPost, "/v1/creations", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "incomplete_session", decodeError(t, rec))

	rec = s.do(t, http.MethodPost, "/v1/generations/retry", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "nothing_to_retry", decodeError(t, rec))
}
