package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/IliaW/recipe-box/internal/aws_s3"
	"github.com/IliaW/recipe-box/internal/extractor"
	"github.com/IliaW/recipe-box/internal/model"
	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxJSONBody = 64 << 10

type RecipeService interface {
	Create(ctx context.Context, in *model.NewRecipe) (*model.Recipe, error)
	List(ctx context.Context, includeDeleted bool) ([]*model.Recipe, error)
	Get(ctx context.Context, id string) (*model.Recipe, error)
	SetDeleted(ctx context.Context, id string, deleted bool) (*model.Recipe, error)
	AttachPhoto(ctx context.Context, id string, data []byte) (*model.Recipe, error)
	OpenPhoto(ctx context.Context, key string) (*aws_s3.Photo, error)
	RequestEnrichment(ctx context.Context, id string) error
	LookupTitle(ctx context.Context, rawURL string) (*extractor.Result, error)
}

type Handler struct {
	svc           RecipeService
	photoMaxBytes int64
	photoMaxAge   time.Duration
	version       string
	log           *slog.Logger
}

type titleResponse struct {
	Title  string              `json:"title"`
	Source extractor.FieldKind `json:"source"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

func (h *Handler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	includeDeleted, _ := strconv.ParseBool(r.URL.Query().Get("include_deleted"))
	recipes, err := h.svc.List(r.Context(), includeDeleted)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"recipes": recipes})
}

func (h *Handler) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	var in model.NewRecipe
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&in); err != nil {
		writeError(w, h.log, newAppError(http.StatusBadRequest, "invalid_input", "request body is not valid json"))
		return
	}
	recipe, err := h.svc.Create(r.Context(), &in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, map[string]any{"recipe": recipe})
}

func (h *Handler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"recipe": recipe})
}

func (h *Handler) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	h.setDeleted(w, r, true)
}

func (h *Handler) RestoreRecipe(w http.ResponseWriter, r *http.Request) {
	h.setDeleted(w, r, false)
}

func (h *Handler) setDeleted(w http.ResponseWriter, r *http.Request, deleted bool) {
	recipe, err := h.svc.SetDeleted(r.Context(), chi.URLParam(r, "id"), deleted)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"recipe": recipe})
}

func (h *Handler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	// room for the multipart framing around the file itself
	r.Body = http.MaxBytesReader(w, r.Body, h.photoMaxBytes+(64<<10))
	file, _, err := r.FormFile("photo")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, h.log, newAppError(http.StatusRequestEntityTooLarge, "photo_too_large",
				fmt.Sprintf("photo is larger than %d bytes", h.photoMaxBytes)))
			return
		}
		writeError(w, h.log, newAppError(http.StatusBadRequest, "invalid_input", "multipart field 'photo' is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.photoMaxBytes+1))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	recipe, err := h.svc.AttachPhoto(r.Context(), chi.URLParam(r, "id"), data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"recipe": recipe})
}

func (h *Handler) EnrichRecipe(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RequestEnrichment(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, h.log, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) LookupTitle(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.LookupTitle(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, &titleResponse{Title: res.Value, Source: res.Source})
}

func (h *Handler) ServePhoto(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.OpenPhoto(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer p.Body.Close()

	w.Header().Set("Content-Type", p.ContentType)
	if p.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(p.ContentLength, 10))
	}
	// keys are never reused, so photos can be cached for long
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", int(h.photoMaxAge.Seconds())))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err = io.Copy(w, p.Body); err != nil {
		h.log.Warn("failed to stream photo.", slog.String("err", err.Error()))
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError && appErr.Code == "internal_error" {
		h.log.Error("request failed.", slog.String("path", r.URL.Path), slog.String("err", err.Error()))
	}
	writeError(w, h.log, appErr)
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to write response.", slog.String("err", err.Error()))
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, appErr *AppError) {
	writeJSON(w, log, appErr.Status, &errorEnvelope{Error: appErr, Success: false})
}
