package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"MovieBridge/docstore"

	"github.com/go-playground/validator/v10"
)

type Movie struct {
	Title       string  `json:"title" validate:"required"`
	Director    string  `json:"director" validate:"required"`
	ReleaseYear *uint32 `json:"release_year" validate:"required"`
}

type Actor struct {
	Name        string  `json:"name" validate:"required"`
	DateOfBirth *uint32 `json:"date_of_birth" validate:"required"`
}

type Review struct {
	MovieID  string  `json:"movie_id" validate:"required"`
	Reviewer string  `json:"reviewer" validate:"required"`
	Rating   *uint32 `json:"rating" validate:"required"`
	Comment  *string `json:"comment" validate:"required"`
}

// Resource describes a named collection in the document store.
type Resource struct {
	// Name is both the collection key in the store and the last segment of the route, e.g. "movies".
	Name string

	// Singular is used in response bodies, e.g. "Movie".
	Singular string

	// NewRecord returns a pointer to an empty record used to decode POST bodies.
	NewRecord func() any
}

// Resources lists every collection served under /api/.
var Resources = []Resource{
	{Name: "movies", Singular: "Movie", NewRecord: func() any { return &Movie{} }},
	{Name: "actors", Singular: "Actor", NewRecord: func() any { return &Actor{} }},
	{Name: "reviews", Singular: "Review", NewRecord: func() any { return &Review{} }},
}

// ResourceHandler maps the four verbs of one resource onto single document store operations.
type ResourceHandler struct {
	resource Resource
	store    docstore.Store
	cache    ResponseCache
	validate *validator.Validate
}

// NewResourceHandler creates a handler for resource. cache may be nil.
func NewResourceHandler(resource Resource, store docstore.Store, cache ResponseCache, validate *validator.Validate) *ResourceHandler {
	if validate == nil {
		validate = validator.New()
	}

	return &ResourceHandler{
		resource: resource,
		store:    store,
		cache:    cache,
		validate: validate,
	}
}

// List returns the whole collection. An absent collection is rendered as an empty list.
func (h *ResourceHandler) List(ctx context.Context, logger *slog.Logger, _ *Request) *Response {
	if h.cache != nil {
		if cached, ok := h.cache.Get(h.resource.Name); ok {
			logger.Debug("Serving collection from cache", slog.String("resource", h.resource.Name))

			return NewResponse(StatusOK, cached.Body)
		}
	}

	var generation uint64
	if h.cache != nil {
		generation = h.cache.Generation(h.resource.Name)
	}

	raw, err := h.store.Get(ctx, h.resource.Name)
	if err != nil {
		logger.Error("Failed to retrieve collection", slog.String("resource", h.resource.Name), slog.String("error", err.Error()))

		return NewResponse(StatusInternalServerError, "Failed to retrieve "+h.resource.Name)
	}

	body := "[]"
	if !docstore.IsEmpty(raw) {
		body = strings.TrimSpace(string(raw))
	}

	if h.cache != nil {
		h.cache.Set(h.resource.Name, CachedResponse{Body: body, Generation: generation})
	}

	return NewResponse(StatusOK, body)
}

// Create stores the record in the body as a new child of the collection.
func (h *ResourceHandler) Create(ctx context.Context, logger *slog.Logger, req *Request) *Response {
	record := h.resource.NewRecord()

	if err := h.decodeRecord(req.Body, record); err != nil {
		logger.Info("Rejected record", slog.String("resource", h.resource.Name), slog.String("error", err.Error()))

		return h.failure(err, "create")
	}

	key, err := h.store.Set(ctx, h.resource.Name+"/", record)
	if err != nil {
		logger.Error("Failed to create record", slog.String("resource", h.resource.Name), slog.String("error", err.Error()))

		return h.failure(fmt.Errorf("%w: %w", ErrBackend, err), "create")
	}

	h.invalidate()

	logger.Debug("Record created", slog.String("resource", h.resource.Name), slog.String("id", key))

	return NewResponse(StatusCreated, h.resource.Singular+" created")
}

// Update merges the body into the record named by its "id" field.
func (h *ResourceHandler) Update(ctx context.Context, logger *slog.Logger, req *Request) *Response {
	doc, id, err := h.decodeDocument(req.Body)
	if err != nil {
		logger.Info("Rejected update", slog.String("resource", h.resource.Name), slog.String("error", err.Error()))

		return h.failure(err, "update")
	}

	if err = h.store.Update(ctx, h.resource.Name+"/"+id, doc); err != nil {
		logger.Error("Failed to update record", slog.String("resource", h.resource.Name), slog.String("id", id), slog.String("error", err.Error()))

		return h.failure(fmt.Errorf("%w: %w", ErrBackend, err), "update")
	}

	h.invalidate()

	return NewResponse(StatusOK, h.resource.Singular+" updated")
}

// Delete removes the record named by the "id" field of the body.
func (h *ResourceHandler) Delete(ctx context.Context, logger *slog.Logger, req *Request) *Response {
	_, id, err := h.decodeDocument(req.Body)
	if err != nil {
		logger.Info("Rejected delete", slog.String("resource", h.resource.Name), slog.String("error", err.Error()))

		return h.failure(err, "delete")
	}

	if err = h.store.Delete(ctx, h.resource.Name+"/"+id); err != nil {
		logger.Error("Failed to delete record", slog.String("resource", h.resource.Name), slog.String("id", id), slog.String("error", err.Error()))

		return h.failure(fmt.Errorf("%w: %w", ErrBackend, err), "delete")
	}

	h.invalidate()

	return NewResponse(StatusOK, h.resource.Singular+" deleted")
}

func (h *ResourceHandler) invalidate() {
	if h.cache != nil {
		h.cache.Invalidate(h.resource.Name)
	}
}

// failure renders err for the verb that failed.
func (h *ResourceHandler) failure(err error, verb string) *Response {
	if statusForError(err) == StatusBadRequest {
		return badRequest()
	}

	return NewResponse(StatusInternalServerError, fmt.Sprintf("Failed to %s %s", verb, strings.ToLower(h.resource.Singular)))
}

func (h *ResourceHandler) decodeRecord(body string, record any) error {
	if body == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidBody)
	}

	if err := json.Unmarshal([]byte(body), record); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}

	if err := h.validate.Struct(record); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	return nil
}

// decodeDocument parses body as a JSON object and extracts its "id" field.
func (h *ResourceHandler) decodeDocument(body string) (map[string]any, string, error) {
	var doc map[string]any

	if body == "" {
		return nil, "", fmt.Errorf("%w: empty body", ErrInvalidBody)
	}

	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}

	if doc == nil {
		return nil, "", fmt.Errorf("%w: body is null", ErrInvalidBody)
	}

	id, ok := doc["id"].(string)
	if !ok {
		return nil, "", ErrMissingID
	}

	if err := docstore.ValidateKey(id); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrMissingID, err)
	}

	return doc, id, nil
}
