package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	netUrl "net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/IliaW/recipe-box/config"
	"github.com/IliaW/recipe-box/internal/aws_s3"
	"github.com/IliaW/recipe-box/internal/cache"
	"github.com/IliaW/recipe-box/internal/extractor"
	"github.com/IliaW/recipe-box/internal/model"
	"github.com/IliaW/recipe-box/internal/persistence"
	"github.com/IliaW/recipe-box/internal/photo"
	"github.com/google/uuid"
)

const (
	maxTitleLength = 512
	maxNotesLength = 20000
)

var (
	ErrInvalidRecipe = errors.New("invalid recipe")
	ErrQueueFull     = errors.New("enrichment queue is full")
)

type MetadataExtractor interface {
	ExtractPreviewImage(ctx context.Context, rawURL string) *extractor.Result
	ExtractTitle(ctx context.Context, rawURL string) (*extractor.Result, error)
	ExtractMetadata(ctx context.Context, rawURL string) (*extractor.Metadata, error)
}

type RecipeService struct {
	db        persistence.RecipeStorage
	cache     cache.CachedClient
	bucket    aws_s3.BucketClient
	extractor MetadataExtractor
	msgChan   chan<- *model.Message
	cfg       *config.Config
	log       *slog.Logger
}

func NewRecipeService(cfg *config.Config, db persistence.RecipeStorage, cachedClient cache.CachedClient,
	bucket aws_s3.BucketClient, metaExtractor MetadataExtractor, msgChan chan<- *model.Message,
	log *slog.Logger) *RecipeService {
	return &RecipeService{
		db:        db,
		cache:     cachedClient,
		bucket:    bucket,
		extractor: metaExtractor,
		msgChan:   msgChan,
		cfg:       cfg,
		log:       log,
	}
}

// Create stores a new recipe. Metadata extraction is best effort and never fails the call.
func (s *RecipeService) Create(ctx context.Context, in *model.NewRecipe) (*model.Recipe, error) {
	title := strings.TrimSpace(in.Title)
	rawURL := strings.TrimSpace(in.URL)
	notes := strings.TrimSpace(in.Notes)

	if title == "" && rawURL == "" {
		return nil, invalid("title or url is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, invalid(fmt.Sprintf("title is longer than %d characters", maxTitleLength))
	}
	if utf8.RuneCountInString(notes) > maxNotesLength {
		return nil, invalid(fmt.Sprintf("notes are longer than %d characters", maxNotesLength))
	}
	var host string
	if rawURL != "" {
		u, err := netUrl.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
			return nil, invalid("url must be an absolute http or https url")
		}
		host = u.Hostname()
	}

	// one fetch serves both fields when the title has to be derived
	var image *extractor.Result
	switch {
	case title == "":
		title = host
		md, err := s.extractor.ExtractMetadata(ctx, rawURL)
		if err != nil {
			s.log.Warn("failed to derive title. using hostname.", slog.String("url", rawURL),
				slog.String("kind", string(extractor.KindOf(err))))
		} else {
			title = truncate(md.Title.Value, maxTitleLength)
			image = md.Image
		}
	case rawURL != "":
		image = s.extractor.ExtractPreviewImage(ctx, rawURL)
	}

	now := time.Now().UTC()
	recipe := &model.Recipe{
		ID:        uuid.NewString(),
		Title:     title,
		URL:       rawURL,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if image != nil {
		recipe.PreviewImage = image.Value
	}

	if err := s.db.Save(ctx, recipe); err != nil {
		return nil, err
	}
	s.cache.InvalidateRecipes()
	s.publish(model.RecipeCreated, recipe)
	s.log.Info("recipe created.", slog.String("id", recipe.ID))

	return recipe, nil
}

func (s *RecipeService) List(ctx context.Context, includeDeleted bool) ([]*model.Recipe, error) {
	if recipes, ok := s.cache.GetRecipes(includeDeleted); ok {
		return recipes, nil
	}
	recipes, err := s.db.List(ctx, includeDeleted)
	if err != nil {
		return nil, err
	}
	s.cache.SaveRecipes(includeDeleted, recipes)

	return recipes, nil
}

func (s *RecipeService) Get(ctx context.Context, id string) (*model.Recipe, error) {
	return s.db.Get(ctx, id)
}

// SetDeleted soft deletes a recipe or restores it. Nothing is removed from storage.
func (s *RecipeService) SetDeleted(ctx context.Context, id string, deleted bool) (*model.Recipe, error) {
	recipe, err := s.db.SetDeleted(ctx, id, deleted)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateRecipes()
	if deleted {
		s.publish(model.RecipeDeleted, recipe)
	} else {
		s.publish(model.RecipeRestored, recipe)
	}

	return recipe, nil
}

// AttachPhoto stores an uploaded photo and replaces the previous one, if any.
func (s *RecipeService) AttachPhoto(ctx context.Context, id string, data []byte) (*model.Recipe, error) {
	current, err := s.db.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	info, err := photo.Inspect(data, s.cfg.PhotoSettings.MaxBytes)
	if err != nil {
		return nil, err
	}

	key := s.bucket.PhotoKey(id, info.Ext)
	if err = s.bucket.PutPhoto(ctx, key, info.ContentType, data); err != nil {
		return nil, fmt.Errorf("failed to upload photo: %w", err)
	}
	recipe, err := s.db.SetPhoto(ctx, id, key)
	if err != nil {
		s.removePhoto(key)
		return nil, err
	}
	if current.PhotoKey != "" && current.PhotoKey != key {
		s.removePhoto(current.PhotoKey)
	}
	s.cache.InvalidateRecipes()
	s.publish(model.RecipePhotoUpdated, recipe)
	s.log.Info("photo attached.", slog.String("id", id), slog.String("key", key),
		slog.Int("width", info.Width), slog.Int("height", info.Height))

	return recipe, nil
}

func (s *RecipeService) OpenPhoto(ctx context.Context, key string) (*aws_s3.Photo, error) {
	if !strings.HasPrefix(key, s.cfg.S3Settings.KeyPrefix+"/") || strings.Contains(key, "..") {
		return nil, aws_s3.ErrPhotoNotFound
	}
	return s.bucket.GetPhoto(ctx, key)
}

// RequestEnrichment queues a background refresh of the recipe's preview image.
func (s *RecipeService) RequestEnrichment(ctx context.Context, id string) error {
	recipe, err := s.db.Get(ctx, id)
	if err != nil {
		return err
	}
	if recipe.URL == "" {
		return invalid("recipe has no url to enrich from")
	}
	msg := &model.Message{
		Topic: s.cfg.KafkaSettings.Producer.EnrichTopicName,
		Key:   recipe.ID,
		Value: &model.EnrichTask{RecipeID: recipe.ID, URL: recipe.URL},
	}
	select {
	case s.msgChan <- msg:
		s.log.Debug("enrichment requested.", slog.String("id", id))
		return nil
	default:
		return ErrQueueFull
	}
}

// Enrich re-extracts the preview image for a queued task. The stored URL wins over the one in
// the task, so an edited recipe is never enriched from a stale address.
func (s *RecipeService) Enrich(ctx context.Context, task *model.EnrichTask) error {
	recipe, err := s.db.Get(ctx, task.RecipeID)
	if errors.Is(err, persistence.ErrNotFound) {
		s.log.Warn("recipe for enrich task not found.", slog.String("id", task.RecipeID))
		return nil
	}
	if err != nil {
		return err
	}
	if recipe.URL == "" {
		return nil
	}

	img := s.extractor.ExtractPreviewImage(ctx, recipe.URL)
	if img == nil || img.Value == recipe.PreviewImage {
		s.log.Debug("preview image unchanged.", slog.String("id", recipe.ID))
		return nil
	}
	updated, err := s.db.SetPreviewImage(ctx, recipe.ID, img.Value)
	if err != nil {
		return err
	}
	s.cache.InvalidateRecipes()
	s.publish(model.RecipeImageUpdated, updated)

	return nil
}

func (s *RecipeService) LookupTitle(ctx context.Context, rawURL string) (*extractor.Result, error) {
	return s.extractor.ExtractTitle(ctx, rawURL)
}

// publish never blocks the request path; a full channel drops the event.
func (s *RecipeService) publish(eventType model.EventType, recipe *model.Recipe) {
	msg := &model.Message{
		Topic: s.cfg.KafkaSettings.Producer.EventsTopicName,
		Key:   recipe.ID,
		Value: &model.RecipeEvent{Type: eventType, Recipe: recipe, OccurredAt: time.Now().UTC()},
	}
	select {
	case s.msgChan <- msg:
	default:
		s.log.Warn("event channel is full. event dropped.", slog.String("type", string(eventType)),
			slog.String("id", recipe.ID))
	}
}

func (s *RecipeService) removePhoto(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.bucket.DeletePhoto(ctx, key); err != nil {
		s.log.Warn("failed to delete photo.", slog.String("key", key), slog.String("err", err.Error()))
	}
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecipe, msg)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
