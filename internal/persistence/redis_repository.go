package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IliaW/recipe-box/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxTxRetries = 5

// RedisRecipeRepository keeps every recipe as a JSON value under <prefix>:recipe:<id> and
// orders them with the <prefix>:recipes sorted set (score is the creation time).
type RedisRecipeRepository struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

func NewRedisRecipeRepository(client *redis.Client, prefix string, log *slog.Logger) *RedisRecipeRepository {
	return &RedisRecipeRepository{client: client, prefix: prefix, log: log}
}

func (r *RedisRecipeRepository) recipeKey(id string) string {
	return fmt.Sprintf("%s:recipe:%s", r.prefix, id)
}

func (r *RedisRecipeRepository) indexKey() string {
	return r.prefix + ":recipes"
}

func (r *RedisRecipeRepository) Save(ctx context.Context, recipe *model.Recipe) error {
	data, err := json.Marshal(recipe)
	if err != nil {
		return fmt.Errorf("failed to marshal recipe: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recipeKey(recipe.ID), data, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(recipe.CreatedAt.UnixMilli()), Member: recipe.ID})
		return nil
	})
	if err != nil {
		r.log.Error("failed to save recipe to redis.", slog.String("err", err.Error()))
		return err
	}
	r.log.Debug("recipe saved to redis.", slog.String("id", recipe.ID))

	return nil
}

func (r *RedisRecipeRepository) Get(ctx context.Context, id string) (*model.Recipe, error) {
	data, err := r.client.Get(ctx, r.recipeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipe %s: %w", id, err)
	}
	var recipe model.Recipe
	if err := json.Unmarshal(data, &recipe); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipe %s: %w", id, err)
	}
	return &recipe, nil
}

func (r *RedisRecipeRepository) List(ctx context.Context, includeDeleted bool) ([]*model.Recipe, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recipe ids: %w", err)
	}
	recipes := make([]*model.Recipe, 0, len(ids))
	if len(ids) == 0 {
		return recipes, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recipeKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load recipes: %w", err)
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			r.log.Warn("recipe listed in index but missing.", slog.String("id", ids[i]))
			continue
		}
		var recipe model.Recipe
		if err := json.Unmarshal([]byte(s), &recipe); err != nil {
			r.log.Error("failed to unmarshal recipe.", slog.String("id", ids[i]), slog.String("err", err.Error()))
			continue
		}
		if recipe.Deleted && !includeDeleted {
			continue
		}
		recipes = append(recipes, &recipe)
	}
	return recipes, nil
}

func (r *RedisRecipeRepository) SetDeleted(ctx context.Context, id string, deleted bool) (*model.Recipe, error) {
	return r.update(ctx, id, func(recipe *model.Recipe) { recipe.Deleted = deleted })
}

func (r *RedisRecipeRepository) SetPreviewImage(ctx context.Context, id string, imageURL string) (*model.Recipe, error) {
	return r.update(ctx, id, func(recipe *model.Recipe) { recipe.PreviewImage = imageURL })
}

func (r *RedisRecipeRepository) SetPhoto(ctx context.Context, id string, photoKey string) (*model.Recipe, error) {
	return r.update(ctx, id, func(recipe *model.Recipe) { recipe.PhotoKey = photoKey })
}

// update applies fn under WATCH so concurrent writers to the same recipe do not lose changes.
func (r *RedisRecipeRepository) update(ctx context.Context, id string, fn func(*model.Recipe)) (*model.Recipe, error) {
	key := r.recipeKey(id)
	var updated model.Recipe
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &updated); err != nil {
			return err
		}
		fn(&updated)
		updated.UpdatedAt = time.Now().UTC()
		data, err = json.Marshal(&updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			r.log.Debug("recipe changed during update. retrying...", slog.String("id", id))
			continue
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to update recipe %s: %w", id, err)
		}
		return &updated, nil
	}
	return nil, fmt.Errorf("failed to update recipe %s: too much contention", id)
}
