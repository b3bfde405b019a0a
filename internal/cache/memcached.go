package cache

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/IliaW/recipe-box/config"
	"github.com/IliaW/recipe-box/internal/model"
	"github.com/bradfitz/gomemcache/memcache"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type CachedClient interface {
	GetRecipes(includeDeleted bool) ([]*model.Recipe, bool)
	SaveRecipes(includeDeleted bool, recipes []*model.Recipe)
	InvalidateRecipes()
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
	log    *slog.Logger
}

func NewMemcachedClient(cacheConfig *config.CacheConfig, log *slog.Logger) *MemcachedClient {
	log.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	servers := strings.Split(cacheConfig.Servers, ",")
	err := ss.SetServers(servers...)
	if err != nil {
		log.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
		log:    log,
	}
	c.log.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		log.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c.log.Info("connected to memcached!")

	return c
}

func (mc *MemcachedClient) GetRecipes(includeDeleted bool) ([]*model.Recipe, bool) {
	key := recipesKey(includeDeleted)
	item, err := mc.client.Get(key)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			mc.log.Warn("failed to read recipes from cache.", slog.String("key", key),
				slog.String("err", err.Error()))
		}
		return nil, false
	}
	var recipes []*model.Recipe
	if err = json.Unmarshal(item.Value, &recipes); err != nil {
		mc.log.Error("failed to unmarshal cached recipes.", slog.String("key", key),
			slog.String("err", err.Error()))
		return nil, false
	}
	mc.log.Debug("recipes loaded from cache.", slog.String("key", key))

	return recipes, true
}

func (mc *MemcachedClient) SaveRecipes(includeDeleted bool, recipes []*model.Recipe) {
	key := recipesKey(includeDeleted)
	if err := mc.set(key, recipes, int32(mc.cfg.TtlForRecipes.Seconds())); err != nil {
		mc.log.Error("failed to save recipes to cache.", slog.String("key", key),
			slog.String("err", err.Error()))
		return
	}
	mc.log.Debug("recipes saved to cache.", slog.String("key", key))
}

// InvalidateRecipes drops both list variants; a recipe change can affect either of them.
func (mc *MemcachedClient) InvalidateRecipes() {
	for _, key := range []string{recipesKey(false), recipesKey(true)} {
		err := mc.client.Delete(key)
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			mc.log.Warn("failed to invalidate cache.", slog.String("key", key),
				slog.String("err", err.Error()))
		}
	}
}

func (mc *MemcachedClient) Close() {
	mc.log.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		mc.log.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

func (mc *MemcachedClient) set(key string, value any, expiration int32) error {
	byteValue, err := json.Marshal(value)
	if err != nil {
		return err
	}
	item := &memcache.Item{
		Key:        key,
		Value:      byteValue,
		Expiration: expiration,
	}

	return mc.client.Set(item)
}

const (
	activeRecipesKey = "recipe-box-recipes-active"
	allRecipesKey    = "recipe-box-recipes-all"
)

func recipesKey(includeDeleted bool) string {
	if includeDeleted {
		return allRecipesKey
	}
	return activeRecipesKey
}
