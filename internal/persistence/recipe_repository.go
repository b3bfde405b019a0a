package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IliaW/recipe-box/internal/model"
)

var ErrNotFound = errors.New("recipe not found")

type RecipeStorage interface {
	Save(context.Context, *model.Recipe) error
	Get(ctx context.Context, id string) (*model.Recipe, error)
	List(ctx context.Context, includeDeleted bool) ([]*model.Recipe, error)
	SetDeleted(ctx context.Context, id string, deleted bool) (*model.Recipe, error)
	SetPreviewImage(ctx context.Context, id string, imageURL string) (*model.Recipe, error)
	SetPhoto(ctx context.Context, id string, photoKey string) (*model.Recipe, error)
}

const recipesSchema = `CREATE TABLE IF NOT EXISTS recipes (
	id            CHAR(36)      NOT NULL PRIMARY KEY,
	title         VARCHAR(512)  NOT NULL,
	url           TEXT          NOT NULL,
	notes         TEXT          NOT NULL,
	preview_image TEXT          NOT NULL,
	photo_key     VARCHAR(512)  NOT NULL DEFAULT '',
	deleted       BOOLEAN       NOT NULL DEFAULT FALSE,
	created_at    DATETIME(3)   NOT NULL,
	updated_at    DATETIME(3)   NOT NULL,
	INDEX idx_recipes_created_at (created_at)
)`

const recipeColumns = "id, title, url, notes, preview_image, photo_key, deleted, created_at, updated_at"

// MySQLRecipeRepository expects a connection opened with ClientFoundRows, so an UPDATE that
// matches a row without changing it still reports one affected row.
type MySQLRecipeRepository struct {
	db  *sql.DB
	log *slog.Logger
}

func NewMySQLRecipeRepository(db *sql.DB, log *slog.Logger) *MySQLRecipeRepository {
	return &MySQLRecipeRepository{db: db, log: log}
}

func (r *MySQLRecipeRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, recipesSchema); err != nil {
		return fmt.Errorf("failed to create recipes table: %w", err)
	}
	r.log.Info("recipes table is ready.")
	return nil
}

func (r *MySQLRecipeRepository) Save(ctx context.Context, recipe *model.Recipe) error {
	_, err := r.db.ExecContext(ctx, "INSERT INTO recipes ("+recipeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		recipe.ID,
		recipe.Title,
		recipe.URL,
		recipe.Notes,
		recipe.PreviewImage,
		recipe.PhotoKey,
		recipe.Deleted,
		recipe.CreatedAt,
		recipe.UpdatedAt)
	if err != nil {
		r.log.Error("failed to save recipe to database.", slog.String("err", err.Error()))
		return err
	}
	r.log.Debug("recipe saved to db.", slog.String("id", recipe.ID))

	return nil
}

func (r *MySQLRecipeRepository) Get(ctx context.Context, id string) (*model.Recipe, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+recipeColumns+" FROM recipes WHERE id = ?", id)
	recipe, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipe %s: %w", id, err)
	}
	return recipe, nil
}

func (r *MySQLRecipeRepository) List(ctx context.Context, includeDeleted bool) ([]*model.Recipe, error) {
	query := "SELECT " + recipeColumns + " FROM recipes"
	if !includeDeleted {
		query += " WHERE deleted = FALSE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	recipes := make([]*model.Recipe, 0)
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		recipes = append(recipes, recipe)
	}
	return recipes, rows.Err()
}

func (r *MySQLRecipeRepository) SetDeleted(ctx context.Context, id string, deleted bool) (*model.Recipe, error) {
	return r.update(ctx, id, "deleted = ?", deleted)
}

func (r *MySQLRecipeRepository) SetPreviewImage(ctx context.Context, id string, imageURL string) (*model.Recipe, error) {
	return r.update(ctx, id, "preview_image = ?", imageURL)
}

func (r *MySQLRecipeRepository) SetPhoto(ctx context.Context, id string, photoKey string) (*model.Recipe, error) {
	return r.update(ctx, id, "photo_key = ?", photoKey)
}

func (r *MySQLRecipeRepository) update(ctx context.Context, id string, set string, value any) (*model.Recipe, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE recipes SET "+set+", updated_at = ? WHERE id = ?",
		value, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update recipe %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	r.log.Debug("recipe updated in db.", slog.String("id", id), slog.String("set", set))

	return r.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row rowScanner) (*model.Recipe, error) {
	var recipe model.Recipe
	err := row.Scan(
		&recipe.ID,
		&recipe.Title,
		&recipe.URL,
		&recipe.Notes,
		&recipe.PreviewImage,
		&recipe.PhotoKey,
		&recipe.Deleted,
		&recipe.CreatedAt,
		&recipe.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}
