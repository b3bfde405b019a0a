package model

import "time"

type Recipe struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	PreviewImage string    `json:"preview_image,omitempty"` // extracted from the recipe page
	PhotoKey     string    `json:"photo_key,omitempty"`     // object key of an uploaded photo
	Deleted      bool      `json:"deleted"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewRecipe is the user input for creating a recipe.
type NewRecipe struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Notes string `json:"notes"`
}

type EventType string

const (
	RecipeCreated      EventType = "recipe.created"
	RecipeDeleted      EventType = "recipe.deleted"
	RecipeRestored     EventType = "recipe.restored"
	RecipeImageUpdated EventType = "recipe.image_updated"
	RecipePhotoUpdated EventType = "recipe.photo_updated"
)

type RecipeEvent struct {
	Type       EventType `json:"type"`
	Recipe     *Recipe   `json:"recipe"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EnrichTask asks a worker to (re)extract the preview image of a recipe.
type EnrichTask struct {
	RecipeID string `json:"recipe_id"`
	URL      string `json:"url"`
}

// Message is a payload bound for a kafka topic.
type Message struct {
	Topic string
	Key   string
	Value any
}
