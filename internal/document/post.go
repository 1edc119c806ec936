package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"meshrelief/internal/config"
)

// PostType is the closed set of categories a post may carry.
type PostType string

const (
	PostShelter PostType = "shelter"
	PostFood    PostType = "food"
	PostMedical PostType = "medical"
	PostWater   PostType = "water"
	PostSafety  PostType = "safety"
	PostHelp    PostType = "help"
)

var validPostTypes = map[PostType]bool{
	PostShelter: true, PostFood: true, PostMedical: true,
	PostWater: true, PostSafety: true, PostHelp: true,
}

// Post is one mutation-carrying document (backend/models/post.py).
type Post struct {
	PostID       string    `json:"post_id" bson:"post_id"`
	UserID       string    `json:"user_id" bson:"user_id"`
	PostType     PostType  `json:"post_type" bson:"post_type"`
	Message      string    `json:"message" bson:"message"`
	Location     Point     `json:"location" bson:"location"`
	Region       string    `json:"region" bson:"region"`
	Capacity     *int      `json:"capacity,omitempty" bson:"capacity,omitempty"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
	LastModified time.Time `json:"last_modified" bson:"last_modified"`
}

// NewPost fills in defaults (post_id, timestamps, location) the way
// Post.__init__ did in the original model.
func NewPost(userID string, postType PostType, message string, location *Point, region string, capacity *int) *Post {
	now := time.Now().UTC()
	loc := NewPoint()
	if location != nil {
		loc = *location
	}
	return &Post{
		PostID:       uuid.NewString(),
		UserID:       userID,
		PostType:     postType,
		Message:      message,
		Location:     loc,
		Region:       region,
		Capacity:     capacity,
		Timestamp:    now,
		LastModified: now,
	}
}

// Validate reproduces Post.validate()'s checks and messages.
func (p *Post) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if p.PostType == "" {
		return fmt.Errorf("post type is required")
	}
	if !validPostTypes[p.PostType] {
		return fmt.Errorf("post type must be one of: shelter, food, medical, water, safety, help")
	}
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if p.Region == "" {
		return fmt.Errorf("region is required")
	}
	if !config.ValidateRegion(p.Region) {
		return fmt.Errorf("region must be one of: north_america, europe, asia_pacific")
	}
	if err := p.Location.Validate(); err != nil {
		return err
	}
	if p.PostType == PostShelter && p.Capacity != nil && *p.Capacity < 0 {
		return fmt.Errorf("capacity must be a non-negative integer")
	}
	return nil
}
