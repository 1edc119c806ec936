package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"meshrelief/internal/config"
)

// User is the other replicated document kind (backend/models/user.py).
type User struct {
	UserID     string    `json:"user_id" bson:"user_id"`
	Name       string    `json:"name" bson:"name"`
	Email      string    `json:"email" bson:"email"`
	Region     string    `json:"region" bson:"region"`
	Location   Point     `json:"location" bson:"location"`
	Verified   bool      `json:"verified" bson:"verified"`
	Reputation int       `json:"reputation" bson:"reputation"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// NewUser fills in defaults the way User.__init__ did in the original model.
func NewUser(name, email, region string, location *Point, verified bool, reputation int) *User {
	loc := NewPoint()
	if location != nil {
		loc = *location
	}
	return &User{
		UserID:     uuid.NewString(),
		Name:       name,
		Email:      email,
		Region:     region,
		Location:   loc,
		Verified:   verified,
		Reputation: reputation,
		CreatedAt:  time.Now().UTC(),
	}
}

// Validate reproduces User.validate()'s checks and messages.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return fmt.Errorf("valid email is required")
	}
	if u.Region == "" {
		return fmt.Errorf("region is required")
	}
	if !config.ValidateRegion(u.Region) {
		return fmt.Errorf("region must be one of: north_america, europe, asia_pacific")
	}
	if err := u.Location.Validate(); err != nil {
		return err
	}
	return nil
}
