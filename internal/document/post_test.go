package document

import "testing"

func TestNewPostValidates(t *testing.T) {
	loc := &Point{Type: "Point", Coordinates: []float64{-122.4, 37.7}}
	p := NewPost("u1", PostHelp, "need water", loc, "north_america", nil)
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid post, got error: %v", err)
	}
	if p.PostID == "" {
		t.Fatal("expected a generated post_id")
	}
}

func TestPostValidateRejectsUnknownType(t *testing.T) {
	loc := &Point{Type: "Point", Coordinates: []float64{0, 0}}
	p := NewPost("u1", PostType("garbage"), "m", loc, "north_america", nil)
	err := p.Validate()
	if err == nil {
		t.Fatal("expected a validation error")
	}
	want := "post type must be one of: shelter, food, medical, water, safety, help"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestPostValidateRejectsNegativeCapacityOnShelter(t *testing.T) {
	loc := &Point{Type: "Point", Coordinates: []float64{0, 0}}
	cap := -1
	p := NewPost("u1", PostShelter, "m", loc, "north_america", &cap)
	if err := p.Validate(); err == nil {
		t.Fatal("expected a validation error for negative capacity")
	}
}

func TestPostValidateIgnoresCapacityOnNonShelter(t *testing.T) {
	loc := &Point{Type: "Point", Coordinates: []float64{0, 0}}
	cap := -1
	p := NewPost("u1", PostHelp, "m", loc, "north_america", &cap)
	if err := p.Validate(); err != nil {
		t.Fatalf("capacity should only be checked for shelter posts, got: %v", err)
	}
}

func TestPostValidateRejectsMissingRegion(t *testing.T) {
	loc := &Point{Type: "Point", Coordinates: []float64{0, 0}}
	p := NewPost("u1", PostHelp, "m", loc, "", nil)
	if err := p.Validate(); err == nil {
		t.Fatal("expected a validation error for missing region")
	}
}
