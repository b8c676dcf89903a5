package user

import (
	"errors"
	"testing"
	"time"
)

func TestCreateUserMintsStableIdentity(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	created, err := CreateUser(CreateUserInput{DisplayName: " Quick Login "}, func() time.Time { return fixed }, func() (string, error) {
		return "user-id-1", nil
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID != "user-id-1" {
		t.Fatalf("ID = %q", created.ID)
	}
	if created.DisplayName != "Quick Login" {
		t.Fatalf("DisplayName = %q", created.DisplayName)
	}
	if !created.CreatedAt.Equal(fixed) {
		t.Fatalf("CreatedAt = %v", created.CreatedAt)
	}
}

func TestCreateUserRejectsEmptyDisplayName(t *testing.T) {
	_, err := CreateUser(CreateUserInput{DisplayName: "   "}, nil, nil)
	if !errors.Is(err, ErrEmptyDisplayName) {
		t.Fatalf("expected ErrEmptyDisplayName, got %v", err)
	}
}

func TestCreateUserDefaultsGenerators(t *testing.T) {
	created, err := CreateUser(CreateUserInput{DisplayName: "Visitor"}, nil, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.CreatedAt.IsZero() {
		t.Fatal("expected created timestamp")
	}
}

func TestCreateUserPropagatesIDGeneratorError(t *testing.T) {
	boom := errors.New("entropy exhausted")
	_, err := CreateUser(CreateUserInput{DisplayName: "Visitor"}, nil, func() (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected id generator error, got %v", err)
	}
}
