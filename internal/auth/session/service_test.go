package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"pigeon/internal/identity"
)

func seedUser(t *testing.T, store *identity.MemoryStore, email, name string) identity.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), identity.CreateUserInput{
		Email:    email,
		Password: "correct horse battery staple",
		Name:     name,
		Phone:    "+15550002222",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestRotateRefreshesSnapshot(t *testing.T) {
	store := identity.NewMemoryStore()
	svc := NewService(testManager(t), store)
	now := time.Now().UTC()

	user := seedUser(t, store, "rot@example.com", "Before Rename")
	_, refresh, err := svc.Issue(user, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Profile changes after login; rotation must pick up the new name.
	newName := "After Rename"
	if _, err := store.UpdateProfile(context.Background(), identity.UpdateProfileInput{
		UserID: user.ID,
		Name:   &newName,
	}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	later := now.Add(20 * time.Minute)
	fresh, err := svc.Rotate(context.Background(), refresh.Value, later)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	claims, err := svc.VerifyAccess(fresh.Value, later)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Name != "After Rename" {
		t.Fatalf("rotated snapshot name = %q, want profile as of rotation", claims.Name)
	}
	if claims.UserID != user.ID {
		t.Fatalf("rotated snapshot user = %q, want %q", claims.UserID, user.ID)
	}
}

func TestRotateDeletedIdentity(t *testing.T) {
	store := identity.NewMemoryStore()
	svc := NewService(testManager(t), store)
	now := time.Now().UTC()

	// Refresh token bound to a user the store has never seen.
	ghostID, err := identity.NewULID(now)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	_, refresh, err := svc.tokens.Issue(Snapshot{UserID: ghostID}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Rotate(context.Background(), refresh.Value, now); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("Rotate for unknown user = %v, want ErrIdentityNotFound", err)
	}
}

func TestRotateExpiredRefresh(t *testing.T) {
	store := identity.NewMemoryStore()
	svc := NewService(testManager(t), store)
	now := time.Now().UTC()

	user := seedUser(t, store, "exp@example.com", "Expiring")
	_, refresh, err := svc.Issue(user, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Rotate(context.Background(), refresh.Value, now.Add(8*24*time.Hour)); !errors.Is(err, ErrExpiredRefresh) {
		t.Fatalf("Rotate with expired refresh = %v, want ErrExpiredRefresh", err)
	}
}
