package branch_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mnemonic-nexus/mnx/internal/branch"
	"github.com/mnemonic-nexus/mnx/internal/platform/apierr"
)

func TestCreate_RequiresName(t *testing.T) {
	r := branch.New(nil)
	_, err := r.Create(context.Background(), branch.CreateParams{
		WorldID:   uuid.New(),
		CreatedBy: "tester",
	})
	assert.ErrorIs(t, err, apierr.ErrValidation)
}

func TestCreate_RequiresCreatedBy(t *testing.T) {
	r := branch.New(nil)
	_, err := r.Create(context.Background(), branch.CreateParams{
		WorldID: uuid.New(),
		Name:    "main",
	})
	assert.ErrorIs(t, err, apierr.ErrValidation)
}

// Create's insert path, Get, and List all require a live pgxpool.Pool and
// are exercised by integration tests against a real database rather than
// here.
