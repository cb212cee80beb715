package emo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemonic-nexus/mnx/internal/emo"
)

func TestComposeContent(t *testing.T) {
	tests := []struct {
		name  string
		title string
		body  string
		want  string
	}{
		{"title and body", "Title", "Body", "Title\n\nBody"},
		{"empty body trims trailing newlines", "Title", "", "Title"},
		{"empty title", "", "Body", "\n\nBody"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, emo.ComposeContent(tc.title, tc.body))
		})
	}
}

func TestContentHash_TagOrderIndependent(t *testing.T) {
	h1, err := emo.ContentHash("hello", []string{"b", "a"})
	require.NoError(t, err)
	h2, err := emo.ContentHash("hello", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestContentHash_ContentChangeChangesHash(t *testing.T) {
	h1, err := emo.ContentHash("hello", nil)
	require.NoError(t, err)
	h2, err := emo.ContentHash("goodbye", nil)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestLink_Key(t *testing.T) {
	targetLink := emo.Link{Source: "emo1", Target: "emo2", Rel: emo.RelationDerived}
	assert.Equal(t, "emo1|emo2|derived", targetLink.Key())

	uriLink := emo.Link{Source: "emo1", URI: "https://example.com/doc", Rel: emo.RelationSupersedes}
	assert.Equal(t, "emo1|https://example.com/doc|supersedes", uriLink.Key())
}

func TestValidRelations(t *testing.T) {
	assert.True(t, emo.ValidRelations[emo.RelationDerived])
	assert.True(t, emo.ValidRelations[emo.RelationSupersedes])
	assert.True(t, emo.ValidRelations[emo.RelationMerges])
	assert.False(t, emo.ValidRelations[emo.LinkRelation("unknown")])
}

func TestValidateMutation(t *testing.T) {
	deletedAt := "2026-01-01T00:00:00Z"

	tests := []struct {
		name        string
		prevVersion int
		newVersion  int
		deleted     bool
		deletedAt   *string
		wantErr     bool
	}{
		{"version strictly increases", 1, 2, false, nil, false},
		{"version does not increase", 2, 2, false, nil, true},
		{"version regresses", 3, 2, false, nil, true},
		{"deleted without deleted_at", 1, 2, true, nil, true},
		{"deleted with deleted_at", 1, 2, true, &deletedAt, false},
		{"not deleted but carries deleted_at", 1, 2, false, &deletedAt, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := emo.ValidateMutation(tc.prevVersion, tc.newVersion, tc.deleted, tc.deletedAt)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
