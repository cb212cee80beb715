// Package emo defines the Episodic Memory Object domain model: identity,
// versioning, soft-delete, content hashing, tenancy, and typed links
// between EMOs (spec §3, §4.7). It holds no database code itself — the
// relational projector owns persistence; this package is the shared
// vocabulary both the relational projector and the EMO translator build
// their event payloads against.
package emo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mnemonic-nexus/mnx/internal/platform/canonicaljson"
)

// LinkRelation is one of the three relation kinds a link between EMOs may
// carry.
type LinkRelation string

const (
	RelationDerived    LinkRelation = "derived"
	RelationSupersedes LinkRelation = "supersedes"
	RelationMerges     LinkRelation = "merges"
)

// ValidRelations enumerates every relation kind accepted by link.added
// handlers; used to reject unknown kinds rather than silently storing them.
var ValidRelations = map[LinkRelation]bool{
	RelationDerived:    true,
	RelationSupersedes: true,
	RelationMerges:     true,
}

// Current is the EMO's latest materialized row: one row exists per emo_id,
// overwritten on every mutation (UPSERT), while History preserves every
// (emo_id, emo_version) that ever existed.
type Current struct {
	EMOID       string
	EMOVersion  int
	Content     string
	Tags        []string
	Deleted     bool
	DeletedAt   *string // RFC3339, nil unless Deleted
	ContentHash string
}

// History is one immutable (emo_id, emo_version) record, written once and
// never updated.
type History struct {
	EMOID      string
	EMOVersion int
	Content    string
	Tags       []string
	Op         string // created | updated | deleted
}

// Link is a typed, directed relation between two EMOs, or between an EMO
// and an external URI when Target is empty and URI is set. Unique on
// (source, target|uri, rel).
type Link struct {
	Source string
	Target string // emo_id of the linked EMO, empty if URI is set
	URI    string // external reference, empty if Target is set
	Rel    LinkRelation
}

// Key returns the composite uniqueness key for a link.
func (l Link) Key() string {
	dst := l.Target
	if dst == "" {
		dst = l.URI
	}
	return fmt.Sprintf("%s|%s|%s", l.Source, dst, l.Rel)
}

// ContentHash computes a hash of the EMO's observable content (title+body
// combination, tags), independent of tag order. It is not the same as the
// event's payload_hash: the content hash is a property of the EMO's current
// materialized state, which the relational projector stores on the current
// row. No projector compares it to decide whether a mutation is a replay.
func ContentHash(content string, tags []string) (string, error) {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return canonicaljson.SHA256Hex(struct {
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	}{Content: content, Tags: sorted})
}

// ComposeContent applies the translator's field-mapping rule
// `title + "\n\n" + body → content` (spec §4.7), also reused by native
// emo.* payloads that carry title/body separately.
func ComposeContent(title, body string) string {
	return strings.TrimRight(title+"\n\n"+body, "\n")
}

// ValidateMutation enforces the two invariants every handler must uphold
// before writing a new Current row: version strictly increases, and
// deleted must imply a non-nil DeletedAt (and vice versa).
func ValidateMutation(prevVersion, newVersion int, deleted bool, deletedAt *string) error {
	if newVersion <= prevVersion {
		return fmt.Errorf("emo version must strictly increase: prev=%d new=%d", prevVersion, newVersion)
	}
	if deleted && deletedAt == nil {
		return fmt.Errorf("deleted emo must carry deleted_at")
	}
	if !deleted && deletedAt != nil {
		return fmt.Errorf("non-deleted emo must not carry deleted_at")
	}
	return nil
}
