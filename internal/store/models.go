package store

import "time"

// RootPath is the sentinel path every owner's hierarchy hangs off.
// It never corresponds to a stored row.
const RootPath = "/root"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NodeMetadata mirrors the metadata block stored as JSONB on every node.
// For folders Type is always "folder"; for documents it is one of the
// content kinds (chapter, scene, note, character, plotline).
type NodeMetadata struct {
	Type       string   `json:"type"`
	WordCount  int      `json:"wordCount"`
	Status     string   `json:"status"`
	Synopsis   string   `json:"synopsis,omitempty"`
	Characters []string `json:"characters,omitempty"`
	Location   string   `json:"location,omitempty"`
	Timeline   string   `json:"timeline,omitempty"`
}

// Node is a document or folder in an owner's hierarchy. Path is the
// materialized ancestry ("/root/<...>/<title>") and is the source of truth
// for tree queries; ParentID is a denormalized back-reference kept in step
// with Path on every structural mutation.
type Node struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"ownerId"`
	Title     string       `json:"title"`
	IsFolder  bool         `json:"isFolder"`
	Path      string       `json:"path"`
	ParentID  *string      `json:"parentId"`
	Content   string       `json:"content"`
	Metadata  NodeMetadata `json:"metadata"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// NodeUpdate describes a partial in-place update; nil fields are untouched.
// Structural changes (title, parent) go through the cascade operations
// instead.
type NodeUpdate struct {
	Content   *string
	WordCount *int
	Metadata  *NodeMetadata
	UpdatedAt *time.Time
}
