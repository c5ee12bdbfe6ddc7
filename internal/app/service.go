// Package app holds the application service and HTTP surface.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// dataStore is the subset of the Postgres store the service depends on.
type dataStore interface {
	InsertNode(ctx context.Context, node store.Node) error
	GetNode(ctx context.Context, ownerID, nodeID string) (store.Node, error)
	GetNodeByPath(ctx context.Context, ownerID, path string) (store.Node, error)
	ListChildren(ctx context.Context, ownerID, parentPath string) ([]store.Node, error)
	ListByPaths(ctx context.Context, ownerID string, paths []string) ([]store.Node, error)
	ListSubtree(ctx context.Context, ownerID, path string) ([]store.Node, error)
	RewriteSubtreePaths(ctx context.Context, ownerID, nodeID, newTitle, oldPath, newPath string, setParent bool, newParentID *string) error
	DeleteSubtree(ctx context.Context, ownerID, path string) (int, error)
	UpdateNode(ctx context.Context, ownerID, nodeID string, upd store.NodeUpdate) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Backed by Redis, with the Postgres
// store as fallback when Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// searchIndex receives node changes and answers queries. Nil-safe via
// the noopSearch default.
type searchIndex interface {
	Search(q search.Query) ([]search.Result, int, error)
	IndexNode(record search.NodeRecord)
	IndexNodes(records []search.NodeRecord)
	DeleteNodes(ids []string)
	Status() map[string]string
}

type noopSearch struct{}

func (noopSearch) Search(search.Query) ([]search.Result, int, error) {
	return nil, 0, errors.New("search not configured")
}
func (noopSearch) IndexNode(search.NodeRecord)    {}
func (noopSearch) IndexNodes([]search.NodeRecord) {}
func (noopSearch) DeleteNodes([]string)           {}
func (noopSearch) Status() map[string]string {
	return map[string]string{"search": "not configured"}
}

// Service implements the application operations on top of the stores.
type Service struct {
	store    dataStore
	sessions sessionStore
	search   searchIndex

	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewService wires the application service. searchSvc may be nil.
func NewService(st dataStore, sessions sessionStore, searchSvc searchIndex, jwtSecret []byte, accessTTL, refreshTTL time.Duration) *Service {
	if searchSvc == nil {
		searchSvc = noopSearch{}
	}
	return &Service{
		store:      st,
		sessions:   sessions,
		search:     searchSvc,
		jwtSecret:  jwtSecret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Ping reports storage health.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SearchStatus reports search backend health for readiness checks.
func (s *Service) SearchStatus() map[string]string {
	return s.search.Status()
}

// Session is an authenticated session returned to the client.
type Session struct {
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// IssueSession mints an access token and refresh token for a user.
func (s *Service) IssueSession(ctx context.Context, user store.User) (*Session, error) {
	expiresAt := time.Now().Add(s.accessTTL)
	token, err := auth.IssueToken(s.jwtSecret, auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  util.NewID("jti"),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	refreshToken := util.NewID("rft") + util.NewID("")
	refreshExpiry := time.Now().Add(s.refreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, refreshExpiry); err != nil {
		return nil, fmt.Errorf("save refresh session: %w", err)
	}

	return &Session{
		UserID:       user.ID,
		DisplayName:  user.DisplayName,
		Email:        user.Email,
		Token:        token,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and returns the caller identity.
func (s *Service) SessionFromToken(ctx context.Context, token string) (auth.Claims, error) {
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		return auth.Claims{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return auth.Claims{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a fresh session. The old refresh
// token is rotated out.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	hash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}

	// The session store may carry only the user ID.
	full, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}

	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return nil, fmt.Errorf("rotate refresh session: %w", err)
	}
	return s.IssueSession(ctx, full)
}

// Logout revokes both the access token and the refresh token.
func (s *Service) Logout(ctx context.Context, token, refreshToken string) error {
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err == nil {
		if err := s.store.RevokeAccessToken(ctx, claims.JTI, time.Unix(claims.Exp, 0)); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return fmt.Errorf("revoke refresh session: %w", err)
		}
	}
	return nil
}

// Document kinds a node may carry. Folders always use kindFolder.
const kindFolder = "folder"

var documentKinds = map[string]bool{
	"chapter":   true,
	"scene":     true,
	"note":      true,
	"character": true,
	"plotline":  true,
}

const defaultKind = "note"
const defaultStatus = "draft"

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// countWords strips markup and counts whitespace-separated words.
func countWords(content string) int {
	text := htmlTagPattern.ReplaceAllString(content, "")
	return len(strings.Fields(text))
}

// validTitle rejects empty titles and titles that would break the path
// encoding.
func validTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return badRequest("title is required")
	}
	if strings.Contains(title, "/") {
		return badRequest("title must not contain '/'")
	}
	return nil
}

// resolveParent returns the parent node for a path, treating the virtual
// root as a nil parent. Non-folder parents are rejected.
func (s *Service) resolveParent(ctx context.Context, ownerID, parentPath string) (*store.Node, error) {
	if parentPath == store.RootPath {
		return nil, nil
	}
	if !strings.HasPrefix(parentPath, store.RootPath+"/") {
		return nil, badRequest("parent path must start with " + store.RootPath)
	}
	parent, err := s.store.GetNodeByPath(ctx, ownerID, parentPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, badRequest("parent path does not exist")
		}
		return nil, fmt.Errorf("resolve parent: %w", err)
	}
	if !parent.IsFolder {
		return nil, badRequest("parent must be a folder")
	}
	return &parent, nil
}

// CreateNodeRequest carries parameters for creating a folder or document.
type CreateNodeRequest struct {
	Title      string              `json:"title"`
	ParentPath string              `json:"parentPath"`
	IsFolder   bool                `json:"isFolder"`
	Content    string              `json:"content"`
	Metadata   *store.NodeMetadata `json:"metadata"`
}

// CreateNode inserts a new node under the given parent path.
func (s *Service) CreateNode(ctx context.Context, ownerID string, req CreateNodeRequest) (store.Node, error) {
	title := strings.TrimSpace(req.Title)
	if err := validTitle(title); err != nil {
		return store.Node{}, err
	}

	parentPath := req.ParentPath
	if parentPath == "" {
		parentPath = store.RootPath
	}
	parent, err := s.resolveParent(ctx, ownerID, parentPath)
	if err != nil {
		return store.Node{}, err
	}

	metadata := store.NodeMetadata{}
	if req.Metadata != nil {
		metadata = *req.Metadata
	}
	if req.IsFolder {
		metadata = store.NodeMetadata{Type: kindFolder, Status: defaultStatus}
	} else {
		if metadata.Type == "" {
			metadata.Type = defaultKind
		}
		if !documentKinds[metadata.Type] {
			return store.Node{}, badRequest("unknown document type: " + metadata.Type)
		}
		if metadata.Status == "" {
			metadata.Status = defaultStatus
		}
		metadata.WordCount = countWords(req.Content)
	}

	node := store.Node{
		ID:       util.NewID("nod"),
		OwnerID:  ownerID,
		Title:    title,
		IsFolder: req.IsFolder,
		Path:     parentPath + "/" + title,
		Content:  req.Content,
		Metadata: metadata,
	}
	if parent != nil {
		node.ParentID = &parent.ID
	}

	if err := s.store.InsertNode(ctx, node); err != nil {
		if errors.Is(err, store.ErrPathTaken) {
			return store.Node{}, conflict("a node with this title already exists here")
		}
		return store.Node{}, fmt.Errorf("insert node: %w", err)
	}

	created, err := s.store.GetNode(ctx, ownerID, node.ID)
	if err != nil {
		return store.Node{}, fmt.Errorf("load created node: %w", err)
	}
	s.indexNode(created)
	return created, nil
}

// ListChildren returns the direct children of a folder path. Folders sort
// before documents, each group alphabetical.
func (s *Service) ListChildren(ctx context.Context, ownerID, parentPath string) ([]store.Node, error) {
	if parentPath == "" {
		parentPath = store.RootPath
	}
	if parentPath != store.RootPath && !strings.HasPrefix(parentPath, store.RootPath+"/") {
		return nil, badRequest("path must start with " + store.RootPath)
	}
	return s.store.ListChildren(ctx, ownerID, parentPath)
}

// NodeWithAncestors pairs a node with its ancestor chain, outermost first.
type NodeWithAncestors struct {
	Node      store.Node   `json:"document"`
	Ancestors []store.Node `json:"ancestors"`
}

// ancestorPaths returns every proper prefix of a path below the root.
// "/root/A/B/C" yields "/root/A" and "/root/A/B".
func ancestorPaths(path string) []string {
	rel := strings.TrimPrefix(path, store.RootPath+"/")
	segments := strings.Split(rel, "/")
	paths := make([]string, 0, len(segments)-1)
	current := store.RootPath
	for _, segment := range segments[:len(segments)-1] {
		current = current + "/" + segment
		paths = append(paths, current)
	}
	return paths
}

// GetNodeWithAncestors loads a node plus its ancestor chain for
// breadcrumb rendering.
func (s *Service) GetNodeWithAncestors(ctx context.Context, ownerID, nodeID string) (*NodeWithAncestors, error) {
	node, err := s.store.GetNode(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}

	paths := ancestorPaths(node.Path)
	ancestors, err := s.store.ListByPaths(ctx, ownerID, paths)
	if err != nil {
		return nil, fmt.Errorf("list ancestors: %w", err)
	}
	return &NodeWithAncestors{Node: node, Ancestors: ancestors}, nil
}

// MetadataPatch is a partial metadata update. Only keys present in the
// request body overwrite the stored values, so an autosave that carries
// just a status change cannot wipe the synopsis saved earlier.
type MetadataPatch struct {
	Type       *string   `json:"type"`
	Status     *string   `json:"status"`
	Synopsis   *string   `json:"synopsis"`
	Characters *[]string `json:"characters"`
	Location   *string   `json:"location"`
	Timeline   *string   `json:"timeline"`
}

// UpdateNodeRequest carries a partial update. Nil fields are untouched.
type UpdateNodeRequest struct {
	Title         *string        `json:"title"`
	Content       *string        `json:"content"`
	Metadata      *MetadataPatch `json:"metadata"`
	NewParentPath *string        `json:"newParentPath"`
	UpdatedAt     *time.Time     `json:"updatedAt"`
}

// UpdateNode applies rename, move, content, and metadata changes. Rename
// and move rewrite the paths of the whole subtree in one transaction.
func (s *Service) UpdateNode(ctx context.Context, ownerID, nodeID string, req UpdateNodeRequest) (store.Node, error) {
	node, err := s.store.GetNode(ctx, ownerID, nodeID)
	if err != nil {
		return store.Node{}, err
	}

	title := node.Title
	if req.Title != nil {
		title = strings.TrimSpace(*req.Title)
		if err := validTitle(title); err != nil {
			return store.Node{}, err
		}
	}

	parentPath := parentOf(node.Path)
	setParent := false
	var newParentID *string
	if req.NewParentPath != nil {
		target := *req.NewParentPath
		if target == "" {
			target = store.RootPath
		}
		if node.Path == target || strings.HasPrefix(target, node.Path+"/") {
			return store.Node{}, badRequest("cannot move a node into itself or its descendants")
		}
		parent, err := s.resolveParent(ctx, ownerID, target)
		if err != nil {
			return store.Node{}, err
		}
		parentPath = target
		setParent = true
		if parent != nil {
			newParentID = &parent.ID
		}
	}

	newPath := parentPath + "/" + title
	pathChanged := newPath != node.Path
	if pathChanged {
		err := s.store.RewriteSubtreePaths(ctx, ownerID, nodeID, title, node.Path, newPath, setParent, newParentID)
		if err != nil {
			if errors.Is(err, store.ErrPathTaken) {
				return store.Node{}, conflict("a node with this title already exists here")
			}
			return store.Node{}, fmt.Errorf("rewrite paths: %w", err)
		}
	}

	upd := store.NodeUpdate{UpdatedAt: req.UpdatedAt}
	if req.Content != nil {
		upd.Content = req.Content
		wc := countWords(*req.Content)
		upd.WordCount = &wc
	}
	if req.Metadata != nil {
		merged := mergeMetadata(node.Metadata, *req.Metadata, node.IsFolder)
		if !node.IsFolder && !documentKinds[merged.Type] {
			return store.Node{}, badRequest("unknown document type: " + merged.Type)
		}
		if upd.WordCount != nil {
			merged.WordCount = *upd.WordCount
		}
		upd.Metadata = &merged
	}
	if upd.Content != nil || upd.Metadata != nil || upd.WordCount != nil || upd.UpdatedAt != nil {
		if err := s.store.UpdateNode(ctx, ownerID, nodeID, upd); err != nil {
			return store.Node{}, err
		}
	}

	updated, err := s.store.GetNode(ctx, ownerID, nodeID)
	if err != nil {
		return store.Node{}, fmt.Errorf("load updated node: %w", err)
	}
	s.indexNode(updated)

	// A cascaded rename or move changed every descendant's path, and the
	// index serves paths in search results.
	if pathChanged && node.IsFolder {
		subtree, err := s.store.ListSubtree(ctx, ownerID, updated.Path)
		if err != nil {
			return store.Node{}, fmt.Errorf("list subtree for reindex: %w", err)
		}
		s.indexSubtree(subtree)
	}
	return updated, nil
}

// mergeMetadata overlays the provided patch keys onto the stored
// metadata. Folders keep their fixed type; word count is managed by the
// server.
func mergeMetadata(current store.NodeMetadata, patch MetadataPatch, isFolder bool) store.NodeMetadata {
	merged := current
	if isFolder {
		merged.Type = kindFolder
	} else if patch.Type != nil && *patch.Type != "" {
		merged.Type = *patch.Type
	}
	if patch.Status != nil && *patch.Status != "" {
		merged.Status = *patch.Status
	}
	if patch.Synopsis != nil {
		merged.Synopsis = *patch.Synopsis
	}
	if patch.Characters != nil {
		merged.Characters = *patch.Characters
	}
	if patch.Location != nil {
		merged.Location = *patch.Location
	}
	if patch.Timeline != nil {
		merged.Timeline = *patch.Timeline
	}
	return merged
}

// DeleteNode removes a node and its whole subtree. Returns how many
// nodes were deleted.
func (s *Service) DeleteNode(ctx context.Context, ownerID, nodeID string) (int, error) {
	node, err := s.store.GetNode(ctx, ownerID, nodeID)
	if err != nil {
		return 0, err
	}

	subtree, err := s.store.ListSubtree(ctx, ownerID, node.Path)
	if err != nil {
		return 0, fmt.Errorf("list subtree: %w", err)
	}

	count, err := s.store.DeleteSubtree(ctx, ownerID, node.Path)
	if err != nil {
		return 0, fmt.Errorf("delete subtree: %w", err)
	}

	ids := make([]string, 0, len(subtree))
	for _, n := range subtree {
		if !n.IsFolder {
			ids = append(ids, n.ID)
		}
	}
	s.search.DeleteNodes(ids)
	return count, nil
}

// Search runs an owner-scoped full-text query.
func (s *Service) Search(ctx context.Context, q search.Query) ([]search.Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, badRequest("search query is required")
	}
	return s.search.Search(q)
}

func searchRecord(node store.Node) search.NodeRecord {
	return search.NodeRecord{
		ID:       node.ID,
		OwnerID:  node.OwnerID,
		Title:    node.Title,
		Content:  node.Content,
		Synopsis: node.Metadata.Synopsis,
		Path:     node.Path,
		Kind:     node.Metadata.Type,
		Status:   node.Metadata.Status,
	}
}

func (s *Service) indexNode(node store.Node) {
	if node.IsFolder {
		return
	}
	s.search.IndexNode(searchRecord(node))
}

func (s *Service) indexSubtree(nodes []store.Node) {
	records := make([]search.NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		if n.IsFolder {
			continue
		}
		records = append(records, searchRecord(n))
	}
	s.search.IndexNodes(records)
}

// parentOf returns the parent path of a node path.
func parentOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return store.RootPath
	}
	return path[:idx]
}
