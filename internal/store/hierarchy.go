package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const nodeColumns = `id, owner_id, title, is_folder, path, parent_id, content, metadata, created_at, updated_at`

func scanNode(row interface{ Scan(...any) error }) (Node, error) {
	var node Node
	var metadataRaw []byte
	err := row.Scan(
		&node.ID,
		&node.OwnerID,
		&node.Title,
		&node.IsFolder,
		&node.Path,
		&node.ParentID,
		&node.Content,
		&metadataRaw,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err != nil {
		return Node{}, err
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &node.Metadata); err != nil {
			return Node{}, fmt.Errorf("decode node metadata: %w", err)
		}
	}
	return node, nil
}

// escapeLike neutralizes LIKE wildcards so a path containing % or _ only
// matches itself as a prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func (s *PostgresStore) InsertNode(ctx context.Context, node Node) error {
	metadata, err := json.Marshal(node.Metadata)
	if err != nil {
		return fmt.Errorf("encode node metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, owner_id, title, is_folder, path, parent_id, content, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
	`, node.ID, node.OwnerID, node.Title, node.IsFolder, node.Path, node.ParentID, node.Content, string(metadata))
	if isUniqueViolation(err) {
		return ErrPathTaken
	}
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNode(ctx context.Context, ownerID, nodeID string) (Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes WHERE owner_id=$1 AND id=$2
	`, ownerID, nodeID)
	return scanNode(row)
}

func (s *PostgresStore) GetNodeByPath(ctx context.Context, ownerID, path string) (Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes WHERE owner_id=$1 AND path=$2
	`, ownerID, path)
	return scanNode(row)
}

func (s *PostgresStore) PathExists(ctx context.Context, ownerID, path string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM nodes WHERE owner_id=$1 AND path=$2)
	`, ownerID, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check path: %w", err)
	}
	return exists, nil
}

// ListChildren returns the direct children of parentPath, folders first then
// title ascending. Grandchildren are excluded by the second LIKE guard.
func (s *PostgresStore) ListChildren(ctx context.Context, ownerID, parentPath string) ([]Node, error) {
	prefix := escapeLike(parentPath)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE owner_id=$1
		  AND path LIKE $2
		  AND path NOT LIKE $3
		ORDER BY is_folder DESC, title ASC
	`, ownerID, prefix+`/%`, prefix+`/%/%`)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	items := make([]Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child node: %w", err)
		}
		items = append(items, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return items, nil
}

// ListByPaths resolves the given exact paths, ordered by path ascending.
// For a set of ancestor prefixes that ordering is root-most first.
func (s *PostgresStore) ListByPaths(ctx context.Context, ownerID string, paths []string) ([]Node, error) {
	if len(paths) == 0 {
		return []Node{}, nil
	}
	placeholders := make([]string, len(paths))
	args := make([]any, 0, len(paths)+1)
	args = append(args, ownerID)
	for i, path := range paths {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, path)
	}
	query := `
		SELECT ` + nodeColumns + `
		FROM nodes
		WHERE owner_id=$1 AND path IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY path ASC
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list by paths: %w", err)
	}
	defer rows.Close()

	items := make([]Node, 0, len(paths))
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		items = append(items, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return items, nil
}

// ListSubtree returns the node at path plus every descendant, ordered by
// path ascending (parents before their children).
func (s *PostgresStore) ListSubtree(ctx context.Context, ownerID, path string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+nodeColumns+`
		FROM nodes
		WHERE owner_id=$1 AND (path=$2 OR path LIKE $3)
		ORDER BY path ASC
	`, ownerID, path, escapeLike(path)+`/%`)
	if err != nil {
		return nil, fmt.Errorf("list subtree: %w", err)
	}
	defer rows.Close()

	items := make([]Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subtree node: %w", err)
		}
		items = append(items, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtree: %w", err)
	}
	return items, nil
}

// RewriteSubtreePaths retitles and repaths a node and rewrites the path
// prefix of every descendant in one transaction, so no reader observes a
// partially-updated subtree. When setParent is true the node's parent_id is
// replaced with newParentID (nil for a root-level destination); renames keep
// the existing parent.
func (s *PostgresStore) RewriteSubtreePaths(ctx context.Context, ownerID, nodeID, newTitle, oldPath, newPath string, setParent bool, newParentID *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cascade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE nodes
		SET path = $3 || substr(path, char_length($2) + 1), updated_at=NOW()
		WHERE owner_id=$1 AND path LIKE $4
	`, ownerID, oldPath, newPath, escapeLike(oldPath)+`/%`)
	if isUniqueViolation(err) {
		return ErrPathTaken
	}
	if err != nil {
		return fmt.Errorf("rewrite descendant paths: %w", err)
	}

	if setParent {
		_, err = tx.ExecContext(ctx, `
			UPDATE nodes
			SET title=$3, path=$4, parent_id=$5, updated_at=NOW()
			WHERE owner_id=$1 AND id=$2
		`, ownerID, nodeID, newTitle, newPath, newParentID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE nodes
			SET title=$3, path=$4, updated_at=NOW()
			WHERE owner_id=$1 AND id=$2
		`, ownerID, nodeID, newTitle, newPath)
	}
	if isUniqueViolation(err) {
		return ErrPathTaken
	}
	if err != nil {
		return fmt.Errorf("rewrite node path: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrPathTaken
		}
		return fmt.Errorf("commit cascade tx: %w", err)
	}
	return nil
}

// DeleteSubtree removes the node at path and every descendant, returning the
// number of rows removed.
func (s *PostgresStore) DeleteSubtree(ctx context.Context, ownerID, path string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM nodes
		WHERE owner_id=$1 AND (path=$2 OR path LIKE $3)
	`, ownerID, path, escapeLike(path)+`/%`)
	if err != nil {
		return 0, fmt.Errorf("delete subtree: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete subtree rows: %w", err)
	}
	return int(affected), nil
}

// UpdateNode applies an in-place update (content, word count, metadata).
// Structural changes go through RewriteSubtreePaths instead.
func (s *PostgresStore) UpdateNode(ctx context.Context, ownerID, nodeID string, upd NodeUpdate) error {
	sets := make([]string, 0, 4)
	args := []any{ownerID, nodeID}
	argN := 3

	if upd.Content != nil {
		sets = append(sets, fmt.Sprintf("content=$%d", argN))
		args = append(args, *upd.Content)
		argN++
	}
	if upd.Metadata != nil {
		encoded, err := json.Marshal(upd.Metadata)
		if err != nil {
			return fmt.Errorf("encode node metadata: %w", err)
		}
		sets = append(sets, fmt.Sprintf("metadata=$%d::jsonb", argN))
		args = append(args, string(encoded))
		argN++
	} else if upd.WordCount != nil {
		sets = append(sets, fmt.Sprintf("metadata = metadata || jsonb_build_object('wordCount', $%d::int)", argN))
		args = append(args, *upd.WordCount)
		argN++
	}
	if upd.UpdatedAt != nil {
		sets = append(sets, fmt.Sprintf("updated_at=$%d", argN))
		args = append(args, *upd.UpdatedAt)
	} else {
		sets = append(sets, "updated_at=NOW()")
	}

	if len(sets) == 1 && upd.UpdatedAt == nil {
		return nil
	}

	query := `UPDATE nodes SET ` + strings.Join(sets, ", ") + ` WHERE owner_id=$1 AND id=$2`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update node rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
