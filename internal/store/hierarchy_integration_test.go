package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"
)

// Integration tests need a running Postgres. Point
// INKWELL_TEST_DATABASE_URL at a scratch database and run without -short.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("INKWELL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("INKWELL_TEST_DATABASE_URL not set")
	}
	return url
}

func setupStore(t *testing.T) (*PostgresStore, string) {
	t.Helper()
	url := getTestDatabaseURL(t)

	db, err := Open(context.Background(), url)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(context.Background(), db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewPostgresStore(db)
	ownerID := "usr_it_" + time.Now().Format("150405.000000000")
	user := User{
		ID:          ownerID,
		DisplayName: "Integration",
		Email:       ownerID + "@example.com",
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM nodes WHERE owner_id = $1", ownerID)
		_, _ = db.Exec("DELETE FROM users WHERE id = $1", ownerID)
	})
	return st, ownerID
}

func insertTestNode(t *testing.T, st *PostgresStore, node Node) Node {
	t.Helper()
	if err := st.InsertNode(context.Background(), node); err != nil {
		t.Fatalf("insert %s: %v", node.Path, err)
	}
	return node
}

func TestHierarchyRoundTrip(t *testing.T) {
	st, owner := setupStore(t)
	ctx := context.Background()

	folder := insertTestNode(t, st, Node{
		ID: "nod_it_f1", OwnerID: owner, Title: "Chapters", IsFolder: true,
		Path: RootPath + "/Chapters", Metadata: NodeMetadata{Type: "folder"},
	})
	doc := insertTestNode(t, st, Node{
		ID: "nod_it_d1", OwnerID: owner, Title: "Intro",
		Path: RootPath + "/Chapters/Intro", ParentID: &folder.ID,
		Content:  "<p>Hello world</p>",
		Metadata: NodeMetadata{Type: "chapter", WordCount: 2, Status: "draft"},
	})

	t.Run("uniqueness", func(t *testing.T) {
		taken, err := st.PathExists(ctx, owner, RootPath+"/Chapters/Intro")
		if err != nil || !taken {
			t.Fatalf("path exists = %v, %v; want true", taken, err)
		}

		err = st.InsertNode(ctx, Node{
			ID: "nod_it_dup", OwnerID: owner, Title: "Intro",
			Path: RootPath + "/Chapters/Intro", ParentID: &folder.ID,
		})
		if !errors.Is(err, ErrPathTaken) {
			t.Fatalf("duplicate path: got %v, want ErrPathTaken", err)
		}
	})

	t.Run("get by path", func(t *testing.T) {
		got, err := st.GetNodeByPath(ctx, owner, RootPath+"/Chapters/Intro")
		if err != nil {
			t.Fatalf("get by path: %v", err)
		}
		if got.ID != doc.ID || got.Metadata.WordCount != 2 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("children exact depth", func(t *testing.T) {
		insertTestNode(t, st, Node{
			ID: "nod_it_f2", OwnerID: owner, Title: "Act One", IsFolder: true,
			Path: RootPath + "/Chapters/Act One", ParentID: &folder.ID,
			Metadata: NodeMetadata{Type: "folder"},
		})
		insertTestNode(t, st, Node{
			ID: "nod_it_d2", OwnerID: owner, Title: "Scene 1",
			Path: RootPath + "/Chapters/Act One/Scene 1",
			Metadata: NodeMetadata{Type: "scene"},
		})

		children, err := st.ListChildren(ctx, owner, RootPath+"/Chapters")
		if err != nil {
			t.Fatalf("list children: %v", err)
		}
		if len(children) != 2 {
			t.Fatalf("children = %d, want 2 (grandchild excluded)", len(children))
		}
		if !children[0].IsFolder {
			t.Errorf("folders should sort first, got %+v", children[0])
		}
	})

	t.Run("rename cascade", func(t *testing.T) {
		err := st.RewriteSubtreePaths(ctx, owner, folder.ID, "Parts",
			RootPath+"/Chapters", RootPath+"/Parts", false, nil)
		if err != nil {
			t.Fatalf("rewrite: %v", err)
		}

		moved, err := st.GetNode(ctx, owner, "nod_it_d2")
		if err != nil {
			t.Fatalf("get descendant: %v", err)
		}
		if moved.Path != RootPath+"/Parts/Act One/Scene 1" {
			t.Errorf("descendant path = %q", moved.Path)
		}

		renamed, _ := st.GetNode(ctx, owner, folder.ID)
		if renamed.Title != "Parts" || renamed.Path != RootPath+"/Parts" {
			t.Errorf("renamed node = %+v", renamed)
		}
	})

	t.Run("ancestors by paths", func(t *testing.T) {
		nodes, err := st.ListByPaths(ctx, owner, []string{
			RootPath + "/Parts", RootPath + "/Parts/Act One",
		})
		if err != nil {
			t.Fatalf("list by paths: %v", err)
		}
		if len(nodes) != 2 || nodes[0].Path != RootPath+"/Parts" {
			t.Errorf("nodes = %+v", nodes)
		}
	})

	t.Run("update content", func(t *testing.T) {
		content := "<p>one two three</p>"
		wc := 3
		if err := st.UpdateNode(ctx, owner, doc.ID, NodeUpdate{Content: &content, WordCount: &wc}); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, _ := st.GetNode(ctx, owner, doc.ID)
		if got.Content != content || got.Metadata.WordCount != 3 {
			t.Errorf("after update: content=%q wc=%d", got.Content, got.Metadata.WordCount)
		}
	})

	t.Run("delete cascade count", func(t *testing.T) {
		count, err := st.DeleteSubtree(ctx, owner, RootPath+"/Parts")
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if count != 4 {
			t.Errorf("deleted = %d, want 4", count)
		}
		if _, err := st.GetNode(ctx, owner, doc.ID); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("doc should be gone, got %v", err)
		}
	})
}

// A cascade that collides with an existing path must roll back as a
// whole. Descendants are rewritten before the node itself, so the
// conflict on the node's own row is the interesting failure point.
func TestRenameCascadeAtomicity(t *testing.T) {
	st, owner := setupStore(t)
	ctx := context.Background()

	folder := insertTestNode(t, st, Node{
		ID: "nod_at_f1", OwnerID: owner, Title: "Acts", IsFolder: true,
		Path: RootPath + "/Acts", Metadata: NodeMetadata{Type: "folder"},
	})
	child := insertTestNode(t, st, Node{
		ID: "nod_at_d1", OwnerID: owner, Title: "Opening",
		Path: RootPath + "/Acts/Opening", ParentID: &folder.ID,
		Metadata: NodeMetadata{Type: "scene"},
	})
	insertTestNode(t, st, Node{
		ID: "nod_at_f2", OwnerID: owner, Title: "Archive", IsFolder: true,
		Path: RootPath + "/Archive", Metadata: NodeMetadata{Type: "folder"},
	})

	err := st.RewriteSubtreePaths(ctx, owner, folder.ID, "Archive",
		RootPath+"/Acts", RootPath+"/Archive", false, nil)
	if !errors.Is(err, ErrPathTaken) {
		t.Fatalf("rename onto taken path: got %v, want ErrPathTaken", err)
	}

	// The descendant rewrite that ran before the conflict was rolled back.
	got, err := st.GetNode(ctx, owner, child.ID)
	if err != nil {
		t.Fatalf("reload child: %v", err)
	}
	if got.Path != RootPath+"/Acts/Opening" {
		t.Errorf("child path after rollback = %q, want %s/Acts/Opening", got.Path, RootPath)
	}
	unchanged, err := st.GetNode(ctx, owner, folder.ID)
	if err != nil {
		t.Fatalf("reload folder: %v", err)
	}
	if unchanged.Title != "Acts" || unchanged.Path != RootPath+"/Acts" {
		t.Errorf("folder after rollback = %q at %q, want Acts at %s/Acts",
			unchanged.Title, unchanged.Path, RootPath)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/root/plain", "/root/plain"},
		{"/root/100% done", "/root/100\\% done"},
		{"/root/a_b", "/root/a\\_b"},
		{`/root/back\slash`, `/root/back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
