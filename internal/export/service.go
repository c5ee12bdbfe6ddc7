package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"inkwell/api/internal/store"
)

// NodeSource provides the hierarchy data needed to compile a manuscript.
type NodeSource interface {
	GetNode(ctx context.Context, ownerID, id string) (store.Node, error)
	ListSubtree(ctx context.Context, ownerID, path string) ([]store.Node, error)
}

// Service compiles a node and its descendants into a manuscript export.
type Service struct {
	store NodeSource
}

// NewService creates a new export service
func NewService(store NodeSource) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format. Exporting a folder
// compiles the whole subtree in path order; exporting a document renders
// just that document.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	root, err := s.store.GetNode(ctx, req.OwnerID, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}

	subtree, err := s.store.ListSubtree(ctx, req.OwnerID, root.Path)
	if err != nil {
		return nil, fmt.Errorf("list subtree: %w", err)
	}

	data := buildManuscript(root, subtree)

	html, err := RenderManuscriptHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, root.Title)
	case FormatDOCX:
		return exportDOCX(html, root.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

// buildManuscript flattens the subtree into template sections. The root
// node supplies the manuscript title and is not repeated as a section.
func buildManuscript(root store.Node, subtree []store.Node) TemplateData {
	data := TemplateData{
		Title:       root.Title,
		GeneratedAt: time.Now(),
	}

	for _, node := range subtree {
		if node.ID == root.ID {
			// A document exported directly is its own single section.
			if !root.IsFolder {
				data.WordCount += root.Metadata.WordCount
				data.Sections = append(data.Sections, TemplateSection{
					Title:    root.Title,
					Depth:    1,
					Synopsis: root.Metadata.Synopsis,
					BodyHTML: template.HTML(root.Content),
				})
			}
			continue
		}

		section := TemplateSection{
			Title:    node.Title,
			Depth:    relativeDepth(root.Path, node.Path),
			IsFolder: node.IsFolder,
		}
		if !node.IsFolder {
			section.Synopsis = node.Metadata.Synopsis
			section.BodyHTML = template.HTML(node.Content)
			data.WordCount += node.Metadata.WordCount
		}
		data.Sections = append(data.Sections, section)
	}

	return data
}

// relativeDepth counts path segments below the export root. Direct
// children sit at depth 1.
func relativeDepth(rootPath, nodePath string) int {
	rel := strings.TrimPrefix(nodePath, rootPath)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return 1
	}
	return strings.Count(rel, "/") + 1
}
