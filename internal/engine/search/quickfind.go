package search

import (
	"context"
	"path"
	"strings"

	"zira/internal/core/ports"
	"zira/internal/engine/index"
)

// DefaultQuickFindLimit bounds QuickFind when no limit is given.
const DefaultQuickFindLimit = 50

// Hit is one quick-find entry. Label is prefixed by the declaration kind
// ("class: Repo") or is the file path for file-name hits.
type Hit struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	Line  int    `json:"line"`
}

var kindLabels = map[ports.DeclarationKind]string{
	ports.KindClass:     "class: ",
	ports.KindInterface: "class: ",
	ports.KindMethod:    "method: ",
	ports.KindFunction:  "function: ",
}

// QuickFind matches text case-insensitively as a prefix of declaration
// names in snap, then as a substring of file names. emit, when non-nil,
// receives each hit as it is found.
func QuickFind(ctx context.Context, snap *index.Snapshot, text string, limit int, emit func(Hit)) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if snap == nil || text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultQuickFindLimit
	}
	needle := strings.ToLower(text)
	var out []Hit
	add := func(h Hit) bool {
		out = append(out, h)
		if emit != nil {
			emit(h)
		}
		return len(out) < limit
	}

	// FindAllByPrefix is case-sensitive, so walk everything and filter.
	for d := range snap.FindAllByPrefix("") {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		label, ok := kindLabels[d.Kind]
		if !ok || !strings.HasPrefix(strings.ToLower(d.Name), needle) {
			continue
		}
		if !add(Hit{Label: label + d.FullName, Path: d.Path, Line: d.Line}) {
			return out, nil
		}
	}

	for _, p := range snap.Files() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !strings.Contains(strings.ToLower(path.Base(p)), needle) {
			continue
		}
		if !add(Hit{Label: p, Path: p, Line: 1}) {
			return out, nil
		}
	}
	return out, nil
}
