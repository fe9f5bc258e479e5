package app

import (
	"context"

	"zira/internal/core/jobs"
	"zira/internal/engine/scan"
	"zira/internal/engine/search"
)

// LintRequest checks one document. Text wins over Path when both are set;
// Language overrides detection by extension.
type LintRequest struct {
	Path     string `json:"path"`
	Text     []byte `json:"-"`
	Language string `json:"language,omitempty"`
}

// ParseRequest runs a single analyzer over a document.
type ParseRequest struct {
	Path string `json:"path"`
	Text []byte `json:"-"`
}

// StyleRequest runs the style checks. Standard is handed to the external
// style command as --standard.
type StyleRequest struct {
	Path     string `json:"path"`
	Text     []byte `json:"-"`
	Standard string `json:"standard,omitempty"`
}

type ScanRequest struct {
	Root    string        `json:"root"`
	Mode    scan.Mode     `json:"mode"`
	Paths   []string      `json:"paths,omitempty"`
	Renames []scan.Rename `json:"renames,omitempty"`
}

// ReplaceLatest lets a newer full or refresh scan supersede a waiting one.
// Targeted scans carry distinct paths and must all run.
func (r ScanRequest) ReplaceLatest() bool { return r.Mode != scan.ModePaths }

type SearchRequest struct {
	search.Options
}

type QuickFindRequest struct {
	Root  string `json:"root"`
	Text  string `json:"text"`
	Limit int    `json:"limit,omitempty"`
}

// VcsRequest runs git in Dir. Commands outside the read-only set need
// Confirmed.
type VcsRequest struct {
	Dir       string   `json:"dir"`
	Args      []string `json:"args"`
	Confirmed bool     `json:"confirmed"`
}

type CommandRequest struct {
	Name  string   `json:"name"`
	Args  []string `json:"args,omitempty"`
	Dir   string   `json:"dir,omitempty"`
	Env   []string `json:"env,omitempty"`
	Stdin []byte   `json:"-"`
}

// CustomFunc is the payload of a Custom job.
type CustomFunc func(ctx context.Context, report jobs.Reporter) (any, error)

var _ jobs.Replacer = ScanRequest{}
