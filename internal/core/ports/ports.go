package ports

import (
	"context"
	"time"
)

// DeclarationKind classifies an extracted declaration.
type DeclarationKind string

const (
	KindFunction  DeclarationKind = "function"
	KindClass     DeclarationKind = "class"
	KindMethod    DeclarationKind = "method"
	KindConstant  DeclarationKind = "constant"
	KindInterface DeclarationKind = "interface"
	KindType      DeclarationKind = "type"
	KindVariable  DeclarationKind = "variable"
)

// Declaration is a named symbol found in source text. Line and Column are
// 1-based. FullName qualifies members with their container (Class::method
// for PHP, Class.method elsewhere) and equals Name for top-level symbols.
type Declaration struct {
	Name     string          `json:"name"`
	FullName string          `json:"full_name"`
	Kind     DeclarationKind `json:"kind"`
	Line     int             `json:"line"`
	Column   int             `json:"column"`
}

// Diagnostic is a language-level problem or a job fault reported as data.
type Diagnostic struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Analysis is the structured output of one LanguageAnalyzer call.
type Analysis struct {
	Language     string        `json:"language"`
	Declarations []Declaration `json:"declarations"`
	Errors       []Diagnostic  `json:"errors"`
}

// LanguageAnalyzer parses source text for one language. Implementations are
// pure with respect to their input and safe for concurrent use.
type LanguageAnalyzer interface {
	Language() string
	Analyze(ctx context.Context, text []byte) (Analysis, error)
}

// AnalyzerRegistry resolves analyzers by language id or file path.
type AnalyzerRegistry interface {
	ForLanguage(lang string) (LanguageAnalyzer, bool)
	ForPath(path string) (LanguageAnalyzer, bool)
	SupportedExtensions() []string
}

// Command describes one external process invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string
	Stdin []byte
}

// ProcessOutput is the captured result of a finished process. A non-zero
// ExitCode is not an error.
type ProcessOutput struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// ProcessRunner executes external commands. Cancelling ctx asks the child
// to terminate.
type ProcessRunner interface {
	Run(ctx context.Context, cmd Command) (ProcessOutput, error)
}
