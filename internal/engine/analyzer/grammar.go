package analyzer

import (
	"fmt"

	"zira/internal/core/ports"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_css "github.com/tree-sitter/tree-sitter-css/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_html "github.com/tree-sitter/tree-sitter-html/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// declRule maps a syntax node kind to the declaration it introduces.
type declRule struct {
	kind ports.DeclarationKind
	// nameField is the field holding the identifier; "name" when empty.
	nameField string
	// container marks nodes whose body qualifies nested declarations.
	container bool
	// inContainer overrides kind when the node sits inside a container.
	inContainer ports.DeclarationKind
	// valueKinds restricts the rule to nodes whose "value" field has one of
	// these kinds (used for `const f = () => {}`).
	valueKinds []string
}

// profile describes how one tree-sitter grammar yields declarations.
type profile struct {
	id         string
	extensions []string
	language   func() *sitter.Language
	rules      map[string]declRule
	// implKinds maps impl-style node kinds, which qualify their members
	// without being declarations themselves, to the field naming the type.
	implKinds map[string]string
	separator string
}

var jsRules = map[string]declRule{
	"function_declaration":           {kind: ports.KindFunction},
	"generator_function_declaration": {kind: ports.KindFunction},
	"class_declaration":              {kind: ports.KindClass, container: true},
	"method_definition":              {kind: ports.KindMethod},
	"variable_declarator": {
		kind:       ports.KindFunction,
		valueKinds: []string{"arrow_function", "function_expression", "function", "generator_function"},
	},
}

func tsRules() map[string]declRule {
	rules := make(map[string]declRule, len(jsRules)+5)
	for k, v := range jsRules {
		rules[k] = v
	}
	rules["abstract_class_declaration"] = declRule{kind: ports.KindClass, container: true}
	rules["interface_declaration"] = declRule{kind: ports.KindInterface, container: true}
	rules["type_alias_declaration"] = declRule{kind: ports.KindType}
	rules["enum_declaration"] = declRule{kind: ports.KindType}
	rules["method_signature"] = declRule{kind: ports.KindMethod}
	return rules
}

func builtinProfiles() []profile {
	return []profile{
		{
			id:         "javascript",
			extensions: []string{".js", ".mjs", ".cjs", ".jsx"},
			language:   func() *sitter.Language { return sitter.NewLanguage(tree_sitter_javascript.Language()) },
			rules:      jsRules,
			separator:  ".",
		},
		{
			id:         "typescript",
			extensions: []string{".ts", ".mts", ".cts"},
			language:   func() *sitter.Language { return sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()) },
			rules:      tsRules(),
			separator:  ".",
		},
		{
			id:         "tsx",
			extensions: []string{".tsx"},
			language:   func() *sitter.Language { return sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()) },
			rules:      tsRules(),
			separator:  ".",
		},
		{
			id:         "css",
			extensions: []string{".css"},
			language:   func() *sitter.Language { return sitter.NewLanguage(tree_sitter_css.Language()) },
			rules:      map[string]declRule{},
		},
		{
			id:         "go",
			extensions: []string{".go"},
			language:   func() *sitter.Language { return sitter.NewLanguage(tree_sitter_go.Language()) },
			rules: map[string]declRule{
				"function_declaration": {kind: ports.KindFunction},
				"method_declaration":   {kind: ports.KindMethod},
				"type_spec":            {kind: ports.KindType},
				"const_spec":           {kind: ports.KindConstant},
			},
			separator: ".",
		},
		{
			id:         "python",
			extensions: []string{".py"},
			language:   func() *sitter.Language { return sitter.NewLanguage(tree_sitter_python.Language()) },
			rules: map[string]declRule{
				"function_definition": {kind: ports.KindFunction, inContainer: ports.KindMethod},
				"class_definition":    {kind: ports.KindClass, container: true},
			},
			separator: ".",
		},
		{
			id:         "java",
			extensions: []string{".java"},
			language:   func() *sitter.Language { return sitter.NewLanguage(tree_sitter_java.Language()) },
			rules: map[string]declRule{
				"class_declaration":       {kind: ports.KindClass, container: true},
				"interface_declaration":   {kind: ports.KindInterface, container: true},
				"enum_declaration":        {kind: ports.KindType, container: true},
				"record_declaration":      {kind: ports.KindClass, container: true},
				"method_declaration":      {kind: ports.KindMethod},
				"constructor_declaration": {kind: ports.KindMethod},
			},
			separator: ".",
		},
		{
			id:         "rust",
			extensions: []string{".rs"},
			language:   func() *sitter.Language { return sitter.NewLanguage(tree_sitter_rust.Language()) },
			rules: map[string]declRule{
				"function_item":           {kind: ports.KindFunction, inContainer: ports.KindMethod},
				"function_signature_item": {kind: ports.KindFunction, inContainer: ports.KindMethod},
				"struct_item":             {kind: ports.KindType},
				"enum_item":               {kind: ports.KindType},
				"trait_item":              {kind: ports.KindInterface, container: true},
				"const_item":              {kind: ports.KindConstant},
			},
			implKinds: map[string]string{"impl_item": "type"},
			separator: "::",
		},
		{
			id:         "html",
			extensions: []string{".html", ".htm"},
			language:   func() *sitter.Language { return sitter.NewLanguage(tree_sitter_html.Language()) },
			rules:      map[string]declRule{},
		},
	}
}

func findProfile(id string) (profile, error) {
	for _, p := range builtinProfiles() {
		if p.id == id {
			return p, nil
		}
	}
	return profile{}, fmt.Errorf("no grammar profile for language %q", id)
}
