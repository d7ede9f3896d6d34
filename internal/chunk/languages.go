package chunk

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Capture names used by every declaration pattern. The declaration node is
// captured as one of the kind captures and its identifier as @name.
const (
	captureFunction = "function"
	captureMethod   = "method"
	captureClass    = "class"
	captureName     = "name"
)

// grammar pairs a tree-sitter language with the structural patterns that
// locate its declarations.
type grammar struct {
	name     string
	language func() *sitter.Language
	patterns []string
}

var goPatterns = []string{
	`(function_declaration name: (identifier) @name) @function`,
	`(method_declaration name: (field_identifier) @name) @method`,
	`(type_spec name: (type_identifier) @name type: [(struct_type) (interface_type)]) @class`,
}

// Python decorators are not part of the definition node; outerNode widens
// a decorated definition to its decorated_definition parent.
var pythonPatterns = []string{
	`(function_definition name: (identifier) @name) @function`,
	`(class_definition name: (identifier) @name) @class`,
}

var javascriptPatterns = []string{
	`(function_declaration name: (identifier) @name) @function`,
	`(generator_function_declaration name: (identifier) @name) @function`,
	`(method_definition name: (property_identifier) @name) @method`,
	`(class_declaration name: (identifier) @name) @class`,
	`(variable_declarator name: (identifier) @name value: (arrow_function)) @function`,
}

var typescriptPatterns = []string{
	`(function_declaration name: (identifier) @name) @function`,
	`(method_definition name: (property_identifier) @name) @method`,
	`(class_declaration name: (type_identifier) @name) @class`,
	`(abstract_class_declaration name: (type_identifier) @name) @class`,
	`(interface_declaration name: (type_identifier) @name) @class`,
	`(variable_declarator name: (identifier) @name value: (arrow_function)) @function`,
}

var javaPatterns = []string{
	`(method_declaration name: (identifier) @name) @method`,
	`(constructor_declaration name: (identifier) @name) @method`,
	`(class_declaration name: (identifier) @name) @class`,
	`(interface_declaration name: (identifier) @name) @class`,
	`(enum_declaration name: (identifier) @name) @class`,
}

var rustPatterns = []string{
	`(function_item name: (identifier) @name) @function`,
	`(struct_item name: (type_identifier) @name) @class`,
	`(enum_item name: (type_identifier) @name) @class`,
	`(trait_item name: (type_identifier) @name) @class`,
	`(impl_item type: (type_identifier) @name) @class`,
}

var grammars = map[string]grammar{
	"go":         {name: "go", language: golang.GetLanguage, patterns: goPatterns},
	"python":     {name: "python", language: python.GetLanguage, patterns: pythonPatterns},
	"javascript": {name: "javascript", language: javascript.GetLanguage, patterns: javascriptPatterns},
	"typescript": {name: "typescript", language: typescript.GetLanguage, patterns: typescriptPatterns},
	"tsx":        {name: "tsx", language: tsx.GetLanguage, patterns: typescriptPatterns},
	"java":       {name: "java", language: java.GetLanguage, patterns: javaPatterns},
	"rust":       {name: "rust", language: rust.GetLanguage, patterns: rustPatterns},
}

// Languages returns the names of languages with a grammar, sorted.
func Languages() []string {
	names := make([]string, 0, len(grammars))
	for name := range grammars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported reports whether language has a grammar.
func Supported(language string) bool {
	_, ok := grammars[language]
	return ok
}
