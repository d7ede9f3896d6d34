// Package gitignore matches repository-relative paths against gitignore
// patterns (https://git-scm.com/docs/gitignore).
//
// Supported: comments, blank lines, negation (!), directory-only patterns
// (trailing /), anchoring (leading or inner /), *, ?, ** and character
// classes. A pattern that matches a directory also matches every path
// beneath it.
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!keep.log")
//	m.AddPattern("/build/")
//	m.Match("build/out.bin", false) // true
package gitignore
