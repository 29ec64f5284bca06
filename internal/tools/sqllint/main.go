// Command sqllint fails when a SQL string constant lacks the "--sql <uuid>"
// first line that infra.SQLRunner requires at run time.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	statementPattern = regexp.MustCompile(`(?i)\b(select|insert|update|delete|create|with)\b`)
	markerPattern    = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file string
	line int
	name string
}

func main() {
	flag.Parse()
	os.Exit(run(flag.Args(), os.Stderr))
}

func run(targets []string, stderr io.Writer) int {
	if len(targets) == 0 {
		targets = []string{"."}
	}
	violations, err := lintTargets(targets)
	if err != nil {
		fmt.Fprintf(stderr, "sqllint: %v\n", err)
		return 2
	}
	if len(violations) == 0 {
		return 0
	}
	fmt.Fprintln(stderr, "sqllint: statements without a --sql <uuid> marker")
	for _, v := range violations {
		fmt.Fprintf(stderr, "  %s:%d %s\n", v.file, v.line, v.name)
	}
	return 1
}

func lintTargets(targets []string) ([]violation, error) {
	var out []violation
	for _, target := range targets {
		err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			vs, err := lintFile(path)
			if err != nil {
				return err
			}
			out = append(out, vs...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// lintFile checks string constants and variables; inline literals passed
// straight to a call are not inspected.
func lintFile(path string) ([]violation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil, err
	}
	var out []violation
	ast.Inspect(file, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range spec.Values {
			lit, ok := value.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}
			raw, err := strconv.Unquote(lit.Value)
			if err != nil || !statementPattern.MatchString(raw) {
				continue
			}
			if markerPattern.MatchString(firstLine(raw)) {
				continue
			}
			name := "_"
			if i < len(spec.Names) {
				name = spec.Names[i].Name
			}
			out = append(out, violation{file: path, line: fset.Position(lit.Pos()).Line, name: name})
		}
		return true
	})
	return out, nil
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\r\n\t ")
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
