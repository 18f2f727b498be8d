// Package generator writes typed accessors for state structs.
//
// A struct marked with a //statesync:state comment gets a sibling
// <file>_state.go holding a <Name>State wrapper around *statesync.State,
// the schema derived from the struct, and a getter/setter pair per field.
package generator

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Marker is the comment line that opts a struct into generation.
const Marker = "//statesync:state"

// GeneratedSuffix is appended to the source file name of generated files.
const GeneratedSuffix = "_state.go"

const generatedHeader = "// Code generated by statesync. DO NOT EDIT."

// Options configures the generator.
type Options struct {
	DryRun bool
	// Out receives progress lines. Defaults to os.Stdout.
	Out io.Writer
}

// Generator generates state accessor code.
type Generator struct {
	opts Options
	fset *token.FileSet
}

// New creates a new generator.
func New(opts Options) *Generator {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Generator{
		opts: opts,
		fset: token.NewFileSet(),
	}
}

// Generate generates code for the given package patterns.
func (g *Generator) Generate(patterns ...string) error {
	packages, err := g.findPackages(patterns)
	if err != nil {
		return err
	}

	for _, pkg := range packages {
		if err := g.generatePackage(pkg); err != nil {
			return fmt.Errorf("package %s: %w", pkg, err)
		}
	}

	return nil
}

// Clean removes generated files for the given package patterns.
func (g *Generator) Clean(patterns ...string) error {
	packages, err := g.findPackages(patterns)
	if err != nil {
		return err
	}

	for _, pkg := range packages {
		if err := g.cleanPackage(pkg); err != nil {
			return fmt.Errorf("package %s: %w", pkg, err)
		}
	}

	return nil
}

// findPackages resolves package patterns to directory paths.
func (g *Generator) findPackages(patterns []string) ([]string, error) {
	var packages []string

	for _, pattern := range patterns {
		if !strings.HasSuffix(pattern, "/...") {
			packages = append(packages, pattern)
			continue
		}

		root := strings.TrimSuffix(pattern, "/...")
		if root == "" {
			root = "."
		}
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			base := d.Name()
			if path != root && (strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") || base == "vendor" || base == "testdata") {
				return filepath.SkipDir
			}
			if hasGoFiles(path) {
				packages = append(packages, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return packages, nil
}

func hasGoFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() && isSourceFile(entry.Name()) {
			return true
		}
	}
	return false
}

func isSourceFile(name string) bool {
	return strings.HasSuffix(name, ".go") &&
		!strings.HasSuffix(name, "_test.go") &&
		!strings.HasSuffix(name, GeneratedSuffix)
}

// generatePackage generates code for a single package.
func (g *Generator) generatePackage(pkgPath string) error {
	pkgs, err := parser.ParseDir(g.fset, pkgPath, func(info os.FileInfo) bool {
		return isSourceFile(info.Name())
	}, parser.ParseComments)
	if err != nil {
		return err
	}

	for pkgName, pkg := range pkgs {
		files := g.findStates(pkg)
		marked := map[string]bool{}
		for _, f := range files {
			for _, s := range f.States {
				marked[s.TypeName] = true
			}
		}
		for _, f := range files {
			f.Package = pkgName
			f.resolveNested(marked)
			if err := g.generateFile(pkgPath, f); err != nil {
				return err
			}
		}
	}

	return nil
}

// cleanPackage removes generated files from a package. Files with the
// suffix that were not written by the generator are left alone.
func (g *Generator) cleanPackage(pkgPath string) error {
	entries, err := os.ReadDir(pkgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), GeneratedSuffix) {
			continue
		}
		path := filepath.Join(pkgPath, entry.Name())
		if !isGenerated(path) {
			continue
		}
		fmt.Fprintf(g.opts.Out, "removing %s\n", path)
		if !g.opts.DryRun {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}

	return nil
}

func isGenerated(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.HasPrefix(data, []byte(generatedHeader))
}

// FileInfo holds the marked structs of one source file.
type FileInfo struct {
	SourceFile string
	Package    string
	States     []*StateInfo
	Imports    []string // import specs the generated fields need
}

// StateInfo holds information about a marked struct.
type StateInfo struct {
	TypeName string
	Fields   []FieldInfo
}

// FieldInfo represents one exported field of a marked struct.
type FieldInfo struct {
	Name string // Go field name, also the accessor name
	Key  string // state key
	Type string // Go type as written
	// Nested is the wrapper type for fields whose type is another marked
	// struct of the package.
	Nested string
}

// findStates finds all marked structs in a package, grouped by file.
func (g *Generator) findStates(pkg *ast.Package) []*FileInfo {
	var files []*FileInfo

	for filename, file := range pkg.Files {
		info := &FileInfo{SourceFile: filename}
		imports := map[string]bool{}

		for _, decl := range file.Decls {
			genDecl, ok := decl.(*ast.GenDecl)
			if !ok || genDecl.Tok != token.TYPE {
				continue
			}

			for _, spec := range genDecl.Specs {
				typeSpec, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				if !hasMarker(genDecl.Doc) && !hasMarker(typeSpec.Doc) {
					continue
				}
				structType, ok := typeSpec.Type.(*ast.StructType)
				if !ok {
					continue
				}

				st := &StateInfo{TypeName: typeSpec.Name.Name}
				for _, f := range g.findFields(structType) {
					st.Fields = append(st.Fields, f)
					for _, q := range qualifiers(f.Type) {
						if spec := importFor(file, q); spec != "" {
							imports[spec] = true
						}
					}
				}
				info.States = append(info.States, st)
			}
		}

		if len(info.States) == 0 {
			continue
		}
		for spec := range imports {
			info.Imports = append(info.Imports, spec)
		}
		slices.Sort(info.Imports)
		files = append(files, info)
	}

	slices.SortFunc(files, func(a, b *FileInfo) int {
		return strings.Compare(a.SourceFile, b.SourceFile)
	})
	return files
}

func hasMarker(doc *ast.CommentGroup) bool {
	if doc == nil {
		return false
	}
	for _, c := range doc.List {
		if strings.TrimSpace(c.Text) == Marker {
			return true
		}
	}
	return false
}

// findFields lists the exported fields of a struct the way the runtime
// schema derivation keys them.
func (g *Generator) findFields(structType *ast.StructType) []FieldInfo {
	var fields []FieldInfo

	for _, field := range structType.Fields.List {
		if len(field.Names) == 0 {
			continue // embedded fields are not state keys
		}

		var tag string
		if field.Tag != nil {
			tag = strings.Trim(field.Tag.Value, "`")
		}
		key, skip := parseStateTag(tag)
		if skip {
			continue
		}

		for _, name := range field.Names {
			if !name.IsExported() {
				continue
			}
			f := FieldInfo{
				Name: name.Name,
				Key:  key,
				Type: g.typeToString(field.Type),
			}
			if f.Key == "" {
				f.Key = strings.ToLower(name.Name)
			}
			fields = append(fields, f)
		}
	}

	return fields
}

// resolveNested links fields typed with another marked struct to that
// struct's wrapper.
func (f *FileInfo) resolveNested(marked map[string]bool) {
	for _, st := range f.States {
		for i := range st.Fields {
			typ := strings.TrimPrefix(st.Fields[i].Type, "*")
			if marked[typ] {
				st.Fields[i].Nested = typ + "State"
			}
		}
	}
}

// typeToString converts an AST type to a string representation.
func (g *Generator) typeToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + g.typeToString(t.X)
	case *ast.SelectorExpr:
		return g.typeToString(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		if t.Len == nil {
			return "[]" + g.typeToString(t.Elt)
		}
		if lit, ok := t.Len.(*ast.BasicLit); ok {
			return "[" + lit.Value + "]" + g.typeToString(t.Elt)
		}
		return "[...]" + g.typeToString(t.Elt)
	case *ast.MapType:
		return "map[" + g.typeToString(t.Key) + "]" + g.typeToString(t.Value)
	case *ast.InterfaceType:
		return "any"
	case *ast.IndexExpr:
		return g.typeToString(t.X) + "[" + g.typeToString(t.Index) + "]"
	default:
		return fmt.Sprintf("%T", expr)
	}
}

// parseStateTag parses the state key out of a raw struct tag.
func parseStateTag(tagStr string) (key string, skip bool) {
	value, ok := lookupTag(tagStr, "state")
	if !ok {
		return "", false
	}
	key = strings.Split(value, ",")[0]
	if key == "-" {
		return "", true
	}
	return key, false
}

func lookupTag(tagStr, name string) (string, bool) {
	for _, part := range strings.Fields(tagStr) {
		prefix := name + ":"
		if !strings.HasPrefix(part, prefix) {
			continue
		}
		v, err := strconv.Unquote(strings.TrimPrefix(part, prefix))
		if err != nil {
			return "", false
		}
		return v, true
	}
	return "", false
}

// qualifiers returns the package names a type expression refers to.
func qualifiers(typ string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(typ, func(r rune) bool {
		return r == '[' || r == ']' || r == '*'
	}) {
		if i := strings.Index(part, "."); i > 0 {
			out = append(out, part[:i])
		}
	}
	return out
}

// importFor returns the import spec of file that binds the package name q.
func importFor(file *ast.File, q string) string {
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := path[strings.LastIndex(path, "/")+1:]
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if name != q {
			continue
		}
		if imp.Name != nil {
			return imp.Name.Name + " " + imp.Path.Value
		}
		return imp.Path.Value
	}
	return ""
}
