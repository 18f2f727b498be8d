package generator

import (
	"bytes"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// generateFile writes the *_state.go file for the marked structs of one
// source file.
func (g *Generator) generateFile(pkgPath string, f *FileInfo) error {
	baseName := strings.TrimSuffix(filepath.Base(f.SourceFile), ".go")
	outputFile := filepath.Join(pkgPath, baseName+GeneratedSuffix)

	fmt.Fprintf(g.opts.Out, "generating %s\n", outputFile)

	if g.opts.DryRun {
		return nil
	}

	code, err := Render(f)
	if err != nil {
		// Write unformatted for debugging
		if code != nil {
			if writeErr := os.WriteFile(outputFile+".unformatted", code, 0o644); writeErr == nil {
				fmt.Fprintf(g.opts.Out, "  wrote unformatted code to %s.unformatted for debugging\n", outputFile)
			}
		}
		return err
	}

	return os.WriteFile(outputFile, code, 0o644)
}

var stateTemplate = template.Must(template.New("state").Funcs(template.FuncMap{
	"base":   filepath.Base,
	"setter": func(name string) string { return "Set" + name },
}).Parse(stateSource))

// Render returns the formatted accessor source for f. On a formatting
// failure the unformatted source is returned with the error.
func Render(f *FileInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := stateTemplate.Execute(&buf, f); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	formatted, err := format.Source(buf.Bytes())
	if err != nil {
		return buf.Bytes(), fmt.Errorf("format source: %w", err)
	}
	return formatted, nil
}

const stateSource = `// Code generated by statesync. DO NOT EDIT.
// Source: {{base .SourceFile}}

package {{.Package}}

import (
	{{- range .Imports}}
	{{.}}
	{{- end}}

	"github.com/pthm/statesync"
)
{{range .States}}
{{- $wrapper := printf "%sState" .TypeName}}
// {{.TypeName}}Schema is the state schema derived from {{.TypeName}}.
var {{.TypeName}}Schema = statesync.MustSchemaOf[{{.TypeName}}]()

// {{$wrapper}} is a typed view over a state shaped like {{.TypeName}}.
type {{$wrapper}} struct {
	*statesync.State
}

// New{{$wrapper}} builds a {{$wrapper}} from raw values.
func New{{$wrapper}}(raw map[string]any) ({{$wrapper}}, error) {
	st, err := statesync.NewState({{.TypeName}}Schema, raw)
	if err != nil {
		return {{$wrapper}}{}, err
	}
	return {{$wrapper}}{State: st}, nil
}

// {{$wrapper}}Of wraps an existing state.
func {{$wrapper}}Of(st statesync.Stater) {{$wrapper}} {
	if st == nil {
		return {{$wrapper}}{}
	}
	return {{$wrapper}}{State: st.AsState()}
}
{{range .Fields}}
{{- if .Nested}}
// {{.Name}} returns the nested state under "{{.Key}}".
func (s {{$wrapper}}) {{.Name}}() {{.Nested}} {
	return {{.Nested}}Of(s.State.Child("{{.Key}}"))
}

// {{setter .Name}} replaces the nested state under "{{.Key}}".
func (s {{$wrapper}}) {{setter .Name}}(v map[string]any) error {
	return s.State.Set("{{.Key}}", v)
}
{{- else}}
// {{.Name}} returns the value under "{{.Key}}".
func (s {{$wrapper}}) {{.Name}}() {{.Type}} {
	return statesync.GetAs[{{.Type}}](s.State, "{{.Key}}")
}

// {{setter .Name}} sets the value under "{{.Key}}".
func (s {{$wrapper}}) {{setter .Name}}(v {{.Type}}) error {
	return s.State.Set("{{.Key}}", v)
}
{{- end}}
{{end}}
{{- end}}
`
