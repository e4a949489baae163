package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Format is the authoring format of a catalog file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("catalog %s: unsupported extension (want .yaml, .yml or .cue)", path)
	}
}

// Load reads, validates and indexes a catalog file.
func Load(path string) (*Catalog, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// Parse validates catalog source against the schema and builds the index.
// name is only used in error messages.
func Parse(data []byte, format Format, name string) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Catalog"))

	var value cue.Value
	switch format {
	case FormatYAML:
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &Error{Source: name, Field: "yaml", Message: err.Error()}
		}
		if raw == nil {
			return nil, &Error{Source: name, Field: "catalog", Message: "catalog is empty"}
		}
		value = ctx.Encode(raw)
	case FormatCUE:
		value = ctx.CompileBytes(data, cue.Filename(name))
	default:
		return nil, fmt.Errorf("catalog %s: unknown format %q", name, format)
	}
	if err := value.Err(); err != nil {
		return nil, formatCUEError(name, err)
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(name, err)
	}

	var cat Catalog
	if err := unified.Decode(&cat); err != nil {
		return nil, &Error{Source: name, Field: "decode", Message: err.Error()}
	}
	if err := cat.compile(); err != nil {
		return nil, withSource(name, err)
	}
	return &cat, nil
}

// New indexes a catalog built in code. Identity defaults are applied for
// zero values; the schema is not consulted.
func New(c Catalog) (*Catalog, error) {
	cat := c
	cat.Processes = slices.Clone(c.Processes)
	if err := cat.compile(); err != nil {
		return nil, withSource("<memory>", err)
	}
	return &cat, nil
}

// Error reports an invalid catalog. Pos is set for schema violations.
type Error struct {
	Source  string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Field, e.Message)
}

func withSource(source string, err error) error {
	if ce, ok := err.(*Error); ok {
		ce.Source = source
		return ce
	}
	return &Error{Source: source, Field: "catalog", Message: err.Error()}
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(source string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Source: source, Field: "cue", Message: err.Error()}
	}
	first := errs[0]
	msg := first.Error()
	if path := strings.Join(first.Path(), "."); path != "" && !strings.HasPrefix(msg, path) {
		msg = path + ": " + msg
	}
	out := &Error{Source: source, Field: "cue", Message: msg}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	if len(errs) > 1 {
		out.Message = fmt.Sprintf("%s (and %d more)", out.Message, len(errs)-1)
	}
	return out
}
