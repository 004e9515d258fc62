// Package render writes command results as json, table or yaml.
//
// A TTY defaults to table and anything else to json; --format overrides.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/voxlink/cli/tui"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var formats = map[string]Format{
	"json":  FormatJSON,
	"table": FormatTable,
	"yaml":  FormatYAML,
}

// ParseFormat parses a --format value. An empty value yields an empty
// Format so the caller can choose a default.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return "", nil
	}
	if f, ok := formats[strings.ToLower(s)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from the --format and --no-color flags.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	out := io.Writer(os.Stdout)
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	if format == "" {
		format = defaultFormat(out)
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), out), nil
}

// NewRendererWithWriter creates a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

func defaultFormat(out io.Writer) Format {
	if f, ok := out.(*os.File); ok && isTerminal(f) {
		return FormatTable
	}
	return FormatJSON
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// Format returns the selected format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.writeSheet(sheetOf(data))
	}
	return fmt.Errorf("unknown format: %s", r.format)
}

// RenderTUI shows data in the interactive view for viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

// sheet is a table ready for printing. A keyed sheet prints one
// "key:<tab>value" line per row; otherwise header is the first line.
type sheet struct {
	header []string
	rows   [][]string
	keyed  bool
	empty  bool
}

func (r *Renderer) writeSheet(s sheet) error {
	if s.empty {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	if s.header != nil {
		fmt.Fprintln(tw, strings.Join(s.header, "\t"))
	}
	for _, row := range s.rows {
		if s.keyed {
			fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1])
			continue
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// sheetOf lays out data. Lists become one row per element with columns
// taken from the first element; a struct or map becomes key/value rows.
func sheetOf(data any) sheet {
	v := deref(reflect.ValueOf(data))
	if !v.IsValid() {
		return sheet{empty: true}
	}
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		return listSheet(v)
	}
	cols := columnsOf(v)
	if cols == nil {
		return sheet{rows: [][]string{{cell(v)}}}
	}
	s := sheet{keyed: true}
	for _, c := range cols {
		s.rows = append(s.rows, []string{c.name, cell(c.value)})
	}
	return s
}

func listSheet(v reflect.Value) sheet {
	if v.Len() == 0 {
		return sheet{empty: true}
	}
	first := columnsOf(deref(v.Index(0)))
	if first == nil {
		var s sheet
		for i := range v.Len() {
			s.rows = append(s.rows, []string{cell(v.Index(i))})
		}
		return s
	}

	s := sheet{header: make([]string, len(first))}
	for i, c := range first {
		s.header[i] = c.name
	}
	for i := range v.Len() {
		byName := make(map[string]reflect.Value, len(s.header))
		for _, c := range columnsOf(deref(v.Index(i))) {
			byName[c.name] = c.value
		}
		row := make([]string, len(s.header))
		for j, name := range s.header {
			row[j] = cell(byName[name])
		}
		s.rows = append(s.rows, row)
	}
	return s
}

type column struct {
	name  string
	value reflect.Value
}

// columnsOf returns the named parts of a struct or map, or nil for
// anything else. Struct columns follow field order and use the json
// name; fields tagged json:"-" and unexported fields are left out.
// Map columns are sorted by key.
func columnsOf(v reflect.Value) []column {
	switch v.Kind() {
	case reflect.Struct:
		if _, ok := v.Interface().(time.Time); ok {
			return nil
		}
		var cols []column
		t := v.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			name, ok := columnName(f)
			if !ok {
				continue
			}
			cols = append(cols, column{name: name, value: v.Field(i)})
		}
		return cols
	case reflect.Map:
		cols := make([]column, 0, v.Len())
		for _, k := range sortedKeys(v) {
			cols = append(cols, column{name: fmt.Sprint(k.Interface()), value: v.MapIndex(k)})
		}
		return cols
	}
	return nil
}

func columnName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", false
	case "":
		return strings.ToLower(f.Name), true
	}
	return name, true
}

// maxInlineKeys bounds the scalar maps printed as "k=v" pairs.
const maxInlineKeys = 6

func cell(v reflect.Value) string {
	v = deref(v)
	if !v.IsValid() {
		return ""
	}
	if t, ok := v.Interface().(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		return mapCell(v)
	case reflect.Struct:
		return "{...}"
	}
	return fmt.Sprint(v.Interface())
}

// mapCell prints small scalar maps, such as counts by cause, inline and
// summarizes the rest.
func mapCell(v reflect.Value) string {
	if v.Len() == 0 {
		return "{}"
	}
	if v.Len() > maxInlineKeys || !scalar(v.Type().Elem().Kind()) {
		return fmt.Sprintf("{%d keys}", v.Len())
	}
	pairs := make([]string, 0, v.Len())
	for _, k := range sortedKeys(v) {
		pairs = append(pairs, fmt.Sprintf("%v=%v", k.Interface(), v.MapIndex(k).Interface()))
	}
	return strings.Join(pairs, " ")
}

func scalar(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// deref follows pointers and interfaces; a nil one yields the zero Value.
func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
	})
	return keys
}
