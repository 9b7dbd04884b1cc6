package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
)

// maxExportBytes caps a single export file.
const maxExportBytes = 64 << 20

// exportFormat is how an export file is parsed.
type exportFormat int

const (
	formatUnknown exportFormat = iota
	formatDelimited
	formatLines
	formatStructured
)

var exportExtensions = map[string]exportFormat{
	".csv":  formatDelimited,
	".tsv":  formatDelimited,
	".txt":  formatLines, // sniffed, see parseText
	".log":  formatLines,
	".json": formatStructured,
	".yaml": formatStructured,
	".yml":  formatStructured,
}

// nameColumns identify the column or key holding the stream name.
var nameColumns = []string{"name", "stream", "tag", "object"}

// exportFields maps compacted field name fragments to keys. The first
// entry whose fragment occurs in a field name wins.
var exportFields = []struct {
	key       core.Key
	fragments []string
}{
	{core.KeyMassFlow, []string{"massflow"}},
	{core.KeyMolarFlow, []string{"molarflow", "molflow"}},
	{core.KeyVolumetricFlow, []string{"volumetricflow", "volumeflow", "volflow"}},
	{core.KeyTemperature, []string{"temperature", "temp"}},
	{core.KeyPressure, []string{"pressure", "press"}},
	{core.KeyDensity, []string{"density"}},
	{core.KeyEnthalpy, []string{"enthalpy"}},
	{core.KeyHumidity, []string{"humidity"}},
}

// ExportConfig identifies the export location and the stream to read.
type ExportConfig struct {
	Path       string // file, or folder whose newest supported file is read
	Stream     string
	Simulation string
	Exclude    []string // files in the folder that are never read, e.g. sink output
}

// ExportSource reads stream properties from operator exports.
type ExportSource struct {
	cfg        ExportConfig
	normalizer *core.Normalizer
}

// NewExport creates an export source.
func NewExport(cfg ExportConfig) *ExportSource {
	return &ExportSource{
		cfg:        cfg,
		normalizer: core.NewNormalizer(core.DefaultSchema(), nil, nil),
	}
}

// Describe implements core.Source.
func (s *ExportSource) Describe() core.SourceDescriptor {
	return core.SourceDescriptor{Stream: s.cfg.Stream, Simulation: s.cfg.Simulation, Kind: config.SourceExport}
}

// Path returns the configured file or folder, for file watching.
func (s *ExportSource) Path() string { return s.cfg.Path }

// Fetch implements core.Source. A missing file or stream is absent.
func (s *ExportSource) Fetch(ctx context.Context) (core.Measurement, bool, error) {
	logger := logging.WithFields(ctx, "source", config.SourceExport, "path", s.cfg.Path, "stream", s.cfg.Stream)

	file, err := s.Resolve()
	if errors.Is(err, core.ErrNotFound) {
		logger.Info("no export file found", "reason", err)
		return core.Measurement{}, false, nil
	}
	if err != nil {
		return core.Measurement{}, false, err
	}

	m, err := s.ReadFile(file)
	if errors.Is(err, core.ErrNotFound) {
		logger.Info("stream not found in export", "file", file)
		return core.Measurement{}, false, nil
	}
	if err != nil {
		return core.Measurement{}, false, err
	}
	if m.IsEmpty() {
		logger.Info("stream has no numeric fields", "file", file)
		return core.Measurement{}, false, nil
	}
	logger.Debug("export parsed", "file", file, "keys", m.Len())
	return m, true, nil
}

// Check implements core.Checker by resolving the export file.
func (s *ExportSource) Check(context.Context) error {
	_, err := s.Resolve()
	return err
}

// Resolve returns the export file to read: the configured file, or the
// newest supported file in the configured folder.
func (s *ExportSource) Resolve() (string, error) {
	if s.cfg.Path == "" {
		return "", fmt.Errorf("export: %w: EXPORT_FOLDER is not set", core.ErrConfig)
	}
	info, err := os.Stat(s.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("export: %w: %v", core.ErrNotFound, err)
	}
	if err != nil {
		return "", fmt.Errorf("export: %w: %v", core.ErrParse, err)
	}
	if !info.IsDir() {
		return s.cfg.Path, nil
	}

	entries, err := os.ReadDir(s.cfg.Path)
	if err != nil {
		return "", fmt.Errorf("export: %w: %v", core.ErrParse, err)
	}

	excluded := make(map[string]bool, len(s.cfg.Exclude))
	for _, p := range s.cfg.Exclude {
		if abs, err := filepath.Abs(p); err == nil {
			excluded[abs] = true
		}
	}

	type candidate struct {
		path string
		info fs.FileInfo
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || formatFor(e.Name()) == formatUnknown {
			continue
		}
		if abs, err := filepath.Abs(filepath.Join(s.cfg.Path, e.Name())); err == nil && excluded[abs] {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{filepath.Join(s.cfg.Path, e.Name()), fi})
	}
	if len(files) == 0 {
		return "", fmt.Errorf("export: %w: no supported files in %s", core.ErrNotFound, s.cfg.Path)
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].info.ModTime().Equal(files[j].info.ModTime()) {
			return files[i].info.ModTime().After(files[j].info.ModTime())
		}
		return files[i].path < files[j].path
	})
	return files[0].path, nil
}

// ReadFile parses one export file and extracts the target stream.
func (s *ExportSource) ReadFile(path string) (core.Measurement, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return core.Measurement{}, fmt.Errorf("export: %w: %v", core.ErrNotFound, err)
	}
	if err != nil {
		return core.Measurement{}, fmt.Errorf("export: %w: %v", core.ErrParse, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(core.NewTextReader(f), maxExportBytes))
	if err != nil {
		return core.Measurement{}, fmt.Errorf("export: %w: %v", core.ErrParse, err)
	}

	var raw core.RawFields
	switch formatFor(path) {
	case formatDelimited:
		raw, err = parseDelimited(data, s.cfg.Stream)
	case formatLines:
		raw, err = parseText(data, s.cfg.Stream)
	case formatStructured:
		raw, err = parseStructured(data, s.cfg.Stream)
	default:
		err = fmt.Errorf("%w: unsupported export type %s", core.ErrParse, filepath.Ext(path))
	}
	if err != nil {
		return core.Measurement{}, fmt.Errorf("export %s: %w", filepath.Base(path), err)
	}
	return s.normalizer.Normalize(raw), nil
}

func formatFor(path string) exportFormat {
	return exportExtensions[strings.ToLower(filepath.Ext(path))]
}

// matchField maps a field name to a canonical key and the unit written in
// the name, e.g. "Temperature (K)". A name carrying a unit that cannot be
// converted does not match.
func matchField(name string) (core.Key, core.Unit, bool) {
	base, unit, ok := splitNameUnit(name)
	if !ok {
		return "", core.UnitNone, false
	}
	compact := compactName(base)
	if compact == "" {
		return "", core.UnitNone, false
	}
	for _, f := range exportFields {
		for _, frag := range f.fragments {
			if strings.Contains(compact, frag) {
				return f.key, unit, true
			}
		}
	}
	return "", core.UnitNone, false
}

// splitNameUnit separates a trailing "(unit)" or "[unit]" from a name.
// Returns false when the brackets hold a unit ParseUnit does not know.
func splitNameUnit(name string) (string, core.Unit, bool) {
	name = strings.TrimSpace(name)
	for _, pair := range [][2]string{{"(", ")"}, {"[", "]"}} {
		if !strings.HasSuffix(name, pair[1]) {
			continue
		}
		i := strings.LastIndex(name, pair[0])
		if i < 0 {
			continue
		}
		u, ok := core.ParseUnit(name[i+1 : len(name)-1])
		return strings.TrimSpace(name[:i]), u, ok
	}
	return name, core.UnitNone, true
}

// compactName lowercases and drops everything but letters and digits.
func compactName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isNameColumn(name string) bool {
	c := compactName(name)
	for _, n := range nameColumns {
		if c == n {
			return true
		}
	}
	return false
}

func sameStream(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// addField stores a value under the key its name maps to. The unit in the
// name wins over a unit after the value; the first value per key is kept.
func addField(raw core.RawFields, name, value string) {
	key, unit, ok := matchField(name)
	if !ok {
		return
	}
	if _, exists := raw[string(key)]; exists {
		return
	}
	v, valueUnit, ok := core.SplitValueUnit(value)
	if !ok {
		return
	}
	if unit == core.UnitNone {
		unit = valueUnit
	}
	raw[string(key)] = core.Quantity{Value: v, Unit: unit}
}

// sniffDelimiter picks the most frequent of ',' ';' and tab in line.
func sniffDelimiter(line string) (rune, bool) {
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best, bestCount > 0
}

func firstLine(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}

// parseDelimited handles two layouts: one row per stream with a name
// column, or one row per property with a column per stream.
func parseDelimited(data []byte, stream string) (core.RawFields, error) {
	delim, ok := sniffDelimiter(firstLine(data))
	if !ok {
		return nil, fmt.Errorf("%w: no delimiter found in header", core.ErrParse)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: stream %q: export has no data rows", core.ErrNotFound, stream)
	}
	header := records[0]

	nameCol := -1
	for i, h := range header {
		if isNameColumn(core.CleanCell(h)) {
			nameCol = i
			break
		}
	}

	raw := make(core.RawFields)
	if nameCol >= 0 {
		for _, rec := range records[1:] {
			if nameCol >= len(rec) || !sameStream(core.CleanCell(rec[nameCol]), stream) {
				continue
			}
			for i, cell := range rec {
				if i == nameCol || i >= len(header) {
					continue
				}
				addField(raw, core.CleanCell(header[i]), cell)
			}
			return raw, nil
		}
		return nil, fmt.Errorf("%w: stream %q", core.ErrNotFound, stream)
	}

	// Property rows: first column names the property, an optional unit
	// column follows, then one column per stream.
	streamCol, unitCol := -1, -1
	for i, h := range header {
		h = core.CleanCell(h)
		switch {
		case i > 0 && sameStream(h, stream):
			streamCol = i
		case i > 0 && unitCol < 0 && (compactName(h) == "unit" || compactName(h) == "units"):
			unitCol = i
		}
	}
	if streamCol < 0 {
		return nil, fmt.Errorf("%w: stream %q", core.ErrNotFound, stream)
	}
	for _, rec := range records[1:] {
		if streamCol >= len(rec) || len(rec) == 0 {
			continue
		}
		name := core.CleanCell(rec[0])
		if unitCol >= 0 && unitCol < len(rec) {
			if u := core.CleanCell(rec[unitCol]); u != "" {
				name += " (" + u + ")"
			}
		}
		addField(raw, name, rec[streamCol])
	}
	return raw, nil
}

// parseText sniffs .txt files: a delimited header with a name column is
// read as a table, anything else as line sections.
func parseText(data []byte, stream string) (core.RawFields, error) {
	line := firstLine(data)
	if delim, ok := sniffDelimiter(line); ok {
		for _, cell := range strings.Split(line, string(delim)) {
			if isNameColumn(core.CleanCell(cell)) {
				return parseDelimited(data, stream)
			}
		}
	}
	return parseSections(data, stream)
}

// sectionHeader reports whether line starts a section and returns its name.
// Recognized forms: "[X]", "Stream: X" (any name column), and "X:".
func sectionHeader(line string) (string, bool) {
	if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
		return strings.TrimSpace(line[1 : len(line)-1]), true
	}
	if name, value, ok := strings.Cut(line, ":"); ok {
		if isNameColumn(name) && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
		if strings.TrimSpace(value) == "" && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name), true
		}
	}
	return "", false
}

// parseSections reads "key: value unit" or "key = value unit" lines inside
// the section named after the stream.
func parseSections(data []byte, stream string) (core.RawFields, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	raw := make(core.RawFields)
	inSection, found := false, false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if name, ok := sectionHeader(line); ok {
			if found && inSection {
				break
			}
			inSection = sameStream(name, stream)
			found = found || inSection
			continue
		}
		if !inSection {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			key, value, ok = strings.Cut(line, "=")
		}
		if !ok {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			key, value = fields[0], strings.Join(fields[1:], " ")
		}
		addField(raw, key, value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: stream %q", core.ErrNotFound, stream)
	}
	return raw, nil
}

// parseStructured reads JSON or YAML. JSON is tried first since yaml.v3
// rejects tab-indented JSON.
func parseStructured(data []byte, stream string) (core.RawFields, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		doc = nil
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
		}
	}

	record := findRecord(doc, stream)
	if record == nil {
		return nil, fmt.Errorf("%w: stream %q", core.ErrNotFound, stream)
	}

	names := make([]string, 0, len(record))
	for k := range record {
		names = append(names, k)
	}
	sort.Strings(names)

	raw := make(core.RawFields)
	for _, name := range names {
		if isNameColumn(name) {
			continue
		}
		switch v := record[name].(type) {
		case map[string]any:
			value, ok := scalarString(v["value"])
			if !ok {
				continue
			}
			if u, ok := v["unit"].(string); ok && u != "" {
				name += " (" + u + ")"
			}
			addField(raw, name, value)
		default:
			if value, ok := scalarString(v); ok {
				addField(raw, name, value)
			}
		}
	}
	return raw, nil
}

// findRecord walks the document breadth first for a mapping that names the
// stream in a name key, or a mapping stored under the stream name.
func findRecord(doc any, stream string) map[string]any {
	queue := []any{doc}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		switch v := cur.(type) {
		case map[string]any:
			for _, col := range nameColumns {
				for k, val := range v {
					if strings.EqualFold(k, col) {
						if s, ok := val.(string); ok && sameStream(s, stream) {
							return v
						}
					}
				}
			}
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if sameStream(k, stream) {
					if m, ok := v[k].(map[string]any); ok {
						return m
					}
				}
			}
			for _, k := range keys {
				queue = append(queue, v[k])
			}
		case []any:
			queue = append(queue, v...)
		}
	}
	return nil
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case int:
		return fmt.Sprint(x), true
	case int64:
		return fmt.Sprint(x), true
	case uint64:
		return fmt.Sprint(x), true
	case float64:
		return fmt.Sprint(x), true
	case string:
		return x, true
	}
	return "", false
}
