package source

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
)

// maxArchiveBytes caps the decompressed simulation document.
const maxArchiveBytes = 256 << 20

var zipSignature = []byte("PK\x03\x04")

// archiveLeaves maps property leaf names to their stored units.
var archiveLeaves = []struct {
	name string
	key  core.Key
	unit core.Unit
}{
	{"temperature", core.KeyTemperature, core.UnitKelvin},
	{"pressure", core.KeyPressure, core.UnitPascal},
	{"massflow", core.KeyMassFlow, core.UnitKgPerS},
	{"density", core.KeyDensity, core.UnitKgPerM3},
	{"enthalpy", core.KeyEnthalpy, core.UnitKJPerKg},
	{"molarflow", core.KeyMolarFlow, core.UnitKmolPerH},
	{"volumetric_flow", core.KeyVolumetricFlow, core.UnitM3PerH},
}

// ArchiveConfig identifies the archive and the stream to read.
type ArchiveConfig struct {
	Path        string
	Stream      string
	Simulation  string
	ComponentID string
}

// ArchiveSource reads stream properties from a DWSIM archive on disk.
type ArchiveSource struct {
	cfg        ArchiveConfig
	normalizer *core.Normalizer
}

// NewArchive creates an archive source.
func NewArchive(cfg ArchiveConfig) *ArchiveSource {
	fields := make(core.FieldMap, len(archiveLeaves))
	for _, l := range archiveLeaves {
		fields[l.name] = l.key
	}
	return &ArchiveSource{
		cfg:        cfg,
		normalizer: core.NewNormalizer(core.DefaultSchema(), fields, nil),
	}
}

// Describe implements core.Source.
func (s *ArchiveSource) Describe() core.SourceDescriptor {
	return core.SourceDescriptor{Stream: s.cfg.Stream, Simulation: s.cfg.Simulation, Kind: config.SourceArchive}
}

// Path returns the archive path, for file watching.
func (s *ArchiveSource) Path() string { return s.cfg.Path }

// Fetch implements core.Source. A stream that cannot be located is absent.
func (s *ArchiveSource) Fetch(ctx context.Context) (core.Measurement, bool, error) {
	logger := logging.WithFields(ctx, "source", config.SourceArchive, "path", s.cfg.Path, "stream", s.cfg.Stream)

	m, err := s.Read()
	if errors.Is(err, core.ErrNotFound) {
		logger.Info("stream not found in archive", "reason", err)
		return core.Measurement{}, false, nil
	}
	if err != nil {
		return core.Measurement{}, false, err
	}
	if m.IsEmpty() {
		logger.Info("stream has no numeric properties")
		return core.Measurement{}, false, nil
	}
	return m, true, nil
}

// Check implements core.Checker by opening and parsing the archive. A
// missing file fails the check; a stream not yet in the archive does not.
func (s *ArchiveSource) Check(context.Context) error {
	data, err := s.readFile()
	if err != nil {
		return err
	}
	if _, err := s.Extract(data); err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return nil
}

// Read parses the archive and extracts the target stream.
func (s *ArchiveSource) Read() (core.Measurement, error) {
	data, err := s.readFile()
	if err != nil {
		return core.Measurement{}, err
	}
	return s.Extract(data)
}

func (s *ArchiveSource) readFile() ([]byte, error) {
	if s.cfg.Path == "" {
		return nil, fmt.Errorf("archive: %w: DWSIM_FILE is not set", core.ErrConfig)
	}
	data, err := os.ReadFile(s.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("archive: %w: %v", core.ErrNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: %w: %v", core.ErrParse, err)
	}
	return data, nil
}

// Extract parses raw XML or ZIP bytes and extracts the target stream.
func (s *ArchiveSource) Extract(data []byte) (core.Measurement, error) {
	doc, err := openDocument(data)
	if err != nil {
		return core.Measurement{}, err
	}
	root, err := parseXMLTree(documentReader(doc))
	if err != nil {
		return core.Measurement{}, fmt.Errorf("archive: %w: %v", core.ErrParse, err)
	}

	obj := findObject(root, s.cfg.Stream, s.cfg.ComponentID)
	if obj == nil {
		return core.Measurement{}, fmt.Errorf("archive: %w: stream %q", core.ErrNotFound, s.cfg.Stream)
	}
	phase := firstPhase(obj)
	if phase == nil {
		return core.Measurement{}, fmt.Errorf("archive: %w: stream %q has no phases", core.ErrNotFound, s.cfg.Stream)
	}
	props := findProperties(phase)
	if props == nil {
		return core.Measurement{}, fmt.Errorf("archive: %w: stream %q has no phase properties", core.ErrNotFound, s.cfg.Stream)
	}

	raw := make(core.RawFields, len(archiveLeaves))
	for _, l := range archiveLeaves {
		text, ok := props.field(l.name)
		if !ok {
			continue
		}
		v, ok := core.ParseNumber(text)
		if !ok {
			continue
		}
		raw[l.name] = core.Quantity{Value: v, Unit: l.unit}
	}
	return s.normalizer.Normalize(raw), nil
}

// documentReader strips a BOM. UTF-8 documents are also sanitized; a
// declared single-byte charset is left for the XML decoder to convert.
func documentReader(doc []byte) io.Reader {
	switch strings.ToLower(declaredEncoding(doc)) {
	case "", "utf-8", "utf8":
		return core.NewTextReader(bytes.NewReader(doc))
	}
	return core.NewBOMSkippingReader(bytes.NewReader(doc))
}

// declaredEncoding returns the encoding named in the XML declaration.
func declaredEncoding(doc []byte) string {
	head := doc
	if len(head) > 256 {
		head = head[:256]
	}
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(head, []byte("<?xml")) {
		return ""
	}
	end := bytes.Index(head, []byte("?>"))
	if end < 0 {
		return ""
	}
	decl := string(head[:end])
	i := strings.Index(decl, "encoding=")
	if i < 0 || i+len("encoding=") >= len(decl) {
		return ""
	}
	rest := decl[i+len("encoding="):]
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return ""
	}
	name, _, ok := strings.Cut(rest[1:], string(quote))
	if !ok {
		return ""
	}
	return name
}

// openDocument returns the simulation document inside data, unpacking ZIP
// containers.
func openDocument(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zipSignature) {
		return data, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive: %w: %v", core.ErrParse, err)
	}
	member := selectMember(zr.File)
	if member == nil {
		return nil, fmt.Errorf("archive: %w: zip contains no files", core.ErrNotFound)
	}

	rc, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("archive: %w: %s: %v", core.ErrParse, member.Name, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, maxArchiveBytes))
	if err != nil {
		return nil, fmt.Errorf("archive: %w: %s: %v", core.ErrParse, member.Name, err)
	}
	return body, nil
}

// selectMember picks the first .xml entry, else the first non-directory entry.
func selectMember(files []*zip.File) *zip.File {
	var fallback *zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			return f
		}
		if fallback == nil {
			fallback = f
		}
	}
	return fallback
}

// objectStrategy matches a simulation object against the target.
type objectStrategy struct {
	name  string
	match func(obj *xmlNode) bool
}

func objectStrategies(target, componentID string) []objectStrategy {
	lower := strings.ToLower(target)
	return []objectStrategy{
		{"exact tag", func(obj *xmlNode) bool {
			if target == "" {
				return false
			}
			for _, f := range []string{"Tag", "Name"} {
				if v, ok := obj.field(f); ok && v == target {
					return true
				}
			}
			return false
		}},
		{"tag contains", func(obj *xmlNode) bool {
			if lower == "" {
				return false
			}
			for _, f := range []string{"Tag", "Name"} {
				if v, ok := obj.field(f); ok && strings.Contains(strings.ToLower(v), lower) {
					return true
				}
			}
			return false
		}},
		{"component id", func(obj *xmlNode) bool {
			if componentID == "" {
				return false
			}
			v, ok := obj.field("ComponentName")
			return ok && v == componentID
		}},
	}
}

// findObject searches root > SimulationObjects > SimulationObject. The
// first strategy with any hit wins.
func findObject(root *xmlNode, target, componentID string) *xmlNode {
	objects := root.child("SimulationObjects").childrenNamed("SimulationObject")
	for _, strategy := range objectStrategies(target, componentID) {
		for _, obj := range objects {
			if strategy.match(obj) {
				return obj
			}
		}
	}
	return nil
}

// firstPhase returns the phase with ID 0, else the first phase.
func firstPhase(obj *xmlNode) *xmlNode {
	phases := obj.child("Phases").childrenNamed("Phase")
	for _, p := range phases {
		if id, ok := p.field("ID"); ok && strings.TrimSpace(id) == "0" {
			return p
		}
	}
	if len(phases) > 0 {
		return phases[0]
	}
	return nil
}

// propertyStrategies are tried in order; the first non-nil result wins.
var propertyStrategies = []struct {
	name string
	find func(phase *xmlNode) *xmlNode
}{
	{"primary", func(phase *xmlNode) *xmlNode { return phase.child("Properties") }},
	{"alternate", func(phase *xmlNode) *xmlNode { return phase.child("PhaseProperties") }},
	{"type annotation", func(phase *xmlNode) *xmlNode {
		for _, c := range phase.Children {
			for _, attr := range []string{"type", "Type"} {
				if v, ok := c.Attrs[attr]; ok && strings.Contains(strings.ToLower(v), "properties") {
					return c
				}
			}
		}
		return nil
	}},
}

func findProperties(phase *xmlNode) *xmlNode {
	for _, s := range propertyStrategies {
		if n := s.find(phase); n != nil {
			return n
		}
	}
	return nil
}
