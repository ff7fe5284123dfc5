// Package nrrd reads and writes the subset of the NRRD format used for
// medical volumes: a text header describing a 3-D oriented grid, followed by
// raw or gzip-compressed voxel data. Scalar reference volumes are read for
// their geometry; displacement fields are written as 3-vector float images.
package nrrd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"rbfwarp/pkg/grid"
)

// Header is the parsed NRRD header of a volume.
type Header struct {
	// Geometry is the spatial grid described by the header.
	Geometry grid.Geometry

	// Components is the number of values per voxel (1 for scalar volumes).
	Components int

	// ComponentAxis is the index of the non-spatial axis, or -1.
	ComponentAxis int

	Type     string
	Encoding string
	Endian   string

	// DataFile is set for detached headers (.nhdr) and is relative to the
	// header's directory.
	DataFile string
}

// ErrNotNRRD is returned when the magic line is missing.
var ErrNotNRRD = errors.New("not a NRRD file")

// ReadHeader parses the header of the NRRD file at path.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := readHeader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// Reference is a GeometryProvider backed by the header of a NRRD volume.
type Reference string

// Geometry reads the header at the reference path.
func (r Reference) Geometry() (grid.Geometry, error) {
	h, err := ReadHeader(string(r))
	if err != nil {
		return grid.Geometry{}, err
	}
	return h.Geometry, nil
}

// rawHeader holds the fields as they appear in the file.
type rawHeader struct {
	dimension   int
	sizes       []int
	space       string
	origin      []float64
	directions  [][]float64 // nil entries are non-spatial axes
	spacings    []float64
	typ         string
	encoding    string
	endian      string
	dataFile    string
	hasSpaceDir bool
}

// readHeader consumes the header from r, leaving r positioned at the first
// data byte of an attached file.
func readHeader(r *bufio.Reader) (*Header, error) {
	magic, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if !strings.HasPrefix(magic, "NRRD000") {
		return nil, ErrNotNRRD
	}

	raw := rawHeader{encoding: "raw", endian: "little"}
	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if !strings.HasPrefix(trimmed, "#") && !strings.Contains(trimmed, ":=") {
			key, value, ok := strings.Cut(trimmed, ":")
			if !ok {
				return nil, fmt.Errorf("malformed header line %q", trimmed)
			}
			if err := raw.set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return raw.header()
}

func (raw *rawHeader) set(key, value string) error {
	var err error
	switch strings.ToLower(key) {
	case "dimension":
		raw.dimension, err = strconv.Atoi(value)
	case "sizes":
		for _, f := range strings.Fields(value) {
			n, err := strconv.Atoi(f)
			if err != nil {
				return err
			}
			raw.sizes = append(raw.sizes, n)
		}
	case "space":
		raw.space = value
	case "space dimension":
		var n int
		if n, err = strconv.Atoi(value); err == nil && n != 3 {
			err = fmt.Errorf("only 3-D spaces are supported, got %d", n)
		}
	case "space origin":
		raw.origin, err = parseVector(value)
	case "space directions":
		raw.hasSpaceDir = true
		for _, f := range strings.Fields(value) {
			if f == "none" {
				raw.directions = append(raw.directions, nil)
				continue
			}
			v, err := parseVector(f)
			if err != nil {
				return err
			}
			raw.directions = append(raw.directions, v)
		}
	case "spacings":
		for _, f := range strings.Fields(value) {
			s, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return err
			}
			raw.spacings = append(raw.spacings, s)
		}
	case "type":
		raw.typ = normalizeType(value)
	case "encoding":
		raw.encoding = strings.ToLower(value)
		if raw.encoding == "gz" {
			raw.encoding = "gzip"
		}
	case "endian":
		raw.endian = strings.ToLower(value)
	case "data file", "datafile":
		raw.dataFile = value
	}
	return err
}

// parseVector parses "(x,y,z)".
func parseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("vector %q must have 3 components", s)
	}
	v := make([]float64, 3)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed vector %q", s)
		}
		v[i] = f
	}
	return v, nil
}

func normalizeType(t string) string {
	switch strings.ToLower(t) {
	case "float":
		return "float"
	case "double":
		return "double"
	case "signed char", "int8", "int8_t":
		return "int8"
	case "uchar", "unsigned char", "uint8", "uint8_t":
		return "uint8"
	case "short", "short int", "signed short", "signed short int", "int16", "int16_t":
		return "int16"
	case "ushort", "unsigned short", "unsigned short int", "uint16", "uint16_t":
		return "uint16"
	case "int", "signed int", "int32", "int32_t":
		return "int32"
	case "uint", "unsigned int", "uint32", "uint32_t":
		return "uint32"
	default:
		return strings.ToLower(t)
	}
}

// parseSpace maps the space field to a frame. Headers without a space field
// are treated as LPS.
func parseSpace(space string) (grid.Frame, error) {
	switch strings.ToLower(space) {
	case "", "left-posterior-superior", "lps":
		return grid.LPS, nil
	case "right-anterior-superior", "ras":
		return grid.RAS, nil
	default:
		return grid.LPS, fmt.Errorf("unsupported space %q", space)
	}
}

func (raw *rawHeader) header() (*Header, error) {
	if raw.dimension == 0 {
		return nil, errors.New("missing dimension field")
	}
	if len(raw.sizes) != raw.dimension {
		return nil, fmt.Errorf("sizes has %d entries for dimension %d", len(raw.sizes), raw.dimension)
	}
	frame, err := parseSpace(raw.space)
	if err != nil {
		return nil, err
	}

	h := &Header{
		Components:    1,
		ComponentAxis: -1,
		Type:          raw.typ,
		Encoding:      raw.encoding,
		Endian:        raw.endian,
		DataFile:      raw.dataFile,
	}
	g := grid.Geometry{Direction: grid.IdentityDirection, Frame: frame}

	// Spatial axes are the ones with a direction; without space directions
	// they are the last three.
	var spatial []int
	if raw.hasSpaceDir {
		if len(raw.directions) != raw.dimension {
			return nil, fmt.Errorf("space directions has %d entries for dimension %d", len(raw.directions), raw.dimension)
		}
		for axis, d := range raw.directions {
			if d != nil {
				spatial = append(spatial, axis)
			}
		}
	} else {
		for axis := raw.dimension - 3; axis < raw.dimension; axis++ {
			if axis >= 0 {
				spatial = append(spatial, axis)
			}
		}
	}
	if len(spatial) != 3 {
		return nil, fmt.Errorf("expected 3 spatial axes, found %d", len(spatial))
	}
	for axis, n := range raw.sizes {
		if !contains(spatial, axis) {
			h.Components *= n
			h.ComponentAxis = axis
		}
	}

	for c, axis := range spatial {
		g.Size[c] = raw.sizes[axis]
		if raw.hasSpaceDir {
			d := r3.Vec{X: raw.directions[axis][0], Y: raw.directions[axis][1], Z: raw.directions[axis][2]}
			s := r3.Norm(d)
			if s == 0 {
				return nil, fmt.Errorf("space direction of axis %d is zero", axis)
			}
			g.Spacing[c] = s
			g.Direction[c] = d.X / s
			g.Direction[3+c] = d.Y / s
			g.Direction[6+c] = d.Z / s
			continue
		}
		g.Spacing[c] = 1
		if axis < len(raw.spacings) && !math.IsNaN(raw.spacings[axis]) {
			g.Spacing[c] = raw.spacings[axis]
		}
	}
	if raw.origin != nil {
		copy(g.Origin[:], raw.origin)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	h.Geometry = g
	return h, nil
}

func contains(axes []int, axis int) bool {
	for _, a := range axes {
		if a == axis {
			return true
		}
	}
	return false
}

// dataPath resolves a detached data file against the header path.
func dataPath(headerPath, dataFile string) string {
	if filepath.IsAbs(dataFile) {
		return dataFile
	}
	return filepath.Join(filepath.Dir(headerPath), dataFile)
}
