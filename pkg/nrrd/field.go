package nrrd

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"go.uber.org/multierr"

	"rbfwarp/pkg/grid"
)

// Writer stores displacement fields as attached NRRD files. It implements
// registration.FieldWriter.
type Writer struct {
	Path string

	// Compress selects gzip encoding of the voxel data.
	Compress bool
}

// WriteField writes field to w.Path, replacing any existing file.
func (w Writer) WriteField(field *grid.DisplacementField) (err error) {
	f, err := os.Create(w.Path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return Encode(f, field, w.Compress)
}

func spaceName(f grid.Frame) string {
	if f == grid.RAS {
		return "right-anterior-superior"
	}
	return "left-posterior-superior"
}

func formatVector(x, y, z float64) string {
	return fmt.Sprintf("(%.17g,%.17g,%.17g)", x, y, z)
}

// Encode writes field as a NRRD vector image: a 3-component float axis
// followed by the three spatial axes, little-endian.
func Encode(w io.Writer, field *grid.DisplacementField, compress bool) error {
	g := field.Geometry
	bw := bufio.NewWriter(w)

	encoding := "raw"
	if compress {
		encoding = "gzip"
	}
	dirs := make([]string, 3)
	for d := 0; d < 3; d++ {
		a := g.Axis(d)
		dirs[d] = formatVector(a.X, a.Y, a.Z)
	}

	fmt.Fprintln(bw, "NRRD0004")
	fmt.Fprintln(bw, "# Complete NRRD file format specification at:")
	fmt.Fprintln(bw, "# http://teem.sourceforge.net/nrrd/format.html")
	fmt.Fprintln(bw, "type: float")
	fmt.Fprintln(bw, "dimension: 4")
	fmt.Fprintf(bw, "space: %s\n", spaceName(g.Frame))
	fmt.Fprintf(bw, "sizes: 3 %d %d %d\n", g.Size[0], g.Size[1], g.Size[2])
	fmt.Fprintf(bw, "space directions: none %s %s %s\n", dirs[0], dirs[1], dirs[2])
	fmt.Fprintln(bw, "kinds: vector domain domain domain")
	fmt.Fprintln(bw, "endian: little")
	fmt.Fprintf(bw, "encoding: %s\n", encoding)
	fmt.Fprintf(bw, "space origin: %s\n", formatVector(g.Origin[0], g.Origin[1], g.Origin[2]))
	fmt.Fprintln(bw)

	if !compress {
		if err := writeFloat32(bw, field.Data); err != nil {
			return err
		}
		return bw.Flush()
	}

	gz := gzip.NewWriter(bw)
	if err := writeFloat32(gz, field.Data); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

func writeFloat32(w io.Writer, data []float64) error {
	buf := make([]byte, 0, 1<<16)
	for _, v := range data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
		if len(buf) == cap(buf) {
			if _, err := w.Write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	_, err := w.Write(buf)
	return err
}

// ReadField reads a displacement field written by WriteField or any NRRD
// with a leading 3-component axis of float or double values.
func ReadField(path string) (field *grid.DisplacementField, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	br := bufio.NewReader(f)
	h, err := readHeader(br)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if h.Components != 3 || h.ComponentAxis != 0 {
		return nil, fmt.Errorf("%s: not a displacement field (%d components on axis %d)", path, h.Components, h.ComponentAxis)
	}

	var data io.Reader = br
	if h.DataFile != "" {
		df, err := os.Open(dataPath(path, h.DataFile))
		if err != nil {
			return nil, err
		}
		defer df.Close()
		data = bufio.NewReader(df)
	}
	if h.Encoding == "gzip" {
		gz, err := gzip.NewReader(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		data = gz
	} else if h.Encoding != "raw" {
		return nil, fmt.Errorf("%s: unsupported encoding %q", path, h.Encoding)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if h.Endian == "big" {
		order = binary.BigEndian
	}

	field, err = grid.NewDisplacementField(h.Geometry)
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case "float":
		values := make([]float32, len(field.Data))
		if err := binary.Read(data, order, values); err != nil {
			return nil, fmt.Errorf("%s: reading voxel data: %w", path, err)
		}
		for i, v := range values {
			field.Data[i] = float64(v)
		}
	case "double":
		if err := binary.Read(data, order, field.Data); err != nil {
			return nil, fmt.Errorf("%s: reading voxel data: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%s: %w: %q", path, errUnsupportedType, h.Type)
	}
	return field, nil
}

var errUnsupportedType = errors.New("unsupported displacement field type")
