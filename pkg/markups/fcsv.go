// Package markups reads 3D Slicer fiducial markups files (.fcsv).
//
// A file is a block of "#"-prefixed header lines followed by one CSV record
// per control point:
//
//	# Markups fiducial file version = 4.11
//	# CoordinateSystem = LPS
//	# columns = id,x,y,z,ow,ox,oy,oz,vis,sel,lock,label,desc,associatedNodeID
//	vtkMRMLMarkupsFiducialNode_0,-1.5,20,3,0,0,0,1,1,1,0,F-1,15,
//
// A numeric description is taken as the point's RBF radius.
package markups

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"rbfwarp/internal/models"
	"rbfwarp/pkg/grid"
)

// defaultColumns is the record layout of files written without a columns header.
var defaultColumns = []string{"id", "x", "y", "z", "ow", "ox", "oy", "oz", "vis", "sel", "lock", "label", "desc", "associatedNodeID"}

// ReadFile reads the markups file at path.
func ReadFile(path string) (*models.LandmarkSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Read parses a markups file. Files without a CoordinateSystem line are RAS,
// which is what Slicer wrote before the header existed.
func Read(r io.Reader) (*models.LandmarkSet, error) {
	set := &models.LandmarkSet{Frame: grid.RAS}
	layout, err := newColumnLayout(defaultColumns)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			key, value, ok := strings.Cut(strings.TrimPrefix(line, "#"), "=")
			if !ok {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(key)) {
			case "coordinatesystem":
				frame, err := parseCoordinateSystem(value)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				set.Frame = frame
			case "columns":
				layout, err = newColumnLayout(strings.Split(value, ","))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
			}
			continue
		}

		record, err := csv.NewReader(strings.NewReader(line)).Read()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		point, err := layout.landmark(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		set.Points = append(set.Points, point)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// parseCoordinateSystem accepts the names used by current Slicer and the
// numeric codes of older versions (0 = RAS, 1 = LPS).
func parseCoordinateSystem(value string) (grid.Frame, error) {
	switch strings.TrimSpace(value) {
	case "0":
		return grid.RAS, nil
	case "1":
		return grid.LPS, nil
	}
	return grid.ParseFrame(value)
}

type columnLayout struct {
	x, y, z     int
	label, desc int
}

func newColumnLayout(names []string) (columnLayout, error) {
	l := columnLayout{x: -1, y: -1, z: -1, label: -1, desc: -1}
	for i, name := range names {
		switch strings.TrimSpace(name) {
		case "x":
			l.x = i
		case "y":
			l.y = i
		case "z":
			l.z = i
		case "label":
			l.label = i
		case "desc":
			l.desc = i
		}
	}
	if l.x < 0 || l.y < 0 || l.z < 0 {
		return l, fmt.Errorf("columns header has no x, y and z columns")
	}
	return l, nil
}

func (l columnLayout) landmark(record []string) (models.Landmark, error) {
	var lm models.Landmark
	coord := func(col int, name string) (float64, error) {
		if col >= len(record) {
			return 0, fmt.Errorf("missing %s coordinate", name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s coordinate %q", name, record[col])
		}
		return v, nil
	}

	var p r3.Vec
	var err error
	if p.X, err = coord(l.x, "x"); err != nil {
		return lm, err
	}
	if p.Y, err = coord(l.y, "y"); err != nil {
		return lm, err
	}
	if p.Z, err = coord(l.z, "z"); err != nil {
		return lm, err
	}
	lm.Position = p

	if l.label >= 0 && l.label < len(record) {
		lm.Label = record[l.label]
	}
	// Free-text descriptions are not radii.
	if l.desc >= 0 && l.desc < len(record) {
		if r, err := strconv.ParseFloat(strings.TrimSpace(record[l.desc]), 64); err == nil {
			lm.Radius = r
		}
	}
	return lm, nil
}
