/*
Copyright © 2019 the PopCount authors.
This file is part of PopCount.

PopCount is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

PopCount is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with PopCount.  If not, see <http://www.gnu.org/licenses/>.*/

package popcount

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/proj"
)

// Boundary is a user-supplied area of interest: one or more polygons
// (holes permitted) together with their spatial reference. It is
// immutable once loaded; reprojection produces new geometry.
type Boundary struct {
	Geom geom.Polygonal
	SR   *proj.SR
}

// geoJSONCRS is the (deprecated but widely emitted) GeoJSON crs member.
type geoJSONCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type geoJSONFeature struct {
	Type     string            `json:"type"`
	Geometry *geojson.Geometry `json:"geometry"`
}

type geoJSONFile struct {
	Type     string            `json:"type"`
	CRS      *geoJSONCRS       `json:"crs"`
	Features []*geoJSONFeature `json:"features"`
	Geometry *geojson.Geometry `json:"geometry"`

	// Set when the file is a bare geometry rather than a feature
	// or feature collection.
	Coordinates json.RawMessage `json:"coordinates"`
}

// ReadBoundaryFile reads a boundary from the GeoJSON file at path.
// A missing or unreadable file is reported as ErrInputMissing.
func ReadBoundaryFile(path string) (*Boundary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("popcount: %w: %v", ErrInputMissing, err)
	}
	defer f.Close()
	b, err := LoadBoundary(f)
	if err != nil {
		return nil, fmt.Errorf("popcount: reading boundary file %s: %w", path, err)
	}
	return b, nil
}

// LoadBoundary decodes a GeoJSON boundary from r. The input may be a
// FeatureCollection, a single Feature, or a bare geometry; all
// polygonal parts are combined into one (multi)polygon. If the file
// carries no crs member the geometry is taken to be in WGS84
// geographic coordinates, per the GeoJSON specification.
func LoadBoundary(r io.Reader) (*Boundary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputMissing, err)
	}
	var file geoJSONFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding GeoJSON: %v", err)
	}

	var geometries []*geojson.Geometry
	switch file.Type {
	case "FeatureCollection":
		for _, f := range file.Features {
			if f != nil && f.Geometry != nil {
				geometries = append(geometries, f.Geometry)
			}
		}
	case "Feature":
		if file.Geometry != nil {
			geometries = append(geometries, file.Geometry)
		}
	default: // Bare geometry.
		if len(file.Coordinates) == 0 {
			return nil, fmt.Errorf("GeoJSON file contains no geometry")
		}
		var g geojson.Geometry
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("decoding GeoJSON geometry: %v", err)
		}
		geometries = append(geometries, &g)
	}
	if len(geometries) == 0 {
		return nil, fmt.Errorf("GeoJSON file contains no geometry")
	}

	var mp geom.MultiPolygon
	for _, gj := range geometries {
		g, err := geojson.FromGeoJSON(gj)
		if err != nil {
			return nil, fmt.Errorf("decoding GeoJSON geometry: %v", err)
		}
		p, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("boundary geometry must be polygonal; got %T", g)
		}
		mp = append(mp, p.Polygons()...)
	}

	sr, err := boundarySR(file.CRS)
	if err != nil {
		return nil, err
	}
	if len(mp) == 1 {
		return &Boundary{Geom: mp[0], SR: sr}, nil
	}
	return &Boundary{Geom: mp, SR: sr}, nil
}

func boundarySR(crs *geoJSONCRS) (*proj.SR, error) {
	if crs == nil || crs.Properties.Name == "" {
		return proj.Parse(geographicSRDef)
	}
	return ParseSR(crs.Properties.Name)
}
