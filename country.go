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
	"fmt"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	shpfile "github.com/jonas-p/go-shp"
)

// DefaultCodeFields is the prioritized list of attribute names that
// may hold the ISO-3166 alpha-3 code in a reference country layer.
// Natural Earth alone has shipped several spellings over the years, so
// the loader takes the first field present. This is a compatibility
// shim for schema variance across reference layer sources, not a
// contract; add to it as new sources appear.
var DefaultCodeFields = []string{"ISO_A3", "ADM0_A3", "ISO_A3_EH", "SOV_A3", "ISO3", "GID_0"}

type countryRecord struct {
	geom.Polygonal

	// code is the raw attribute value from the reference layer;
	// it is validated when a record is matched, not at load time,
	// so that a malformed code is reported rather than silently
	// turning into "country undetermined".
	code string
}

// CountryLayer is a read-only collection of national border polygons,
// each tagged with an ISO-3166 alpha-3 code, indexed for point
// containment queries. It is loaded once per run.
type CountryLayer struct {
	index *rtree.Rtree
	sr    *proj.SR
	n     int
}

// LoadCountryLayer reads a reference country layer from a shapefile,
// reprojecting it to geographic WGS84 coordinates if it is not already
// geographic. codeFields lists candidate attribute names for the
// alpha-3 code in priority order; if nil, DefaultCodeFields is used.
func LoadCountryLayer(filename string, codeFields []string) (*CountryLayer, error) {
	if codeFields == nil {
		codeFields = DefaultCodeFields
	}
	d, err := shp.NewDecoder(filename)
	if err != nil {
		return nil, fmt.Errorf("popcount: opening country layer %s: %v", filename, err)
	}
	defer d.Close()

	layerSR, err := d.SR()
	if err != nil {
		return nil, crsErrorf(err, "country layer %s has no usable spatial reference", filename)
	}
	sr, err := proj.Parse(geographicSRDef)
	if err != nil {
		return nil, crsErrorf(err, "parsing geographic spatial reference")
	}
	trans, err := layerSR.NewTransform(sr)
	if err != nil {
		return nil, crsErrorf(err, "reprojecting country layer to geographic coordinates")
	}

	codeField, err := chooseCodeField(d.Fields(), codeFields)
	if err != nil {
		return nil, fmt.Errorf("popcount: country layer %s: %v", filename, err)
	}

	layer := &CountryLayer{index: rtree.NewTree(25, 50), sr: sr}
	for {
		g, fields, more := d.DecodeRowFields(codeField)
		if !more {
			break
		}
		if g == nil {
			// Either a NULL shape record, which is skipped, or a
			// row-level decode failure, which d.Error() carries.
			if err := d.Error(); err != nil {
				return nil, fmt.Errorf("popcount: reading country layer %s: %v", filename, err)
			}
			continue
		}
		gg, err := g.Transform(trans)
		if err != nil {
			return nil, crsErrorf(err, "reprojecting country polygon")
		}
		p, ok := gg.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("popcount: country layer %s: shapes must be polygons; got %T", filename, gg)
		}
		layer.index.Insert(&countryRecord{Polygonal: p, code: fields[codeField]})
		layer.n++
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("popcount: reading country layer %s: %v", filename, err)
	}
	if layer.n == 0 {
		return nil, fmt.Errorf("popcount: country layer %s contains no records", filename)
	}
	return layer, nil
}

// Len returns the number of country records in the layer.
func (l *CountryLayer) Len() int { return l.n }

// SR returns the spatial reference the layer is held in.
func (l *CountryLayer) SR() *proj.SR { return l.sr }

// chooseCodeField returns the first candidate attribute name present
// in the shapefile's field list. Matching is case-insensitive, as is
// the decoder's.
func chooseCodeField(fields []shpfile.Field, candidates []string) (string, error) {
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[strings.ToLower(shpFieldName(f))] = true
	}
	for _, c := range candidates {
		if present[strings.ToLower(c)] {
			return c, nil
		}
	}
	return "", fmt.Errorf("no country code attribute found; tried %v", candidates)
}

// shpFieldName converts a fixed-width DBF field name to a string.
func shpFieldName(f shpfile.Field) string {
	b := f.Name[:]
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// ResolveCountry determines the ISO-3166 alpha-3 code of the country
// whose reference polygon contains a representative interior point of
// the boundary. A point lying exactly on a shared border matches
// whichever adjacent record is found first; exactly one code is
// returned. If the point falls in no country polygon the result is
// ErrCountryUndetermined. A matched record whose code attribute is
// malformed (wrong length, placeholder value) is an error, never
// silently accepted.
func (l *CountryLayer) ResolveCountry(b *Boundary) (string, error) {
	pt, err := RepresentativePoint(b, l.sr)
	if err != nil {
		return "", err
	}
	for _, ci := range l.index.SearchIntersect(pt.Bounds()) {
		c := ci.(*countryRecord)
		if pt.Within(c.Polygonal) != geom.Outside {
			code, err := normalizeCode(c.code)
			if err != nil {
				return "", fmt.Errorf("popcount: country matched at (%g, %g): %v", pt.X, pt.Y, err)
			}
			return code, nil
		}
	}
	return "", fmt.Errorf("popcount: no country contains point (%g, %g): %w", pt.X, pt.Y, ErrCountryUndetermined)
}

// normalizeCode validates and uppercases an alpha-3 country code.
// Reference layers use placeholder values (e.g. "-99") for disputed
// or unassigned territories; those are rejected.
func normalizeCode(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", fmt.Errorf("malformed country code %q", code)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("malformed country code %q", code)
		}
	}
	return c, nil
}

// RepresentativePoint returns a point in the interior of the boundary,
// expressed in spatial reference sr. The centroid is computed in an
// Albers equal-area projection fit to the geometry rather than
// directly in geographic coordinates: a naive coordinate-average
// centroid can be badly placed for large or high-latitude shapes. For
// concave or multi-part geometries whose centroid falls outside the
// shape, the largest part is scanned along the centroid's row for an
// interior point.
func RepresentativePoint(b *Boundary, sr *proj.SR) (geom.Point, error) {
	gg, err := Reproject(b.Geom, b.SR, sr)
	if err != nil {
		return geom.Point{}, err
	}
	pg, ok := gg.(geom.Polygonal)
	if !ok {
		return geom.Point{}, fmt.Errorf("popcount: boundary must be polygonal; got %T", gg)
	}

	pt, err := equalAreaCentroid(pg, sr)
	if err != nil {
		return geom.Point{}, err
	}
	if pt.Within(pg) != geom.Outside {
		return pt, nil
	}
	return interiorPoint(pg, pt)
}

// equalAreaCentroid computes the centroid of pg (held in spatial
// reference sr) in an Albers equal-area projection spanning the
// geometry's bounds, and returns it re-expressed in sr.
func equalAreaCentroid(pg geom.Polygonal, sr *proj.SR) (geom.Point, error) {
	b := pg.Bounds()
	// Standard parallels at 1/6 in from the bounds, the usual rule
	// of thumb for fitting an Albers projection to a region.
	dy := b.Max.Y - b.Min.Y
	aeaDef := fmt.Sprintf(
		"+proj=aea +lat_1=%g +lat_2=%g +lat_0=%g +lon_0=%g +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
		b.Min.Y+dy/6, b.Max.Y-dy/6, (b.Min.Y+b.Max.Y)/2, (b.Min.X+b.Max.X)/2)
	aeaSR, err := proj.Parse(aeaDef)
	if err != nil {
		return geom.Point{}, crsErrorf(err, "parsing equal-area projection")
	}
	gp, err := Reproject(pg, sr, aeaSR)
	if err != nil {
		return geom.Point{}, err
	}
	cent := gp.(geom.Polygonal).Centroid()
	back, err := Reproject(cent, aeaSR, sr)
	if err != nil {
		return geom.Point{}, err
	}
	return back.(geom.Point), nil
}

// interiorPoint scans the largest part of pg for a point inside it,
// starting from the row of the (exterior) centroid estimate.
func interiorPoint(pg geom.Polygonal, centroid geom.Point) (geom.Point, error) {
	var largest geom.Polygon
	var largestArea float64
	for _, p := range pg.Polygons() {
		if a := p.Area(); a > largestArea {
			largest, largestArea = p, a
		}
	}
	if largest == nil {
		// Zero-area geometry; the centroid estimate is as good a
		// representative as any.
		return centroid, nil
	}
	const steps = 256
	b := largest.Bounds()
	rows := []float64{
		centroid.Y,
		(b.Min.Y + b.Max.Y) / 2,
		b.Min.Y + (b.Max.Y-b.Min.Y)/4,
		b.Min.Y + (b.Max.Y-b.Min.Y)*3/4,
	}
	for _, y := range rows {
		if y < b.Min.Y || y > b.Max.Y {
			continue
		}
		for i := 0; i < steps; i++ {
			x := b.Min.X + (b.Max.X-b.Min.X)*(float64(i)+0.5)/steps
			pt := geom.Point{X: x, Y: y}
			if pt.Within(largest) == geom.Inside {
				return pt, nil
			}
		}
	}
	return centroid, nil
}
