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
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// geographicSRDef is the common geographic spatial reference that the
// reference country layer is held in.
const geographicSRDef = "+proj=longlat +datum=WGS84 +no_defs"

// epsgDefs maps the spatial reference identifiers that commonly appear
// in GeoJSON crs members and GeoTIFF geokeys to proj4 definitions.
// proj.Parse only understands proj4 and WKT, so this table is a
// compatibility shim for the handful of codes our data sources use,
// not a general EPSG database.
var epsgDefs = map[int]string{
	4326: geographicSRDef,
	4269: "+proj=longlat +datum=NAD83 +no_defs",
	4267: "+proj=longlat +datum=NAD27 +no_defs",
	3857: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +no_defs",
}

// ParseSR parses a spatial reference definition, which may be a proj4
// string, a WKT string, or one of the EPSG-style identifiers in
// epsgDefs (e.g. "EPSG:4326", "urn:ogc:def:crs:EPSG::4326", or the
// GeoJSON default "urn:ogc:def:crs:OGC:1.3:CRS84").
func ParseSR(def string) (*proj.SR, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return nil, crsErrorf(nil, "empty spatial reference definition")
	}
	if code, ok := epsgCode(def); ok {
		return EPSGSR(code)
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, crsErrorf(err, "parsing spatial reference %q", def)
	}
	return sr, nil
}

// EPSGSR returns the spatial reference for the given EPSG code, for
// the codes in epsgDefs.
func EPSGSR(code int) (*proj.SR, error) {
	def, ok := epsgDefs[code]
	if !ok {
		return nil, crsErrorf(nil, "unsupported EPSG code %d; supply a proj4 or WKT definition instead", code)
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, crsErrorf(err, "parsing definition for EPSG code %d", code)
	}
	return sr, nil
}

// epsgCode extracts a numeric EPSG code from identifiers of the forms
// "EPSG:4326", "epsg::4326", and "urn:ogc:def:crs:EPSG::4326". The
// OGC CRS84 identifier is equivalent to EPSG 4326 for our purposes
// (axis order does not matter here; all geometry is x=lon, y=lat).
func epsgCode(def string) (int, bool) {
	d := strings.ToUpper(strings.TrimSpace(def))
	if d == "URN:OGC:DEF:CRS:OGC:1.3:CRS84" || d == "OGC:CRS84" || d == "CRS84" {
		return 4326, true
	}
	d = strings.TrimPrefix(d, "URN:OGC:DEF:CRS:")
	if !strings.HasPrefix(d, "EPSG") {
		return 0, false
	}
	d = strings.TrimPrefix(d, "EPSG")
	d = strings.TrimLeft(d, ":")
	var code int
	for _, c := range d {
		if c < '0' || c > '9' {
			return 0, false
		}
		code = code*10 + int(c-'0')
	}
	if code == 0 {
		return 0, false
	}
	return code, true
}

// Reproject transforms g from spatial reference from to spatial
// reference to. Transforming a geometry to its own spatial reference
// is a no-op.
func Reproject(g geom.Geom, from, to *proj.SR) (geom.Geom, error) {
	if from == nil || to == nil {
		return nil, crsErrorf(nil, "reprojecting: spatial reference is undefined")
	}
	t, err := from.NewTransform(to)
	if err != nil {
		return nil, crsErrorf(err, "creating coordinate transform")
	}
	gg, err := g.Transform(t)
	if err != nil {
		return nil, crsErrorf(err, "transforming geometry")
	}
	return gg, nil
}

// NormalizeCRS reconciles the coordinate reference systems of a vector
// geometry and a raster before any geometric operation between them.
// The vector side is always the one reprojected; reprojecting a large
// raster would be far more expensive and lossy, so the raster is never
// mutated. A nil spatial reference on either side is a *CRSError.
func NormalizeCRS(vector geom.Geom, vectorSR, rasterSR *proj.SR) (geom.Geom, error) {
	if vectorSR == nil {
		return nil, crsErrorf(nil, "boundary has no spatial reference")
	}
	if rasterSR == nil {
		return nil, crsErrorf(nil, "raster has no spatial reference")
	}
	return Reproject(vector, vectorSR, rasterSR)
}
