/*
Copyright © 2020 the PopCount authors.
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
	"errors"
	"math"
	"testing"

	"github.com/ctessum/geom"
)

func TestParseSR(t *testing.T) {
	valid := []string{
		"EPSG:4326",
		"epsg:4326",
		"EPSG::4326",
		"urn:ogc:def:crs:EPSG::4326",
		"urn:ogc:def:crs:OGC:1.3:CRS84",
		"+proj=longlat +datum=WGS84 +no_defs",
		"+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +no_defs",
	}
	for _, def := range valid {
		if _, err := ParseSR(def); err != nil {
			t.Errorf("ParseSR(%q): %v", def, err)
		}
	}

	invalid := []string{"", "EPSG:abc", "not a definition"}
	for _, def := range invalid {
		if _, err := ParseSR(def); err == nil {
			t.Errorf("ParseSR(%q): want error", def)
		}
	}
}

func TestEPSGSRUnsupported(t *testing.T) {
	_, err := EPSGSR(54009)
	if err == nil {
		t.Fatal("want error for unsupported EPSG code")
	}
	var crsErr *CRSError
	if !errors.As(err, &crsErr) {
		t.Errorf("want *CRSError; got %#v", err)
	}
}

func TestReprojectIdentity(t *testing.T) {
	sr, err := ParseSR(geographicSRDef)
	if err != nil {
		t.Fatal(err)
	}
	pt := geom.Point{X: 12.5, Y: 41.9}
	gg, err := Reproject(pt, sr, sr)
	if err != nil {
		t.Fatal(err)
	}
	got := gg.(geom.Point)
	if math.Abs(got.X-pt.X) > 1e-9 || math.Abs(got.Y-pt.Y) > 1e-9 {
		t.Errorf("identity reprojection moved point: got %+v, want %+v", got, pt)
	}
}

func TestReprojectWebMercator(t *testing.T) {
	wgs84, err := EPSGSR(4326)
	if err != nil {
		t.Fatal(err)
	}
	merc, err := EPSGSR(3857)
	if err != nil {
		t.Fatal(err)
	}
	gg, err := Reproject(geom.Point{X: 1, Y: 0}, wgs84, merc)
	if err != nil {
		t.Fatal(err)
	}
	got := gg.(geom.Point)
	// One degree of longitude on the web-mercator sphere.
	want := 6378137 * math.Pi / 180
	if math.Abs(got.X-want) > 1e-3 {
		t.Errorf("got x=%g, want %g", got.X, want)
	}
	if math.Abs(got.Y) > 1e-3 {
		t.Errorf("got y=%g, want 0", got.Y)
	}
}

func TestNormalizeCRSMissingSR(t *testing.T) {
	sr, err := ParseSR(geographicSRDef)
	if err != nil {
		t.Fatal(err)
	}
	pt := geom.Point{X: 1, Y: 2}
	var crsErr *CRSError
	if _, err := NormalizeCRS(pt, nil, sr); !errors.As(err, &crsErr) {
		t.Errorf("nil vector SR: want *CRSError; got %v", err)
	}
	if _, err := NormalizeCRS(pt, sr, nil); !errors.As(err, &crsErr) {
		t.Errorf("nil raster SR: want *CRSError; got %v", err)
	}
}
