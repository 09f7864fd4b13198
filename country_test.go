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
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"
	geomshp "github.com/ctessum/geom/encoding/shp"
	shpfile "github.com/jonas-p/go-shp"
)

// wgs84WKT is the contents of the .prj sidecar file written alongside
// test country layers.
const wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

type testCountry struct {
	code string
	p    geom.Polygon
}

func square(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

// writeCountryLayer writes a shapefile country layer (with its .prj
// sidecar) to dir and returns the .shp path.
func writeCountryLayer(t *testing.T, dir string, countries []testCountry) string {
	t.Helper()
	path := filepath.Join(dir, "countries.shp")
	e, err := geomshp.NewEncoderFromFields(path, shpfile.POLYGON,
		shpfile.StringField("ISO_A3", 10))
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range countries {
		if err := e.EncodeFields(c.p, c.code); err != nil {
			t.Fatal(err)
		}
	}
	e.Close()
	prj := path[:len(path)-4] + ".prj"
	if err := os.WriteFile(prj, []byte(wgs84WKT), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testBoundary(t *testing.T, p geom.Polygonal) *Boundary {
	t.Helper()
	sr, err := ParseSR(geographicSRDef)
	if err != nil {
		t.Fatal(err)
	}
	return &Boundary{Geom: p, SR: sr}
}

func TestResolveCountry(t *testing.T) {
	path := writeCountryLayer(t, t.TempDir(), []testCountry{
		{code: "AAA", p: square(0, 0, 10, 10)},
		{code: "BBB", p: square(10, 0, 20, 10)},
	})
	layer, err := LoadCountryLayer(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if layer.Len() != 2 {
		t.Fatalf("got %d records, want 2", layer.Len())
	}

	tests := []struct {
		name string
		b    geom.Polygon
		want string
	}{
		{"insideA", square(2, 2, 3, 3), "AAA"},
		{"insideB", square(12, 2, 13, 3), "BBB"},
		{"nearBorderA", square(9, 2, 9.9, 3), "AAA"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			code, err := layer.ResolveCountry(testBoundary(t, test.b))
			if err != nil {
				t.Fatal(err)
			}
			if code != test.want {
				t.Errorf("got %s, want %s", code, test.want)
			}
		})
	}
}

func TestResolveCountryUndetermined(t *testing.T) {
	path := writeCountryLayer(t, t.TempDir(), []testCountry{
		{code: "AAA", p: square(0, 0, 10, 10)},
	})
	layer, err := LoadCountryLayer(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Open ocean: no country polygon contains the boundary.
	_, err = layer.ResolveCountry(testBoundary(t, square(-20, 2, -19, 3)))
	if !errors.Is(err, ErrCountryUndetermined) {
		t.Errorf("want ErrCountryUndetermined; got %v", err)
	}
}

func TestResolveCountryMalformedCode(t *testing.T) {
	// Natural Earth marks disputed territories with the placeholder
	// code "-99"; matching one must be an error, not a silent result.
	path := writeCountryLayer(t, t.TempDir(), []testCountry{
		{code: "-99", p: square(30, 0, 40, 10)},
	})
	layer, err := LoadCountryLayer(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = layer.ResolveCountry(testBoundary(t, square(32, 2, 33, 3)))
	if err == nil {
		t.Fatal("want error for placeholder country code")
	}
	if errors.Is(err, ErrCountryUndetermined) {
		t.Error("placeholder code must not be reported as undetermined")
	}
}

func TestResolveCountryStraddlingBorder(t *testing.T) {
	path := writeCountryLayer(t, t.TempDir(), []testCountry{
		{code: "AAA", p: square(0, 0, 10, 10)},
		{code: "BBB", p: square(10, 0, 20, 10)},
	})
	layer, err := LoadCountryLayer(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	// A boundary centered on the shared border must still resolve to
	// exactly one country.
	code, err := layer.ResolveCountry(testBoundary(t, square(9, 2, 11, 3)))
	if err != nil {
		t.Fatal(err)
	}
	if code != "AAA" && code != "BBB" {
		t.Errorf("got %q, want AAA or BBB", code)
	}
}

func TestLoadCountryLayerErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadCountryLayer(filepath.Join(dir, "missing.shp"), nil); err == nil {
		t.Error("want error for missing shapefile")
	}

	path := writeCountryLayer(t, dir, []testCountry{
		{code: "AAA", p: square(0, 0, 10, 10)},
	})
	if _, err := LoadCountryLayer(path, []string{"NO_SUCH_FIELD"}); err == nil {
		t.Error("want error when no code attribute is present")
	}

	// A layer without a .prj file has no usable spatial reference.
	if err := os.Remove(path[:len(path)-4] + ".prj"); err != nil {
		t.Fatal(err)
	}
	_, err := LoadCountryLayer(path, nil)
	var crsErr *CRSError
	if !errors.As(err, &crsErr) {
		t.Errorf("want *CRSError for missing .prj; got %v", err)
	}
}

func TestLoadCountryLayerNullRecord(t *testing.T) {
	dir := t.TempDir()
	path := writeCountryLayer(t, dir, []testCountry{
		{code: "AAA", p: square(0, 0, 10, 10)},
		{code: "BBB", p: square(10, 0, 20, 10)},
	})
	// Degrade the first record to a NULL shape: the shape type sits
	// after the 100-byte file header and the 8-byte record header.
	// The polygon content that follows is skipped via the record
	// length.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(make([]byte, 4), 108); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	layer, err := LoadCountryLayer(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if layer.Len() != 1 {
		t.Errorf("got %d records, want 1", layer.Len())
	}
	code, err := layer.ResolveCountry(testBoundary(t, square(14, 4, 16, 6)))
	if err != nil {
		t.Fatal(err)
	}
	if code != "BBB" {
		t.Errorf("got code %s, want BBB", code)
	}
	// The degraded record's country is gone from the layer.
	_, err = layer.ResolveCountry(testBoundary(t, square(4, 4, 6, 6)))
	if !errors.Is(err, ErrCountryUndetermined) {
		t.Errorf("want ErrCountryUndetermined; got %v", err)
	}
}

func TestChooseCodeField(t *testing.T) {
	fields := []shpfile.Field{
		shpfile.StringField("NAME", 40),
		shpfile.StringField("adm0_a3", 10),
	}
	got, err := chooseCodeField(fields, DefaultCodeFields)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ADM0_A3" {
		t.Errorf("got %s, want ADM0_A3", got)
	}

	if _, err := chooseCodeField(fields[:1], DefaultCodeFields); err == nil {
		t.Error("want error when no candidate field is present")
	}
}

func TestNormalizeCode(t *testing.T) {
	valid := map[string]string{"usa": "USA", "ITA": "ITA", " fra ": "FRA"}
	for in, want := range valid {
		got, err := normalizeCode(in)
		if err != nil {
			t.Errorf("normalizeCode(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("normalizeCode(%q) = %q, want %q", in, got, want)
		}
	}
	for _, in := range []string{"", "-99", "A1B", "ITAL", "IT"} {
		if _, err := normalizeCode(in); err == nil {
			t.Errorf("normalizeCode(%q): want error", in)
		}
	}
}

func TestRepresentativePointConcave(t *testing.T) {
	// A C-shaped polygon whose naive centroid falls in the notch,
	// outside the shape.
	c := geom.Polygon{{
		{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10},
		{X: 0, Y: 8}, {X: 8, Y: 8}, {X: 8, Y: 2}, {X: 0, Y: 2},
		{X: 0, Y: 0},
	}}
	sr, err := ParseSR(geographicSRDef)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := RepresentativePoint(testBoundary(t, c), sr)
	if err != nil {
		t.Fatal(err)
	}
	if pt.Within(c) == geom.Outside {
		t.Errorf("representative point %+v lies outside the boundary", pt)
	}
}

func TestRepresentativePointMultiPart(t *testing.T) {
	// Two islands; the representative point must land on one of them,
	// not in the water between.
	mp := geom.MultiPolygon{
		square(0, 0, 4, 4),
		square(20, 0, 22, 2),
	}
	sr, err := ParseSR(geographicSRDef)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := RepresentativePoint(testBoundary(t, mp), sr)
	if err != nil {
		t.Fatal(err)
	}
	if pt.Within(mp) == geom.Outside {
		t.Errorf("representative point %+v lies outside the boundary", pt)
	}
}
