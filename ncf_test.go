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
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeTestNCF writes r to a NetCDF file in dir and returns its path.
func writeTestNCF(t *testing.T, dir string, r *Raster) string {
	t.Helper()
	path := filepath.Join(dir, "population.nc")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := WriteRaster(f, r); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNCFRoundTrip(t *testing.T) {
	orig := uniformRaster(5, 4, 0, -1, true)
	for i := range orig.Data.Elements {
		orig.Data.Elements[i] = float64(i)
	}
	orig.Data.Elements[7] = -1 // One nodata cell.
	orig.SRDef = geographicSRDef
	sr, err := ParseSR(orig.SRDef)
	if err != nil {
		t.Fatal(err)
	}
	orig.SR = sr

	path := writeTestNCF(t, t.TempDir(), orig)
	got, err := OpenRaster(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got.Nx != orig.Nx || got.Ny != orig.Ny {
		t.Fatalf("got %d x %d cells, want %d x %d", got.Nx, got.Ny, orig.Nx, orig.Ny)
	}
	for _, v := range []struct {
		name      string
		got, want float64
	}{
		{"x0", got.Xo, orig.Xo},
		{"y0", got.Yo, orig.Yo},
		{"dx", got.Dx, orig.Dx},
		{"dy", got.Dy, orig.Dy},
		{"nodata", got.NoData, orig.NoData},
	} {
		if math.Abs(v.got-v.want) > 1e-12 {
			t.Errorf("%s: got %g, want %g", v.name, v.got, v.want)
		}
	}
	if !got.HasNoData {
		t.Error("nodata attribute was lost")
	}
	if got.SR == nil {
		t.Error("crs attribute was lost")
	}
	for i, want := range orig.Data.Elements {
		if got.Data.Elements[i] != want {
			t.Fatalf("cell %d: got %g, want %g", i, got.Data.Elements[i], want)
		}
	}
}

func TestNCFNoNodata(t *testing.T) {
	orig := uniformRaster(3, 3, 2, 0, false)
	path := writeTestNCF(t, t.TempDir(), orig)
	got, err := OpenRaster(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.HasNoData {
		t.Error("raster written without nodata reads back with one")
	}
}

func TestReadNCFMalformed(t *testing.T) {
	path := writeTempFile(t, []byte("CDF\x01 but otherwise garbage"))
	if _, err := OpenRaster(path, nil); err == nil {
		t.Error("want error for malformed NetCDF file")
	}
}
