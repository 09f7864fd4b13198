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
	"fmt"
	"os"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// ncfPopulationVar is the variable name ReadNCF looks for first; if it
// is absent, the first two-dimensional variable in the file is used.
const ncfPopulationVar = "population"

// ReadNCF reads a population grid from a NetCDF (classic format) file.
// The grid geometry is carried in the global attributes x0, y0, dx and
// dy, the spatial reference in the global attribute crs, and the
// nodata sentinel in the variable's nodata (or _FillValue) attribute.
func ReadNCF(rw cdf.ReaderWriterAt) (*Raster, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, clipErrorf(err, "parsing NetCDF structure")
	}

	v, err := ncfGridVariable(f.Header)
	if err != nil {
		return nil, err
	}
	dims := f.Header.Lengths(v)
	ny, nx := dims[0], dims[1]
	if nx <= 0 || ny <= 0 {
		return nil, clipErrorf(nil, "invalid NetCDF grid dimensions %d x %d", nx, ny)
	}

	out := &Raster{Nx: nx, Ny: ny}
	for _, a := range []struct {
		name string
		dst  *float64
	}{
		{"x0", &out.Xo},
		{"y0", &out.Yo},
		{"dx", &out.Dx},
		{"dy", &out.Dy},
	} {
		val, ok := ncfAttrFloat(f.Header, "", a.name)
		if !ok {
			return nil, clipErrorf(nil, "NetCDF file is missing the %s attribute", a.name)
		}
		*a.dst = val
	}
	if def, ok := f.Header.GetAttribute("", "crs").(string); ok && def != "" {
		sr, err := ParseSR(def)
		if err != nil {
			return nil, err
		}
		out.SR = sr
		out.SRDef = def
	}
	if nd, ok := ncfAttrFloat(f.Header, v, "nodata"); ok {
		out.NoData, out.HasNoData = nd, true
	} else if nd, ok := ncfAttrFloat(f.Header, v, "_FillValue"); ok {
		out.NoData, out.HasNoData = nd, true
	}

	buf := f.Header.ZeroValue(v, nx*ny)
	if _, err := f.Reader(v, nil, nil).Read(buf); err != nil {
		return nil, clipErrorf(err, "reading NetCDF variable %s", v)
	}
	out.Data = sparse.ZerosDense(ny, nx)
	switch b := buf.(type) {
	case []float64:
		copy(out.Data.Elements, b)
	case []float32:
		for i, e := range b {
			out.Data.Elements[i] = float64(e)
		}
	case []int32:
		for i, e := range b {
			out.Data.Elements[i] = float64(e)
		}
	case []int16:
		for i, e := range b {
			out.Data.Elements[i] = float64(e)
		}
	case []int8:
		for i, e := range b {
			out.Data.Elements[i] = float64(e)
		}
	default:
		return nil, clipErrorf(nil, "NetCDF variable %s has unsupported type %T", v, buf)
	}
	return out, nil
}

// ncfGridVariable picks the variable holding the population grid.
func ncfGridVariable(h *cdf.Header) (string, error) {
	vars := h.Variables()
	for _, v := range vars {
		if v == ncfPopulationVar && len(h.Lengths(v)) == 2 {
			return v, nil
		}
	}
	for _, v := range vars {
		if len(h.Lengths(v)) == 2 {
			return v, nil
		}
	}
	return "", clipErrorf(nil, "NetCDF file contains no two-dimensional grid variable")
}

// ncfAttrFloat reads a single-valued numeric attribute.
func ncfAttrFloat(h *cdf.Header, v, name string) (float64, bool) {
	switch a := h.GetAttribute(v, name).(type) {
	case []float64:
		if len(a) > 0 {
			return a[0], true
		}
	case []float32:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	case []int32:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	case []int16:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	}
	return 0, false
}

// WriteRaster writes r to a NetCDF file in the layout ReadNCF reads:
// a two-dimensional population variable with the grid geometry in
// global attributes.
func WriteRaster(w *os.File, r *Raster) error {
	if err := r.check(); err != nil {
		return err
	}
	h := cdf.NewHeader([]string{"y", "x"}, []int{r.Ny, r.Nx})
	h.AddAttribute("", "comment", "PopCount population grid file")
	h.AddAttribute("", "x0", []float64{r.Xo})
	h.AddAttribute("", "y0", []float64{r.Yo})
	h.AddAttribute("", "dx", []float64{r.Dx})
	h.AddAttribute("", "dy", []float64{r.Dy})
	if r.SRDef != "" {
		h.AddAttribute("", "crs", r.SRDef)
	}
	h.AddVariable(ncfPopulationVar, []string{"y", "x"}, []float64{0})
	h.AddAttribute(ncfPopulationVar, "units", "people per cell")
	if r.HasNoData {
		h.AddAttribute(ncfPopulationVar, "nodata", []float64{r.NoData})
	}
	h.Define()

	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("popcount: writing NetCDF header: %v", err)
	}
	end := f.Header.Lengths(ncfPopulationVar)
	begin := make([]int, len(end))
	if _, err := f.Writer(ncfPopulationVar, begin, end).Write(r.Data.Elements); err != nil {
		return fmt.Errorf("popcount: writing NetCDF variable %s: %v", ncfPopulationVar, err)
	}
	return cdf.UpdateNumRecs(w)
}
