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
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
)

// Raster is a 2-D grid of numeric cell values with an affine
// pixel-to-coordinate transform and a spatial reference. Grids are
// stored north-up: row 0 is the top of the raster and Dy is negative.
type Raster struct {
	// Data holds the cell values in row-major order with shape
	// [Ny, Nx].
	Data *sparse.DenseArray

	Nx, Ny int

	// Xo, Yo is the coordinate of the outer corner of the grid's
	// top-left cell; Dx and Dy are the cell sizes in the grid's
	// spatial reference units.
	Xo, Yo, Dx, Dy float64

	SR *proj.SR

	// SRDef is the definition SR was parsed from, kept for
	// round-tripping to files.
	SRDef string

	// NoData is the sentinel marking cells with no data, valid only
	// when HasNoData is true.
	NoData    float64
	HasNoData bool

	// Log receives diagnostics. If nil, the logrus standard logger
	// is used.
	Log logrus.FieldLogger
}

func (r *Raster) logger() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}

// Bounds returns the raster's spatial extent.
func (r *Raster) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	b.Extend(geom.NewBoundsPoint(geom.Point{X: r.Xo, Y: r.Yo}))
	b.Extend(geom.NewBoundsPoint(geom.Point{
		X: r.Xo + float64(r.Nx)*r.Dx,
		Y: r.Yo + float64(r.Ny)*r.Dy,
	}))
	return b
}

// CellCenter returns the coordinate of the center of the cell at the
// given row and column.
func (r *Raster) CellCenter(row, col int) geom.Point {
	return geom.Point{
		X: r.Xo + (float64(col)+0.5)*r.Dx,
		Y: r.Yo + (float64(row)+0.5)*r.Dy,
	}
}

// Value returns the cell value at the given row and column.
func (r *Raster) Value(row, col int) float64 {
	return r.Data.Elements[row*r.Nx+col]
}

func (r *Raster) check() error {
	if r.Data == nil || r.Nx <= 0 || r.Ny <= 0 || len(r.Data.Elements) != r.Nx*r.Ny {
		return clipErrorf(nil, "malformed raster: %d x %d cells", r.Nx, r.Ny)
	}
	if r.Dx == 0 || r.Dy == 0 {
		return clipErrorf(nil, "malformed raster: zero cell size")
	}
	return nil
}

// Clip returns the subset of the raster overlapping the given
// polygons: a rectangular grid cropped to the polygons' bounding
// extent where every cell whose center lies outside all polygons is
// set to the nodata value. The polygons must be in the raster's
// spatial reference; use NormalizeCRS first.
//
// If the raster declares no nodata value, zero is substituted and a
// diagnostic is logged; without a sentinel, background cells would be
// counted as population downstream.
//
// An empty polygon set, a geometry entirely outside the raster
// extent, and a malformed raster are each a *ClipError. A degenerate
// (zero-area) polygon inside the extent is not an error; it produces
// an all-nodata clip.
func (r *Raster) Clip(polys []geom.Polygonal) (*Raster, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if len(polys) == 0 {
		return nil, clipErrorf(nil, "clipping: empty geometry set")
	}

	nodata := r.NoData
	if !r.HasNoData {
		nodata = 0
		r.logger().Warn("popcount: raster declares no nodata value; assuming 0 for background cells")
	}

	b := geom.NewBounds()
	for _, p := range polys {
		b.Extend(p.Bounds())
	}
	if b.Empty() || !b.Overlaps(r.Bounds()) {
		return nil, clipErrorf(nil, "clipping: geometry lies outside the raster extent")
	}

	col0, col1 := cellRange(b.Min.X, b.Max.X, r.Xo, r.Dx, r.Nx)
	row0, row1 := cellRange(b.Min.Y, b.Max.Y, r.Yo, r.Dy, r.Ny)
	if col0 >= col1 || row0 >= row1 {
		return nil, clipErrorf(nil, "clipping: geometry lies outside the raster extent")
	}

	nx, ny := col1-col0, row1-row0
	out := &Raster{
		Data:      sparse.ZerosDense(ny, nx),
		Nx:        nx,
		Ny:        ny,
		Xo:        r.Xo + float64(col0)*r.Dx,
		Yo:        r.Yo + float64(row0)*r.Dy,
		Dx:        r.Dx,
		Dy:        r.Dy,
		SR:        r.SR,
		SRDef:     r.SRDef,
		NoData:    nodata,
		HasNoData: true,
		Log:       r.Log,
	}
	for row := 0; row < ny; row++ {
		for col := 0; col < nx; col++ {
			center := out.CellCenter(row, col)
			v := nodata
			for _, p := range polys {
				if !center.Bounds().Overlaps(p.Bounds()) {
					continue
				}
				if center.Within(p) != geom.Outside {
					v = r.Value(row0+row, col0+col)
					break
				}
			}
			out.Data.Elements[row*nx+col] = v
		}
	}
	return out, nil
}

// cellRange converts a coordinate interval [cMin, cMax] to a
// half-open index range [i0, i1) of the cells it touches, clamped to
// [0, n). The cell size d may be negative (north-up rows).
func cellRange(cMin, cMax, origin, d float64, n int) (i0, i1 int) {
	a := (cMin - origin) / d
	b := (cMax - origin) / d
	if a > b {
		a, b = b, a
	}
	i0 = int(math.Floor(a))
	i1 = int(math.Ceil(b))
	if i1 == i0 {
		i1++ // Degenerate interval on a cell edge still spans a cell.
	}
	if i0 < 0 {
		i0 = 0
	}
	if i1 > n {
		i1 = n
	}
	return i0, i1
}

// OpenRaster reads the raster file at path, which may be a GeoTIFF or
// a NetCDF grid; the format is detected from the file's magic number.
// The file handle is held only for the duration of the read and is
// closed on every return path.
func OpenRaster(path string, log logrus.FieldLogger) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, clipErrorf(err, "opening raster %s", path)
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.ReadAt(magic, 0); err != nil {
		return nil, clipErrorf(err, "reading raster %s", path)
	}
	var r *Raster
	switch {
	case bytes.HasPrefix(magic, []byte("II")) || bytes.HasPrefix(magic, []byte("MM")):
		r, err = ReadGeoTIFF(f)
	case bytes.HasPrefix(magic, []byte("CDF")):
		r, err = ReadNCF(f)
	default:
		return nil, clipErrorf(nil, "raster %s: unrecognized format (magic %x)", path, magic)
	}
	if err != nil {
		return nil, fmt.Errorf("popcount: raster %s: %w", path, err)
	}
	r.Log = log
	return r, nil
}
