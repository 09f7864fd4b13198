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
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/google/tiff"
	tifflzw "golang.org/x/image/tiff/lzw"
)

// TIFF tags used by the GeoTIFF reader.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagPlanarConfig    = 284
	tagSampleFormat    = 339

	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoASCIIParams      = 34737
	tagGDALNoData          = 42113
)

// GeoTIFF compression schemes.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionOldDeflate = 32946
)

// Geokeys used to recover the spatial reference.
const (
	geoKeyModelType     = 1024
	geoKeyGeographic    = 2048
	geoKeyProjectedCS   = 3072
	geoKeyUserDefined   = 32767
	modelTypeProjected  = 1
	modelTypeGeographic = 2
)

// ReadGeoTIFF decodes a single-band GeoTIFF raster. Strip and tile
// organizations are supported, with no compression, Deflate, or
// TIFF-variant LZW, and the horizontal-differencing predictor on
// integer data. The affine transform is recovered from the
// ModelPixelScale+ModelTiepoint tag pair (or ModelTransformation),
// the spatial reference from the geokey directory, and the nodata
// sentinel from the GDAL nodata tag.
func ReadGeoTIFF(r tiff.ReadAtReadSeeker) (*Raster, error) {
	t, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return nil, clipErrorf(err, "parsing TIFF structure")
	}
	ifds := t.IFDs()
	if len(ifds) == 0 {
		return nil, clipErrorf(nil, "TIFF file contains no image directory")
	}
	ifd := ifds[0] // Full-resolution image; any further IFDs are overviews.

	width := int(tagUintDefault(ifd, tagImageWidth, 0))
	height := int(tagUintDefault(ifd, tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return nil, clipErrorf(nil, "invalid TIFF dimensions %d x %d", width, height)
	}
	bps := int(tagUintDefault(ifd, tagBitsPerSample, 1))
	sf := int(tagUintDefault(ifd, tagSampleFormat, 1))
	compression := tagUintDefault(ifd, tagCompression, compressionNone)
	spp := int(tagUintDefault(ifd, tagSamplesPerPixel, 1))
	planar := tagUintDefault(ifd, tagPlanarConfig, 1)
	predictor := tagUintDefault(ifd, tagPredictor, 1)

	switch bps {
	case 8, 16, 32, 64:
	default:
		return nil, clipErrorf(nil, "unsupported TIFF bit depth %d", bps)
	}
	if bps == 64 && sf != 3 {
		return nil, clipErrorf(nil, "unsupported 64-bit integer TIFF samples")
	}
	if predictor == 2 && sf == 3 {
		return nil, clipErrorf(nil, "horizontal predictor is not supported for floating-point TIFF samples")
	}
	if predictor > 2 {
		return nil, clipErrorf(nil, "unsupported TIFF predictor %d", predictor)
	}

	// With planar organization the first plane holds the first band
	// contiguously, so the per-pixel stride collapses to one sample.
	stride := spp
	if planar == 2 {
		stride = 1
	}

	data := sparse.ZerosDense(height, width)
	if ifd.HasField(tagTileWidth) {
		err = readTiles(r, ifd, data, width, height, bps, sf, stride, int(compression), int(predictor), planar == 2)
	} else {
		err = readStrips(r, ifd, data, width, height, bps, sf, stride, int(compression), int(predictor), planar == 2)
	}
	if err != nil {
		return nil, err
	}

	out := &Raster{
		Data: data,
		Nx:   width,
		Ny:   height,
	}
	if err := geoTransform(ifd, out); err != nil {
		return nil, err
	}
	if err := geoSR(ifd, out); err != nil {
		return nil, err
	}
	if s, ok := tagASCII(ifd, tagGDALNoData); ok {
		s = strings.TrimSpace(s)
		if nd, err := strconv.ParseFloat(s, 64); err == nil {
			out.NoData = nd
			out.HasNoData = true
		}
	}
	return out, nil
}

func readStrips(r io.ReaderAt, ifd tiff.IFD, data *sparse.DenseArray,
	width, height, bps, sf, stride, compression, predictor int, planar bool) error {

	offsets, err := tagUints(ifd, tagStripOffsets)
	if err != nil {
		return clipErrorf(err, "reading TIFF strip offsets")
	}
	counts, err := tagUints(ifd, tagStripByteCounts)
	if err != nil {
		return clipErrorf(err, "reading TIFF strip byte counts")
	}
	if len(counts) < len(offsets) {
		return clipErrorf(nil, "TIFF strip offset and byte count mismatch")
	}
	rowsPerStrip := int(tagUintDefault(ifd, tagRowsPerStrip, uint64(height)))
	if rowsPerStrip <= 0 {
		rowsPerStrip = height
	}
	stripsPerPlane := (height + rowsPerStrip - 1) / rowsPerStrip
	if planar {
		// Only the first plane (band) is read.
		if len(offsets) < stripsPerPlane {
			return clipErrorf(nil, "TIFF file has too few strips")
		}
		offsets = offsets[:stripsPerPlane]
	} else if len(offsets) < stripsPerPlane {
		return clipErrorf(nil, "TIFF file has too few strips")
	}

	order := byteOrder(ifd)
	sampleBytes := bps / 8
	for s, off := range offsets {
		row0 := s * rowsPerStrip
		if row0 >= height {
			break
		}
		nrows := rowsPerStrip
		if row0+nrows > height {
			nrows = height - row0
		}
		raw, err := readSegment(r, off, counts[s], compression)
		if err != nil {
			return clipErrorf(err, "reading TIFF strip %d", s)
		}
		rowBytes := width * stride * sampleBytes
		if len(raw) < nrows*rowBytes {
			return clipErrorf(nil, "TIFF strip %d is truncated", s)
		}
		if predictor == 2 {
			undiff(raw, width, nrows, stride, sampleBytes, order)
		}
		for row := 0; row < nrows; row++ {
			for col := 0; col < width; col++ {
				pos := row*rowBytes + col*stride*sampleBytes
				data.Elements[(row0+row)*width+col] = sampleFloat(raw, pos, bps, sf, order)
			}
		}
	}
	return nil
}

func readTiles(r io.ReaderAt, ifd tiff.IFD, data *sparse.DenseArray,
	width, height, bps, sf, stride, compression, predictor int, planar bool) error {

	tw := int(tagUintDefault(ifd, tagTileWidth, 0))
	th := int(tagUintDefault(ifd, tagTileLength, 0))
	if tw <= 0 || th <= 0 {
		return clipErrorf(nil, "invalid TIFF tile dimensions %d x %d", tw, th)
	}
	offsets, err := tagUints(ifd, tagTileOffsets)
	if err != nil {
		return clipErrorf(err, "reading TIFF tile offsets")
	}
	counts, err := tagUints(ifd, tagTileByteCounts)
	if err != nil {
		return clipErrorf(err, "reading TIFF tile byte counts")
	}
	if len(counts) < len(offsets) {
		return clipErrorf(nil, "TIFF tile offset and byte count mismatch")
	}
	tilesAcross := (width + tw - 1) / tw
	tilesDown := (height + th - 1) / th
	tilesPerPlane := tilesAcross * tilesDown
	if len(offsets) < tilesPerPlane {
		return clipErrorf(nil, "TIFF file has too few tiles")
	}
	// First plane only, as in readStrips.
	offsets = offsets[:tilesPerPlane]

	order := byteOrder(ifd)
	sampleBytes := bps / 8
	rowBytes := tw * stride * sampleBytes
	for i, off := range offsets {
		raw, err := readSegment(r, off, counts[i], compression)
		if err != nil {
			return clipErrorf(err, "reading TIFF tile %d", i)
		}
		if len(raw) < th*rowBytes {
			return clipErrorf(nil, "TIFF tile %d is truncated", i)
		}
		if predictor == 2 {
			undiff(raw, tw, th, stride, sampleBytes, order)
		}
		col0 := (i % tilesAcross) * tw
		row0 := (i / tilesAcross) * th
		for row := 0; row < th && row0+row < height; row++ {
			for col := 0; col < tw && col0+col < width; col++ {
				pos := row*rowBytes + col*stride*sampleBytes
				data.Elements[(row0+row)*width+col0+col] = sampleFloat(raw, pos, bps, sf, order)
			}
		}
	}
	return nil
}

// readSegment reads and decompresses one strip or tile.
func readSegment(r io.ReaderAt, off, n uint64, compression int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, int64(off)); err != nil {
		return nil, err
	}
	switch compression {
	case compressionNone:
		return buf, nil
	case compressionLZW:
		rc := tifflzw.NewReader(bytes.NewReader(buf), tifflzw.MSB, 8)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil && len(data) == 0 {
			return nil, err
		}
		return data, nil
	case compressionDeflate, compressionOldDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported TIFF compression %d", compression)
	}
}

// undiff reverses TIFF horizontal differencing (predictor 2) in place
// for integer samples.
func undiff(raw []byte, width, nrows, stride, sampleBytes int, order binary.ByteOrder) {
	rowBytes := width * stride * sampleBytes
	for row := 0; row < nrows; row++ {
		for col := 1; col < width; col++ {
			for s := 0; s < stride; s++ {
				pos := row*rowBytes + (col*stride+s)*sampleBytes
				prev := pos - stride*sampleBytes
				switch sampleBytes {
				case 1:
					raw[pos] += raw[prev]
				case 2:
					order.PutUint16(raw[pos:], order.Uint16(raw[pos:])+order.Uint16(raw[prev:]))
				case 4:
					order.PutUint32(raw[pos:], order.Uint32(raw[pos:])+order.Uint32(raw[prev:]))
				}
			}
		}
	}
}

// sampleFloat converts the sample at byte offset pos to a float64.
func sampleFloat(raw []byte, pos, bps, sf int, order binary.ByteOrder) float64 {
	switch bps {
	case 8:
		if sf == 2 {
			return float64(int8(raw[pos]))
		}
		return float64(raw[pos])
	case 16:
		u := order.Uint16(raw[pos:])
		if sf == 2 {
			return float64(int16(u))
		}
		return float64(u)
	case 32:
		u := order.Uint32(raw[pos:])
		switch sf {
		case 3:
			return float64(math.Float32frombits(u))
		case 2:
			return float64(int32(u))
		default:
			return float64(u)
		}
	default: // 64-bit floating point; other 64-bit formats are rejected earlier.
		return math.Float64frombits(order.Uint64(raw[pos:]))
	}
}

// geoTransform recovers the affine pixel-to-coordinate transform.
func geoTransform(ifd tiff.IFD, out *Raster) error {
	scale, okScale := tagFloats(ifd, tagModelPixelScale)
	tie, okTie := tagFloats(ifd, tagModelTiepoint)
	if okScale && okTie && len(scale) >= 2 && len(tie) >= 6 {
		out.Dx = scale[0]
		out.Dy = -scale[1] // North-up: rows advance southward.
		out.Xo = tie[3] - tie[0]*scale[0]
		out.Yo = tie[4] + tie[1]*scale[1]
		return nil
	}
	if m, ok := tagFloats(ifd, tagModelTransformation); ok && len(m) >= 16 {
		if m[1] != 0 || m[4] != 0 {
			return clipErrorf(nil, "rotated rasters are not supported")
		}
		out.Dx, out.Dy = m[0], m[5]
		out.Xo, out.Yo = m[3], m[7]
		return nil
	}
	return clipErrorf(nil, "GeoTIFF carries no pixel-to-coordinate transform")
}

// geoSR recovers the spatial reference from the geokey directory,
// falling back to the GeoASCIIParams definition when the coordinate
// system is user-defined.
func geoSR(ifd tiff.IFD, out *Raster) error {
	dir, err := tagUints(ifd, tagGeoKeyDirectory)
	if err != nil || len(dir) < 4 {
		return crsErrorf(err, "GeoTIFF carries no spatial reference")
	}
	var modelType, geogCode, projCode int
	for i := 4; i+3 < len(dir); i += 4 {
		keyID, loc, value := int(dir[i]), int(dir[i+1]), int(dir[i+3])
		if loc != 0 {
			continue // Value lives in another tag; none of our keys do.
		}
		switch keyID {
		case geoKeyModelType:
			modelType = value
		case geoKeyGeographic:
			geogCode = value
		case geoKeyProjectedCS:
			projCode = value
		}
	}
	code := geogCode
	if modelType == modelTypeProjected && projCode != 0 && projCode != geoKeyUserDefined {
		code = projCode
	}
	if code == 0 || code == geoKeyUserDefined {
		// A user-defined coordinate system carries its definition in
		// GeoASCIIParams rather than an EPSG code. The ASCII values
		// are "|"-terminated.
		if def, ok := tagASCII(ifd, tagGeoASCIIParams); ok {
			def = strings.TrimSpace(strings.TrimRight(def, "|"))
			sr, err := ParseSR(def)
			if err != nil {
				return err
			}
			out.SR = sr
			out.SRDef = def
			return nil
		}
		return crsErrorf(nil, "GeoTIFF carries no usable spatial reference code")
	}
	sr, err := EPSGSR(code)
	if err != nil {
		return err
	}
	out.SR = sr
	out.SRDef = epsgDefs[code]
	return nil
}

func byteOrder(ifd tiff.IFD) binary.ByteOrder {
	// Sample data shares the byte order of the tag values.
	if ifd.HasField(tagImageWidth) {
		if v := ifd.GetField(tagImageWidth).Value(); v != nil {
			return v.Order()
		}
	}
	return binary.LittleEndian
}

// tagUints reads an integer-valued tag.
func tagUints(ifd tiff.IFD, id uint16) ([]uint64, error) {
	if !ifd.HasField(id) {
		return nil, fmt.Errorf("TIFF tag %d is missing", id)
	}
	f := ifd.GetField(id)
	b := f.Value().Bytes()
	order := f.Value().Order()
	n := int(f.Count())
	out := make([]uint64, 0, n)
	switch f.Type().ID() {
	case 1: // BYTE
		for i := 0; i < n && i < len(b); i++ {
			out = append(out, uint64(b[i]))
		}
	case 3: // SHORT
		for i := 0; i+1 < len(b) && len(out) < n; i += 2 {
			out = append(out, uint64(order.Uint16(b[i:])))
		}
	case 4: // LONG
		for i := 0; i+3 < len(b) && len(out) < n; i += 4 {
			out = append(out, uint64(order.Uint32(b[i:])))
		}
	case 16: // LONG8 (BigTIFF)
		for i := 0; i+7 < len(b) && len(out) < n; i += 8 {
			out = append(out, order.Uint64(b[i:]))
		}
	default:
		return nil, fmt.Errorf("TIFF tag %d has unexpected type %d", id, f.Type().ID())
	}
	return out, nil
}

// tagUintDefault reads a single-valued integer tag, returning def if
// the tag is absent.
func tagUintDefault(ifd tiff.IFD, id uint16, def uint64) uint64 {
	v, err := tagUints(ifd, id)
	if err != nil || len(v) == 0 {
		return def
	}
	return v[0]
}

// tagFloats reads a floating-point-valued tag.
func tagFloats(ifd tiff.IFD, id uint16) ([]float64, bool) {
	if !ifd.HasField(id) {
		return nil, false
	}
	f := ifd.GetField(id)
	b := f.Value().Bytes()
	order := f.Value().Order()
	n := int(f.Count())
	var out []float64
	switch f.Type().ID() {
	case 11: // FLOAT
		for i := 0; i+3 < len(b) && len(out) < n; i += 4 {
			out = append(out, float64(math.Float32frombits(order.Uint32(b[i:]))))
		}
	case 12: // DOUBLE
		for i := 0; i+7 < len(b) && len(out) < n; i += 8 {
			out = append(out, math.Float64frombits(order.Uint64(b[i:])))
		}
	default:
		u, err := tagUints(ifd, id)
		if err != nil {
			return nil, false
		}
		for _, v := range u {
			out = append(out, float64(v))
		}
	}
	return out, true
}

// tagASCII reads an ASCII-valued tag.
func tagASCII(ifd tiff.IFD, id uint16) (string, bool) {
	if !ifd.HasField(id) {
		return "", false
	}
	f := ifd.GetField(id)
	if f.Type().ID() != 2 {
		return "", false
	}
	return strings.TrimRight(string(f.Value().Bytes()), "\x00"), true
}
