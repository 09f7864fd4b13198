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

// Package popcount estimates the population living inside a
// user-supplied geographic boundary. The boundary's country is
// determined from its geometry alone by point-in-polygon matching
// against a reference country layer, the country's gridded population
// raster is retrieved, the raster is clipped to the boundary, and the
// valid cell values are summed.
package popcount

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"
)

// Version gives the version number.
const Version = "0.1.0"

// unknownTimestamp is written in place of a dataset date when the
// timestamp probe fails; an unavailable timestamp never aborts a run.
const unknownTimestamp = "Unknown"

// Config holds the settings for a population estimate.
type Config struct {
	// BoundaryFile is the GeoJSON file holding the area of interest.
	BoundaryFile string

	// CountryLayerFile is the shapefile holding the reference country
	// polygons tagged with ISO-3166 alpha-3 codes.
	CountryLayerFile string

	// RasterURLTemplate maps a country code to its population raster
	// URL; see RasterURL. If empty, DefaultRasterURLTemplate is used.
	RasterURLTemplate string

	// CodeFields lists candidate country-code attribute names in the
	// reference layer, in priority order. If nil, DefaultCodeFields
	// is used.
	CodeFields []string

	// PopulationOutputFile and TimestampOutputFile, if non-empty, are
	// written at the end of a successful run: the estimated population
	// as a plain-text integer and the dataset date as an ISO-8601 date
	// (or "Unknown"). Neither is written if the run fails.
	PopulationOutputFile string
	TimestampOutputFile  string
}

// A Result is the outcome of a successful population estimate.
type Result struct {
	// Code is the resolved ISO-3166 alpha-3 country code.
	Code string

	// Population is the estimated number of people inside the
	// boundary, truncated to an integer.
	Population int64

	// RasterURL is the location the population raster was fetched
	// from.
	RasterURL string

	// LastModified is the population dataset's last-modification
	// time; valid only when HasLastModified is true.
	LastModified    time.Time
	HasLastModified bool
}

// LastModifiedString formats the dataset date as an ISO-8601 calendar
// date, or "Unknown" if no timestamp could be determined.
func (r *Result) LastModifiedString() string {
	if !r.HasLastModified {
		return unknownTimestamp
	}
	return r.LastModified.UTC().Format("2006-01-02")
}

// An Estimator runs population estimates.
type Estimator struct {
	Config

	// Fetcher retrieves the population raster. If nil, a plain
	// HTTPFetcher is used.
	Fetcher Fetcher

	// Log receives progress and diagnostics. If nil, the logrus
	// standard logger is used.
	Log logrus.FieldLogger

	layer *CountryLayer
}

// NewEstimator creates an Estimator with the given configuration.
func NewEstimator(c Config) *Estimator {
	return &Estimator{Config: c}
}

func (e *Estimator) logger() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e *Estimator) fetcher() Fetcher {
	if e.Fetcher != nil {
		return e.Fetcher
	}
	return &HTTPFetcher{}
}

// countryLayer loads the reference country layer on first use. An
// Estimator can serve several boundaries without re-reading it.
func (e *Estimator) countryLayer() (*CountryLayer, error) {
	if e.layer != nil {
		return e.layer, nil
	}
	if e.CountryLayerFile == "" {
		return nil, fmt.Errorf("popcount: %w: no country layer file specified", ErrInputMissing)
	}
	layer, err := LoadCountryLayer(e.CountryLayerFile, e.CodeFields)
	if err != nil {
		return nil, err
	}
	e.layer = layer
	return layer, nil
}

// Run executes the estimate: resolve the country, locate and fetch its
// population raster, clip the raster to the boundary, and sum the
// valid cells. The output files, if configured, are written only after
// every fallible step has succeeded, so a failed run leaves no
// partial outputs behind.
func (e *Estimator) Run(ctx context.Context) (*Result, error) {
	log := e.logger()

	if e.BoundaryFile == "" {
		return nil, fmt.Errorf("popcount: %w: no boundary file specified", ErrInputMissing)
	}
	boundary, err := ReadBoundaryFile(e.BoundaryFile)
	if err != nil {
		return nil, err
	}
	layer, err := e.countryLayer()
	if err != nil {
		return nil, err
	}
	code, err := layer.ResolveCountry(boundary)
	if err != nil {
		return nil, err
	}
	log.WithField("code", code).Info("resolved country")

	template := e.RasterURLTemplate
	if template == "" {
		template = DefaultRasterURLTemplate
	}
	url, err := RasterURL(template, code)
	if err != nil {
		return nil, err
	}
	result := &Result{Code: code, RasterURL: url}
	result.LastModified, result.HasLastModified = ProbeLastModified(ctx, e.fetcher(), url)
	if !result.HasLastModified {
		log.WithField("url", url).Warn("dataset timestamp could not be determined")
	}

	raster, err := e.fetchRaster(ctx, url)
	if err != nil {
		return nil, err
	}
	clipGeom, err := NormalizeCRS(boundary.Geom, boundary.SR, raster.SR)
	if err != nil {
		return nil, err
	}
	pg, ok := clipGeom.(geom.Polygonal)
	if !ok {
		return nil, clipErrorf(nil, "boundary must be polygonal; got %T", clipGeom)
	}
	clipped, err := raster.Clip([]geom.Polygonal{pg})
	if err != nil {
		return nil, err
	}
	result.Population = SumPopulation(clipped)
	log.WithFields(logrus.Fields{
		"code":       code,
		"population": result.Population,
	}).Info("estimated population")

	if err := e.writeOutputs(result); err != nil {
		return nil, err
	}
	return result, nil
}

// fetchRaster downloads the raster at url to a temporary file and
// decodes it. The raster formats are random-access, so the download is
// spooled to disk rather than held in memory; country-scale rasters
// run to hundreds of megabytes.
func (e *Estimator) fetchRaster(ctx context.Context, url string) (*Raster, error) {
	body, err := e.fetcher().Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp("", "popcount-*.raster")
	if err != nil {
		return nil, fmt.Errorf("popcount: creating temporary raster file: %v", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := io.Copy(tmp, body); err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	return OpenRaster(tmp.Name(), e.Log)
}

// writeOutputs writes the configured output files. It runs last, after
// every fallible pipeline step, so that a failed run produces no
// output files at all.
func (e *Estimator) writeOutputs(r *Result) error {
	if e.PopulationOutputFile != "" {
		pop := strconv.FormatInt(r.Population, 10) + "\n"
		if err := os.WriteFile(e.PopulationOutputFile, []byte(pop), 0644); err != nil {
			return fmt.Errorf("popcount: writing population output: %v", err)
		}
	}
	if e.TimestampOutputFile != "" {
		ts := r.LastModifiedString() + "\n"
		if err := os.WriteFile(e.TimestampOutputFile, []byte(ts), 0644); err != nil {
			return fmt.Errorf("popcount: writing timestamp output: %v", err)
		}
	}
	return nil
}
