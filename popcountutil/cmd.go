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

// Package popcountutil holds the configuration and command-line
// interface for the popcount program.
package popcountutil

import (
	"context"
	"fmt"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/popcount"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to PopCount.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel sets the logging verbosity. Valid options are
              "debug", "info", "warning", and "error".`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "BoundaryFile",
			usage: `
              BoundaryFile is the path to the GeoJSON file holding the
              boundary of the area whose population should be estimated.
              It can be a local path, an HTTP(S) URL, or a blob storage
              location (gs://, s3://, file://).`,
			shorthand:  "b",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), countryCmd.Flags()},
		},
		{
			name: "CountryLayerFile",
			usage: `
              CountryLayerFile is the path to the shapefile holding the
              reference country polygons tagged with ISO-3166 alpha-3
              codes (e.g. Natural Earth admin-0 countries). It can be a
              local path, an HTTP(S) URL, or a blob storage location;
              remote shapefiles are downloaded with their .dbf, .shx,
              and .prj sidecar files.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), countryCmd.Flags()},
		},
		{
			name: "CodeFields",
			usage: `
              CodeFields lists candidate attribute names for the
              country code in the reference layer, in priority order.`,
			defaultVal: popcount.DefaultCodeFields,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), countryCmd.Flags()},
		},
		{
			name: "RasterURLTemplate",
			usage: `
              RasterURLTemplate maps a country code to the URL of its
              gridded population raster. The {CODE} and {code} tokens
              are replaced with the upper- and lowercase alpha-3 code
              respectively.`,
			defaultVal: popcount.DefaultRasterURLTemplate,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), probeCmd.Flags()},
		},
		{
			name: "PopulationOutputFile",
			usage: `
              PopulationOutputFile is the path where the estimated
              population is written as a plain-text integer.`,
			defaultVal: "population.txt",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "TimestampOutputFile",
			usage: `
              TimestampOutputFile is the path where the population
              dataset's last-modification date is written as an
              ISO-8601 date, or "Unknown" if it cannot be determined.`,
			defaultVal: "dataset_date.txt",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CacheDir",
			usage: `
              CacheDir is a directory where downloaded population
              rasters are cached between runs. If empty, rasters are
              re-downloaded every run.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ProbeTimeoutSeconds",
			usage: `
              ProbeTimeoutSeconds bounds the dataset timestamp probe.
              A probe that does not finish in time degrades the
              timestamp to "Unknown" rather than failing the run.`,
			defaultVal: 10,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), probeCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("POPCOUNT")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(countryCmd)
	Root.AddCommand(probeCmd)
}

// setConfig finds and reads in the configuration file, if there is
// one, and sets the logging verbosity.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("popcount: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		return fmt.Errorf("popcount: %v", err)
	}
	logrus.SetLevel(level)
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "popcount",
	Short: "Estimate the population inside a geographic boundary.",
	Long: `PopCount estimates the number of people living inside a user-supplied
geographic boundary. The boundary's country is determined from its geometry
alone, the country's gridded population raster is retrieved, clipped to the
boundary, and summed.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using command-line
arguments, or by setting environment variables in the format 'POPCOUNT_var'
where 'var' is the name of the variable to be set.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of PopCount.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("PopCount v%s\n", popcount.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Estimate the population inside the boundary.",
	Long: `run executes the full estimation pipeline: resolve the boundary's
country, locate and fetch its population raster, clip the raster to the
boundary, and write the population and dataset-date output files. No output
files are written if any step fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := estimatorFromConfig(ctx)
		if err != nil {
			return err
		}
		result, err := e.Run(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("%d\n", result.Population)
		return nil
	},
	DisableAutoGenTag: true,
}

var countryCmd = &cobra.Command{
	Use:   "country",
	Short: "Resolve the boundary's country code.",
	Long: `country determines the ISO-3166 alpha-3 code of the country
containing the boundary, without fetching any population data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		boundaryFile, err := maybeDownload(ctx, Cfg.GetString("BoundaryFile"))
		if err != nil {
			return err
		}
		layerFile, err := maybeDownload(ctx, Cfg.GetString("CountryLayerFile"))
		if err != nil {
			return err
		}
		boundary, err := popcount.ReadBoundaryFile(boundaryFile)
		if err != nil {
			return err
		}
		layer, err := popcount.LoadCountryLayer(layerFile, cast.ToStringSlice(Cfg.Get("CodeFields")))
		if err != nil {
			return err
		}
		code, err := layer.ResolveCountry(boundary)
		if err != nil {
			return err
		}
		cmd.Printf("%s\n", code)
		return nil
	},
	DisableAutoGenTag: true,
}

var probeCmd = &cobra.Command{
	Use:   "probe [country code]",
	Short: "Print a country's raster URL and dataset date.",
	Long: `probe expands the raster URL template for the given alpha-3 country
code and reports the dataset's last-modification date, without downloading
the raster itself.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := popcount.RasterURL(Cfg.GetString("RasterURLTemplate"), args[0])
		if err != nil {
			return err
		}
		f := &popcount.HTTPFetcher{
			ProbeTimeout: time.Duration(Cfg.GetInt("ProbeTimeoutSeconds")) * time.Second,
		}
		cmd.Printf("%s\n", url)
		if t, ok := popcount.ProbeLastModified(context.Background(), f, url); ok {
			cmd.Printf("%s\n", t.UTC().Format("2006-01-02"))
		} else {
			cmd.Printf("Unknown\n")
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// estimatorFromConfig builds an Estimator from the current
// configuration, downloading remote input files first.
func estimatorFromConfig(ctx context.Context) (*popcount.Estimator, error) {
	boundaryFile, err := maybeDownload(ctx, Cfg.GetString("BoundaryFile"))
	if err != nil {
		return nil, err
	}
	layerFile, err := maybeDownload(ctx, Cfg.GetString("CountryLayerFile"))
	if err != nil {
		return nil, err
	}
	e := popcount.NewEstimator(popcount.Config{
		BoundaryFile:         boundaryFile,
		CountryLayerFile:     layerFile,
		RasterURLTemplate:    Cfg.GetString("RasterURLTemplate"),
		CodeFields:           cast.ToStringSlice(Cfg.Get("CodeFields")),
		PopulationOutputFile: Cfg.GetString("PopulationOutputFile"),
		TimestampOutputFile:  Cfg.GetString("TimestampOutputFile"),
	})
	var fetcher popcount.Fetcher = &popcount.HTTPFetcher{
		ProbeTimeout: time.Duration(Cfg.GetInt("ProbeTimeoutSeconds")) * time.Second,
	}
	if dir := Cfg.GetString("CacheDir"); dir != "" {
		fetcher = popcount.NewCachingFetcher(fetcher, dir)
	}
	e.Fetcher = fetcher
	e.Log = logrus.StandardLogger()
	return e, nil
}
