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
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultRasterURLTemplate locates the WorldPop 2020 UN-adjusted
// 100 m population rasters. The {CODE} and {code} tokens are replaced
// with the upper- and lowercase alpha-3 country code respectively.
const DefaultRasterURLTemplate = "https://data.worldpop.org/GIS/Population/Global_2000_2020/2020/{CODE}/{code}_ppp_2020_UNadj.tif"

// RasterURL expands a URL template for the given alpha-3 country
// code. The mapping is deterministic: the same template and code
// always produce the same locator.
func RasterURL(template, code string) (string, error) {
	c, err := normalizeCode(code)
	if err != nil {
		return "", fmt.Errorf("popcount: locating dataset: %v", err)
	}
	if !strings.Contains(template, "{CODE}") && !strings.Contains(template, "{code}") {
		return "", fmt.Errorf("popcount: raster URL template %q contains no {CODE} or {code} token", template)
	}
	r := strings.NewReplacer("{CODE}", c, "{code}", strings.ToLower(c))
	return r.Replace(template), nil
}

// ProbeLastModified retrieves the last-modification time of the
// resource at url, if the transport exposes one. The timestamp is
// advisory metadata: any failure (transport error, missing header)
// degrades to ok=false rather than propagating, so a probe failure
// never aborts a pipeline run.
func ProbeLastModified(ctx context.Context, f Fetcher, url string) (time.Time, bool) {
	t, err := f.LastModified(ctx, url)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}
