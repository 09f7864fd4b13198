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

import "testing"

func TestRasterURL(t *testing.T) {
	url, err := RasterURL(DefaultRasterURLTemplate, "ita")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://data.worldpop.org/GIS/Population/Global_2000_2020/2020/ITA/ita_ppp_2020_UNadj.tif"
	if url != want {
		t.Errorf("got %s, want %s", url, want)
	}

	// The mapping must be deterministic.
	url2, err := RasterURL(DefaultRasterURLTemplate, "ITA")
	if err != nil {
		t.Fatal(err)
	}
	if url2 != url {
		t.Errorf("code case changed the locator: %s != %s", url2, url)
	}
}

func TestRasterURLErrors(t *testing.T) {
	if _, err := RasterURL(DefaultRasterURLTemplate, "-99"); err == nil {
		t.Error("want error for malformed code")
	}
	if _, err := RasterURL(DefaultRasterURLTemplate, "ITAL"); err == nil {
		t.Error("want error for four-letter code")
	}
	if _, err := RasterURL("https://example.com/static.tif", "ITA"); err == nil {
		t.Error("want error for template without a code token")
	}
}
