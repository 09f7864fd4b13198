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

// Command popcount estimates the population living inside a
// geographic boundary.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/popcount/popcountutil"
)

func main() {
	if err := popcountutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
