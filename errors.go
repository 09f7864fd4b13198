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
	"errors"
	"fmt"
)

// Sentinel errors for pipeline conditions that callers are expected
// to distinguish with errors.Is.
var (
	// ErrInputMissing means the boundary file is absent or unreadable.
	ErrInputMissing = errors.New("boundary file is missing or unreadable")

	// ErrCountryUndetermined means the representative point of the
	// boundary geometry did not fall within any reference country
	// polygon (open ocean, disputed territory, or a gap in the
	// reference layer).
	ErrCountryUndetermined = errors.New("country undetermined")

	// ErrDatasetNotFound means no population raster exists for the
	// resolved country code.
	ErrDatasetNotFound = errors.New("population dataset not found")
)

// CRSError indicates an undefined, unparseable, or unsupported
// coordinate reference system, or a failed coordinate transform.
type CRSError struct {
	Msg string
	Err error
}

func (e *CRSError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("popcount: %s: %v", e.Msg, e.Err)
	}
	return "popcount: " + e.Msg
}

func (e *CRSError) Unwrap() error { return e.Err }

func crsErrorf(err error, format string, args ...interface{}) *CRSError {
	return &CRSError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// ClipError indicates that raster clipping cannot produce a meaningful
// result: the raster is malformed, the clip geometry set is empty, or
// the geometry lies entirely outside the raster extent. After a
// ClipError the caller must not proceed to aggregation.
type ClipError struct {
	Msg string
	Err error
}

func (e *ClipError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("popcount: %s: %v", e.Msg, e.Err)
	}
	return "popcount: " + e.Msg
}

func (e *ClipError) Unwrap() error { return e.Err }

func clipErrorf(err error, format string, args ...interface{}) *ClipError {
	return &ClipError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// TransportError indicates a failed network retrieval.
type TransportError struct {
	URL    string
	Status string // HTTP status, if the request got that far.
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("popcount: retrieving %s: unexpected status %s", e.URL, e.Status)
	}
	return fmt.Sprintf("popcount: retrieving %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
