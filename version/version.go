/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ApplicationVersion represents application version.
var ApplicationVersion = NewVersion(0, 1, 0)

// StreamVersion is the highest stream version the server speaks.
var StreamVersion = NewVersion(1, 0, 0)

// SemanticVersion represents a semantic version.
type SemanticVersion struct {
	major uint
	minor uint
	patch uint
}

// NewVersion initializes a new instance of SemanticVersion.
func NewVersion(major, minor, patch uint) *SemanticVersion {
	return &SemanticVersion{
		major: major,
		minor: minor,
		patch: patch,
	}
}

// Parse parses a "major.minor" or "major.minor.patch" version string.
func Parse(s string) (*SemanticVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, errors.Errorf("version: malformed version: %q", s)
	}
	var nums [3]uint
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "version: malformed version: %q", s)
		}
		nums[i] = uint(n)
	}
	return NewVersion(nums[0], nums[1], nums[2]), nil
}

// Major returns the major version component.
func (v *SemanticVersion) Major() uint { return v.major }

// String returns a string that represents this instance.
func (v *SemanticVersion) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.major, v.minor, v.patch)
}

// IsEqual returns true if version instance is equal to the one passed as argument.
func (v *SemanticVersion) IsEqual(v2 *SemanticVersion) bool {
	if v == v2 {
		return true
	}
	return v.major == v2.major && v.minor == v2.minor && v.patch == v2.patch
}

// IsLess returns true if version instance is less than the one passed as argument.
func (v *SemanticVersion) IsLess(v2 *SemanticVersion) bool {
	if v == v2 {
		return false
	}
	if v.major == v2.major {
		if v.minor == v2.minor {
			return v.patch < v2.patch
		}
		return v.minor < v2.minor
	}
	return v.major < v2.major
}

// IsGreater returns true if version instance is greater than the one passed as argument.
func (v *SemanticVersion) IsGreater(v2 *SemanticVersion) bool {
	return !v.IsEqual(v2) && !v.IsLess(v2)
}

// IsCompatible reports whether v shares the major version of v2.
func (v *SemanticVersion) IsCompatible(v2 *SemanticVersion) bool {
	return v.major == v2.major
}
