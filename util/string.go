/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package util

import "strings"

// SplitKeyAndValue splits str at the first sep occurrence.
// Both parts are empty when sep is missing.
func SplitKeyAndValue(str string, sep byte) (key string, value string) {
	i := strings.IndexByte(str, sep)
	if i < 0 {
		return "", ""
	}
	return str[:i], str[i+1:]
}
