// Package ccd converts CloneCD table-of-contents files into CUE text.
package ccd
