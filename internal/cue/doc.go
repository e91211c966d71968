// Package cue parses, serializes, and generates CUE sheets.
//
// A Sheet is an ordered list of Files, each holding Tracks and their
// Indexes. Timestamps use the disc convention MM:SS:FF with 75 frames per
// second; conversion to and from sector counts is exact integer arithmetic.
// The package also builds merged (single bin) and split (one bin per track)
// sheets using redump naming, and the single-track template used when a
// lone bin has no cue at all.
package cue
