// Package render describes where each eye lands on the display and the
// GPU/display contract the stereo scheduler drives.
//
// A MeshOrder fixes, once at configuration time, which sub-areas of the
// display are drawn in the first and second render passes and which eye's
// camera image each sub-area shows.
package render
