// Package internaldefs holds the exported metric names and bucket layout
// for authcore counters and histograms.
//
// It performs no I/O and imports no exporter package.
package internaldefs
