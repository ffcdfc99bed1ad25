// Package storage keeps downloaded package archives on disk, one file per
// extension id at <dir>/<id>.crx.
//
// Presence of the final file name is the completion marker. Writes go through
// a temporary file, fsync and rename, so an interrupted download never leaves
// a file that looks complete.
package storage
