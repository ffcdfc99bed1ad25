// Package checkpoint persists the continuation cursor of the catalog walk.
//
// The checkpoint is a single small JSON file holding the opaque token returned
// by the last page that had a successor:
//
//	{"token": "..."}
//
// A missing file means the walk starts from the first page. The file is written
// only after the page's records are durably appended to the record log, always
// through a temporary file, fsync and rename so a crash never leaves a partial
// cursor behind.
package checkpoint
