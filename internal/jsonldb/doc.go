// Package jsonldb provides a single-generation, NDJSON-backed dataset store.
//
// # Overview
//
// The package centers around [Dataset], which keeps exactly one generation of
// [Record] rows in a JSON Lines file. Reads stream the file line by line so
// datasets larger than memory can be queried; nothing is cached.
//
// # Replacement
//
// Writes never touch the active file. A [Staging] file is filled under the
// tmp/ subdirectory and [Staging.Commit] renames it over the active file in
// one filesystem operation. A reader that already opened the active file
// keeps reading the generation it opened; a reader that opens it after the
// rename sees the new one. There is never a partially written file under the
// active name.
//
// # File Format
//
// One JSON object per line. Column order of the first row is the dataset
// header; later rows are conformed to it on write. Lines that fail to decode
// are skipped on read.
package jsonldb
