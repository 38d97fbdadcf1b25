// Package api describes the pegasus backend's HTTP contract as seen by a
// board client: response bodies, form-encoded request bodies, and decoding
// of poll rows into domain records.
//
// JSON schemas for the response bodies live in schemas/ and are checked
// against both captured samples and this package's own types.
package api
