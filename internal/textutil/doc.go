// Package textutil turns catalog metadata into filesystem-safe names.
//
// Track titles and artist names arrive in arbitrary Unicode and may carry
// characters that are illegal or awkward in paths. PathComponent normalizes
// to NFC so the same title always maps to the same bytes, strips unsafe
// characters, and bounds the byte length of a single path element.
package textutil
