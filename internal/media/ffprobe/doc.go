// Package ffprobe runs ffprobe against a finished track and answers the
// questions the verify stage asks of it: how many audio streams, how long,
// and whether cover art was embedded.
package ffprobe
