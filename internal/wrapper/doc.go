// Package wrapper is the client for the decryption backend.
//
// The backend speaks HTTP/1.1: JSON control calls (status, m3u8, lyrics,
// login, logout) and one full-duplex decrypt call whose request and response
// bodies are streams of length-prefixed frames. A native backend is reached
// over a unix domain socket; a remote backend over host:port with optional
// TLS. Backend failures surface as *Error values that match the exported
// sentinels with errors.Is.
package wrapper
