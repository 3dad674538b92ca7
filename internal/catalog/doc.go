// Package catalog parses streaming catalog links and fetches song metadata.
//
// ParseURL classifies a link as song, album, playlist, or artist and resolves
// album links carrying an `i` query parameter to the referenced song. Only
// song references are accepted for download. Client talks to the catalog
// REST API with a bearer token and maps HTTP outcomes onto services markers so
// the pipeline can classify failures.
package catalog
