// package models defines the persistent data model for the library
// indexing pipeline.
//
// Rows are plain structs scanned by the repositories package. The indexing
// ledger types ([LibraryPage], [LibraryPageResult], [LikedArtist]) are
// owned by this worker; [AnonymousUser] and [SpotifyCredentials] are owned
// by the REST/auth layers and only touched here where the pipeline
// contract requires it.
package models
