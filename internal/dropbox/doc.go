// Package dropbox is a minimal Dropbox API v2 client: the account check used to
// confirm that stored credentials are still accepted, and file upload for finished
// EPUBs (single request up to ChunkSize, upload sessions above it).
//
// Authentication is supplied by the caller, either explicitly (CheckAccount) or
// through the HTTP client's transport, typically an oauth2.Transport.
package dropbox
