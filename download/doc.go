// Package download streams HTTP response bodies to disk with optional
// checksum validation and progress reporting. Data lands in a temp file
// next to the destination and is renamed into place only on success, so
// a failed or cancelled transfer never leaves a partial file behind.
package download
