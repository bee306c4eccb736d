// Package cache defines the disk-backed store responsible for translating
// intercepted requests into StoragePath/<generation>/<path> snapshot files.
// Each snapshot file carries a one-line JSON envelope (status, headers,
// fetch time) followed by the raw body, written with safe semantics
// (temp file + rename) so a cancelled write never leaves truncated content.
// The store also owns generation enumeration and wholesale generation
// deletion, which the generation manager drives during activation.
package cache
