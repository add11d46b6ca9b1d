// Package archive unpacks source archives into a build workspace.
//
// The format is detected from the leading bytes, not the file name: crates.io
// serves .crate files that are gzip-compressed tarballs behind a /download URL.
// Every entry is checked against the destination before it is written, and
// links may only point inside it.
package archive
