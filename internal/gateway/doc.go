// Package gateway exposes the HTTP surface of the daemon: multipart upload
// coordination, presigned downloads, edit job submission and control, the
// byte-range streaming proxy, and highlight listings. Every route except
// health requires a verified identity, and every key-referencing operation
// enforces the owner-namespace invariant unless the caller is an admin.
package gateway
