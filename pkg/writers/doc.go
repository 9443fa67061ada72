// Package writers stores serialized documents.
//
// A writer receives the output path of a document relative to its output root,
// as produced by the output_filename hooks, and returns the final location.
// Output roots are selected with New from the --out value:
//
//	dist                            local directory (afero)
//	file:///srv/config              local directory
//	-                               stream every document to stdout
//	sftp://deploy@host:22/etc/app   remote directory over SFTP
//	s3://bucket/prefix              S3-compatible object storage
//
// Paths that are absolute or escape the output root are rejected.
package writers
