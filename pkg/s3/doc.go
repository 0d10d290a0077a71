// Package s3 is the S3-compatible object storage client, used when media
// blobs live on AWS S3 or Cloudflare R2 instead of MinIO.
package s3
