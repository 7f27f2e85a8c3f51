// Package assets decides where the public directory is served from and can
// populate it from S3 before the server starts.
package assets
