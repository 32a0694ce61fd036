// Package ingest turns an uploaded video and thumbnail into a published,
// catalogued Video.
//
// Overview
//
// A Pipeline coordinates three collaborators, each behind an interface so
// tests can substitute fakes:
//
//  1. transcode.Transcoder
//     - Converts the source file into an HLS manifest plus segments inside
//       a per-run working directory.
//
//  2. assets.Store
//     - Receives every segment, the manifest and the thumbnail. S3 in
//       production, the local disk during development.
//
//  3. Catalog
//     - Persists the Video row once every object is published.
//
// Workflow
//
//   - Validate: both files present, title and description within limits.
//     Nothing is uploaded or written when validation fails.
//   - Transcode: bounded by a weighted semaphore so at most
//     MaxConcurrentTranscodes ffmpeg processes run at once.
//   - Publish: segments upload in parallel through an errgroup. The
//     manifest is uploaded only after every segment is stored, so a
//     playable URL never references a missing segment.
//   - Thumbnail: stored under thumbnails/ with the original extension.
//   - Catalog: the Video is created with zero views and no likes.
//
// Failure Semantics
//
// Any failure after the first upload triggers compensation: every object
// stored during the run is deleted on a detached context. The working
// directory and both source files are removed on every exit path. Errors are
// classified with the sentinels in errors.go; ValidationError marks failures
// that are the caller's fault.
//
// SweepStale removes working directories and spooled uploads left behind by
// a crashed process.
//
// Observability
//
// Each stage records a prometheus histogram observation and an OpenTelemetry
// span. The spans are no-ops unless the host installs a tracer provider.
package ingest
