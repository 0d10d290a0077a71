// Package media holds the domain model of the indexing pipeline: media
// records, ingestion jobs, the job state machine, the queue payload schema and
// the error taxonomy every store error is reduced to.
package media
