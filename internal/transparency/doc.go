// Package transparency classifies failures raised by the analysis pipeline.
//
// Every loop in the service catches errors at its own boundary and counts
// them per category, so the categories here are the vocabulary shared by
// the scanner, scheduler, discoverer, link applier and the status report:
//
//   - external_call: the analyzer timed out, exited non-zero or was unreachable
//   - parse: the analyzer answered but no JSON object could be extracted
//   - storage: the result store rejected a read or write
//   - filesystem: a document could not be read, written or stat'ed
//
// Anything else is "unknown". Use CategoryOf to classify an arbitrary error;
// typed *ClassifiedError values created by the helpers in this package keep
// their category through %w wrapping.
package transparency
