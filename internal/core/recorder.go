package core

import "notegraph/internal/types"

// Recorder receives activity counts from the background loops.
type Recorder interface {
	DocumentProcessed(path string)
	ConnectionFound(conn *types.Connection)
	ConnectionApplied(conn *types.Connection)
	Error(err error)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) DocumentProcessed(string)            {}
func (NopRecorder) ConnectionFound(*types.Connection)   {}
func (NopRecorder) ConnectionApplied(*types.Connection) {}
func (NopRecorder) Error(error)                         {}
