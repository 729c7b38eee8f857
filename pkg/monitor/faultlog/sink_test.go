package faultlog

import "io"

// testSink adapts an io.PipeWriter into raft.SnapshotSink for
// Persist/Restore round-trip tests, without needing a real
// raft.FileSnapshotStore on disk.
type testSink struct {
	*io.PipeWriter
}

func (testSink) ID() string              { return "test" }
func (s testSink) Cancel() error         { return s.PipeWriter.Close() }
func (s testSink) Close() error          { return s.PipeWriter.Close() }

func newTestPipe() (io.ReadCloser, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return pr, pw
}
