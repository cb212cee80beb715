package watermark_test

import "testing"

func TestStore(t *testing.T) {
	// Get, Advance, and Reset all read or write through db.DBTX on every
	// call path and require a real pgxpool.Pool or transaction; they're
	// exercised by integration tests rather than here.
}
