package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittostore/pkg/storage"
)

// Suite is the conformance suite every backend runs through an Operator.
// It tests the Operator contract, not backend internals, and skips the
// tests whose capability the backend does not offer.
//
// Usage:
//
//	func TestMemoryAccessor(t *testing.T) {
//	    suite := &storagetesting.Suite{
//	        NewOperator: func(t *testing.T) *storage.Operator {
//	            return storage.NewOperator(memory.New(memory.Config{}))
//	        },
//	    }
//	    suite.Run(t)
//	}
type Suite struct {
	// NewOperator returns a fresh, empty Operator for every test.
	NewOperator func(t *testing.T) *storage.Operator
}

// Run executes all tests in the suite.
func (suite *Suite) Run(t *testing.T) {
	t.Run("Basic", suite.RunBasicTests)
	t.Run("Write", suite.RunWriteTests)
	t.Run("List", suite.RunListTests)
	t.Run("CopyRename", suite.RunCopyRenameTests)
	t.Run("Batch", suite.RunBatchTests)
	t.Run("Presign", suite.RunPresignTests)
}

func (suite *Suite) newOperator(t *testing.T) *storage.Operator {
	t.Helper()
	op := suite.NewOperator(t)
	t.Cleanup(func() { _ = op.Close() })
	return op
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
