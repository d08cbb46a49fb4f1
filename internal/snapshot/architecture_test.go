package snapshot_test

import (
	"testing"

	"graphsync/testutil"
)

func TestNoStorageBackendImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "snapshot works against domain.DataNode only")
}
