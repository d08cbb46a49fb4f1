package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

type recorder struct {
	msg string
}

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600))
}

func TestPredicates(t *testing.T) {
	assert.True(t, InternalImportForbidden("graphsync/internal/core"))
	assert.False(t, InternalImportForbidden("graphsync/pkg/domain"))

	assert.True(t, InfraImportForbidden("graphsync/internal/infra/persistence/sqldb"))
	assert.False(t, InfraImportForbidden("graphsync/internal/flush"))

	assert.True(t, DriverImportForbidden("github.com/jackc/pgx/v5/pgxpool"))
	assert.True(t, DriverImportForbidden("modernc.org/sqlite"))
	assert.True(t, DriverImportForbidden("github.com/aws/aws-sdk-go-v2/service/s3"))
	assert.False(t, DriverImportForbidden("go.uber.org/zap"))
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package tmp\nimport \"graphsync/internal/infra/persistence/memory\"\n")
	writeGo(t, dir, "b.go", "package tmp\nimport \"fmt\"\nvar _ = fmt.Sprint\n")
	writeGo(t, dir, "a_test.go", "package tmp\nimport \"graphsync/internal/infra/blob/fs\"\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o750))
	writeGo(t, filepath.Join(dir, "sub"), "c.go", "package sub\nimport \"graphsync/internal/infra/blob/s3\"\n")

	viols, err := directImportViolations(dir, InfraImportForbidden)
	require.NoError(t, err)
	assert.Equal(t, []string{"graphsync/internal/infra/persistence/memory (in a.go)"}, viols)

	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "broken.go", "package tmp\nimport (\n")
	_, err := directImportViolations(dir, InternalImportForbidden)
	assert.Error(t, err)
}

func TestTransitiveDependencyViolations(t *testing.T) {
	orig := loadPackages
	t.Cleanup(func() { loadPackages = orig })

	sqlite := &packages.Package{PkgPath: "modernc.org/sqlite"}
	sqldb := &packages.Package{
		PkgPath: "graphsync/internal/infra/persistence/sqldb",
		Imports: map[string]*packages.Package{"modernc.org/sqlite": sqlite},
	}
	root := &packages.Package{
		PkgPath: "graphsync/internal/core",
		Imports: map[string]*packages.Package{sqldb.PkgPath: sqldb},
	}
	loadPackages = func(string, string) ([]*packages.Package, error) {
		return []*packages.Package{root}, nil
	}

	viols, err := transitiveDependencyViolations(".", "./...", DriverImportForbidden)
	require.NoError(t, err)
	assert.Equal(t, []string{"modernc.org/sqlite"}, viols)

	loadPackages = func(string, string) ([]*packages.Package, error) {
		return nil, errors.New("boom")
	}
	_, err = transitiveDependencyViolations(".", "./...", DriverImportForbidden)
	assert.EqualError(t, err, "boom")
}

func TestFailHelpers(t *testing.T) {
	var r recorder
	failIfDirectViolations(&r, "layering", nil)
	failIfTransitiveViolations(&r, "layering", nil)
	assert.Empty(t, r.msg)

	failIfDirectViolations(&r, "layering", []string{"x (in a.go)"})
	assert.Contains(t, r.msg, "forbidden direct imports detected (layering)")

	failIfTransitiveViolations(&r, "drivers", []string{"modernc.org/sqlite"})
	assert.Contains(t, r.msg, "forbidden transitive dependency detected (drivers)")
	assert.Contains(t, r.msg, "modernc.org/sqlite")
}
