package kernel_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// disallowedImportPrefixes lists import paths the derived-state kernel
// must never reach for, per §9 "Derived-state purity" and §6's
// "Analysis/diagnosis modules are read-only" scheduling guard: the
// kernel takes data in and returns data out, with no I/O or mutation
// surface of its own.
var disallowedImportPrefixes = []string{
	"database/sql",
	"net/http",
	"net",
	"os",
	"github.com/flowspec/engine/truth/postgres",
	"github.com/flowspec/engine/hooks",
	"github.com/flowspec/engine/telemetry",
	"github.com/flowspec/engine/evidence",
}

// TestPackageIsIOFree statically asserts that no file under this package
// imports a disallowed path. This is the "static guard" the spec calls
// for instead of a runtime check, since the property is about the import
// graph, not runtime behavior.
func TestPackageIsIOFree(t *testing.T) {
	fset := token.NewFileSet()
	entries, err := os.ReadDir(".")
	require.NoError(t, err)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") {
			continue
		}
		path := filepath.Join(".", e.Name())
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range f.Imports {
			value := strings.Trim(imp.Path.Value, `"`)
			for _, bad := range disallowedImportPrefixes {
				require.Falsef(t, value == bad || strings.HasPrefix(value, bad+"/"),
					"%s imports disallowed package %s", path, value)
			}
		}
	}
}
