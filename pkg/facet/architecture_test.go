package facet

import (
	"testing"

	"cmip6cat/testutil"
)

func TestFacetHasNoInternalImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "facet is importable outside the module")
}
