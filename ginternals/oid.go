package ginternals

import "github.com/gitkit-go/gitkit/ginternals/githash"

// Oid is re-exported from githash so most of the core can refer to
// ginternals.Oid without importing the hash package directly.
type Oid = githash.Oid
