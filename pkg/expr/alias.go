package expr

import (
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/binding"
	"github.com/AbdelrhmanBassiouny/entity-query-language/pkg/stream"
)

// Binding and Result/Seq are re-exported here, mirroring the teacher's own
// convenience aliases (expression.Unstructured = map[string]any) so that
// every downstream package can speak in terms of expr.Binding/expr.Seq
// without importing pkg/binding and pkg/stream directly.
type (
	Binding = binding.Binding
	Result  = binding.Result
	VarID   = binding.VarID
	Seq     = stream.Seq[binding.Result]
)

// Merge and Equal are re-exported so downstream packages can speak
// entirely in terms of expr.* without importing pkg/binding directly.
var (
	Merge = binding.Merge
	Equal = binding.Equal
	Empty = binding.Empty
)
