package engine

import (
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	fferrors "github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/marshal"
)

// Export names of the core ABI.
const (
	entryMalloc       = marshal.EntryMalloc
	entryFree         = marshal.EntryFree
	entryExec         = marshal.EntryExec
	entryProbe        = marshal.EntryProbe
	entrySetTimeout   = marshal.EntrySetTimeout
	entryReset        = marshal.EntryReset
	entryWriteFrame   = marshal.EntryWriteFrame
	entryReadFrame    = marshal.EntryReadFrame
	entryInitFilter   = marshal.EntryInitFilter
	entryProcessFrame = marshal.EntryProcessFrame
	entryCloseFilter  = marshal.EntryCloseFilter

	memoryExport = "memory"
)

type presence uint8

const (
	required presence = iota
	// optional entries may be absent; calling them then fails.
	optional
	// noopIfMissing entries may be absent; calling them then does nothing.
	noopIfMissing
)

// signature describes one ABI entry point in WIT primitive types.
// Pointers and sizes are u32, timestamps s64, status codes s32.
type signature struct {
	params   []wit.Type
	results  []wit.Type
	presence presence
}

var coreABI = map[string]signature{
	entryMalloc: {
		params:  []wit.Type{wit.U32{}},
		results: []wit.Type{wit.U32{}},
	},
	entryFree: {
		params: []wit.Type{wit.U32{}},
	},
	// (argc, argv) -> exit code
	entryExec: {
		params:  []wit.Type{wit.S32{}, wit.U32{}},
		results: []wit.Type{wit.S32{}},
	},
	entryProbe: {
		params:  []wit.Type{wit.S32{}, wit.U32{}},
		results: []wit.Type{wit.S32{}},
	},
	entrySetTimeout: {
		params:   []wit.Type{wit.S32{}},
		presence: noopIfMissing,
	},
	entryReset: {
		presence: noopIfMissing,
	},
	// (ptr, len, timestamp) -> status
	entryWriteFrame: {
		params:   []wit.Type{wit.U32{}, wit.U32{}, wit.S64{}},
		results:  []wit.Type{wit.S32{}},
		presence: optional,
	},
	// (buf, capacity, timestamp_out) -> size
	entryReadFrame: {
		params:   []wit.Type{wit.U32{}, wit.U32{}, wit.U32{}},
		results:  []wit.Type{wit.S32{}},
		presence: optional,
	},
	// (graph, in_w, in_h, out_w, out_h) -> status
	entryInitFilter: {
		params:   []wit.Type{wit.U32{}, wit.S32{}, wit.S32{}, wit.S32{}, wit.S32{}},
		results:  []wit.Type{wit.S32{}},
		presence: optional,
	},
	// (in, in_len, timestamp, out, capacity) -> size
	entryProcessFrame: {
		params:   []wit.Type{wit.U32{}, wit.U32{}, wit.S64{}, wit.U32{}, wit.U32{}},
		results:  []wit.Type{wit.S32{}},
		presence: optional,
	},
	entryCloseFilter: {
		presence: optional,
	},
}

// coreValueType flattens a WIT primitive to its core value type.
func coreValueType(t wit.Type) api.ValueType {
	switch t.(type) {
	case wit.U64, wit.S64:
		return api.ValueTypeI64
	case wit.F32:
		return api.ValueTypeF32
	case wit.F64:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

func flatten(types []wit.Type) []api.ValueType {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		out[i] = coreValueType(t)
	}
	return out
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatTypes(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return "(" + strings.Join(names, ", ") + ")"
}

// validateExports checks a compiled core against the ABI table. Every
// violation is reported in one error.
func validateExports(compiled wazero.CompiledModule) error {
	exports := compiled.ExportedFunctions()

	var problems []string
	if _, ok := compiled.ExportedMemories()[memoryExport]; !ok {
		problems = append(problems, "missing memory export")
	}

	names := make([]string, 0, len(coreABI))
	for name := range coreABI {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sig := coreABI[name]
		def, ok := exports[name]
		if !ok {
			if sig.presence == required {
				problems = append(problems, "missing export "+name)
			}
			continue
		}

		wantParams, wantResults := flatten(sig.params), flatten(sig.results)
		if !sameTypes(def.ParamTypes(), wantParams) || !sameTypes(def.ResultTypes(), wantResults) {
			problems = append(problems, name+": have "+
				formatTypes(def.ParamTypes())+" -> "+formatTypes(def.ResultTypes())+", want "+
				formatTypes(wantParams)+" -> "+formatTypes(wantResults))
		}
	}

	if len(problems) > 0 {
		return fferrors.New(fferrors.PhaseLoad, fferrors.KindInvalidData).
			Value(problems).
			Detail("core does not implement the engine ABI: %s", strings.Join(problems, "; ")).
			Build()
	}
	return nil
}
