package testbed

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/ffbridge/marshal"
)

// Module names and exports the engine binds.
const (
	HostModule   = "env"
	WASIModule   = "wasi_snapshot_preview1"
	MemoryExport = "memory"
)

// Core value types.
const (
	I32 = 0x7F
	I64 = 0x7E
	F64 = 0x7C
)

// Opcodes used by the test cores.
const (
	opUnreachable = 0x00
	opIf          = 0x04
	opEnd         = 0x0B
	opReturn      = 0x0F
	opCall        = 0x10
	opLocalGet    = 0x20
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI64Load     = 0x29
	opI64Store    = 0x37
	opI32Const    = 0x41
	opF64Const    = 0x44
	opI32Eqz      = 0x45
	opI32GtU      = 0x4B
	opI32Add      = 0x6A
	opI32Sub      = 0x6B
	opI32And      = 0x71
	opPrefixFC    = 0xFC
	blockEmpty    = 0x40
)

// Layout of the test core's linear memory.
const (
	HelloOffset = 512
	HeapBase    = 1024
	SlotTS      = 59992
	SlotData    = 60000
	MemoryPages = 2
)

// Import is an imported function.
type Import struct {
	Module, Name    string
	Params, Results []byte
}

// Func is a defined function, exported under Name when Name is not empty.
type Func struct {
	Name            string
	Params, Results []byte
	Body            []byte
}

// Data is an active data segment.
type Data struct {
	Offset int32
	Bytes  []byte
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wasmName(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func wasmVec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmSection(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint32(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint32(len(results)))...)
	return append(out, results...)
}

func I32Const(v int32) []byte {
	return append([]byte{opI32Const}, sleb(int64(v))...)
}

func f64Const(v float64) []byte {
	out := []byte{opF64Const, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

func localGet(i uint32) []byte {
	return append([]byte{opLocalGet}, uleb(i)...)
}

func globalGet(i uint32) []byte {
	return append([]byte{opGlobalGet}, uleb(i)...)
}

func globalSet(i uint32) []byte {
	return append([]byte{opGlobalSet}, uleb(i)...)
}

func call(i uint32) []byte {
	return append([]byte{opCall}, uleb(i)...)
}

func memoryCopy() []byte {
	return []byte{opPrefixFC, 0x0A, 0x00, 0x00}
}

// returnIfMinusOne returns -1 when the i32 on the stack is non-zero.
func returnIfMinusOne() []byte {
	out := []byte{opIf, blockEmpty}
	out = append(out, I32Const(-1)...)
	return append(out, opReturn, opEnd)
}

func code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Build assembles a module with one memory export, three mutable i32
// globals (heap pointer, live allocation count, pending frame length) and
// the given imports, functions and data segments.
func Build(imports []Import, funcs []Func, data []Data) []byte {
	var types, imps, fidx, exports, bodies [][]byte

	for i, imp := range imports {
		types = append(types, funcType(imp.Params, imp.Results))
		entry := code(wasmName(imp.Module), wasmName(imp.Name), []byte{0x00}, uleb(uint32(i)))
		imps = append(imps, entry)
	}

	exports = append(exports, code(wasmName(MemoryExport), []byte{0x02}, uleb(0)))
	for j, fn := range funcs {
		typeIdx := uint32(len(imports) + j)
		types = append(types, funcType(fn.Params, fn.Results))
		fidx = append(fidx, uleb(typeIdx))
		if fn.Name != "" {
			exports = append(exports, code(wasmName(fn.Name), []byte{0x00}, uleb(uint32(len(imports)+j))))
		}
		body := code(uleb(0), fn.Body, []byte{opEnd})
		bodies = append(bodies, code(uleb(uint32(len(body))), body))
	}

	globals := [][]byte{
		code([]byte{I32, 0x01}, I32Const(HeapBase), []byte{opEnd}),
		code([]byte{I32, 0x01}, I32Const(0), []byte{opEnd}),
		code([]byte{I32, 0x01}, I32Const(0), []byte{opEnd}),
	}

	var segs [][]byte
	for _, d := range data {
		segs = append(segs, code([]byte{0x00}, I32Const(d.Offset), []byte{opEnd}, uleb(uint32(len(d.Bytes))), d.Bytes))
	}

	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	out = append(out, wasmSection(1, wasmVec(types...))...)
	if len(imps) > 0 {
		out = append(out, wasmSection(2, wasmVec(imps...))...)
	}
	out = append(out, wasmSection(3, wasmVec(fidx...))...)
	out = append(out, wasmSection(5, wasmVec(code([]byte{0x00}, uleb(MemoryPages))))...)
	out = append(out, wasmSection(6, wasmVec(globals...))...)
	out = append(out, wasmSection(7, wasmVec(exports...))...)
	out = append(out, wasmSection(10, wasmVec(bodies...))...)
	if len(segs) > 0 {
		out = append(out, wasmSection(11, wasmVec(segs...))...)
	}
	return out
}

// Import indices of the test core.
const (
	importLog = iota
	importProgress
	importProcExit
)

// Imports are the host and WASI functions every test core imports.
var Imports = []Import{
	{Module: HostModule, Name: "log", Params: []byte{I32, I32, I32}},
	{Module: HostModule, Name: "progress", Params: []byte{F64, F64}},
	{Module: WASIModule, Name: "proc_exit", Params: []byte{I32}},
}

var (
	Malloc = Func{
		Name: marshal.EntryMalloc, Params: []byte{I32}, Results: []byte{I32},
		Body: code(
			globalGet(0),
			globalGet(0), localGet(0), []byte{opI32Add},
			I32Const(7), []byte{opI32Add}, I32Const(-8), []byte{opI32And},
			globalSet(0),
			globalGet(1), I32Const(1), []byte{opI32Add}, globalSet(1),
		),
	}
	Free = Func{
		Name: marshal.EntryFree, Params: []byte{I32},
		Body: code(globalGet(1), I32Const(1), []byte{opI32Sub}, globalSet(1)),
	}
	// ffmpeg returns argc.
	Exec = Func{
		Name: marshal.EntryExec, Params: []byte{I32, I32}, Results: []byte{I32},
		Body: localGet(0),
	}
	// ffprobe logs "hello" to stderr, reports progress and returns 3.
	Probe = Func{
		Name: marshal.EntryProbe, Params: []byte{I32, I32}, Results: []byte{I32},
		Body: code(
			I32Const(2), I32Const(HelloOffset), I32Const(5), call(importLog),
			f64Const(0.5), f64Const(1000), call(importProgress),
			I32Const(3),
		),
	}
	// write_frame keeps one pending frame; a second write before a read fails.
	WriteFrame = Func{
		Name: marshal.EntryWriteFrame, Params: []byte{I32, I32, I64}, Results: []byte{I32},
		Body: code(
			globalGet(2), returnIfMinusOne(),
			I32Const(SlotData), localGet(0), localGet(1), memoryCopy(),
			I32Const(SlotTS), localGet(2), []byte{opI64Store, 0x03, 0x00},
			localGet(1), globalSet(2),
			I32Const(0),
		),
	}
	ReadFrame = Func{
		Name: marshal.EntryReadFrame, Params: []byte{I32, I32, I32}, Results: []byte{I32},
		Body: code(
			globalGet(2), []byte{opI32Eqz}, returnIfMinusOne(),
			globalGet(2), localGet(1), []byte{opI32GtU}, returnIfMinusOne(),
			localGet(0), I32Const(SlotData), globalGet(2), memoryCopy(),
			localGet(2), I32Const(SlotTS), []byte{opI64Load, 0x03, 0x00}, []byte{opI64Store, 0x03, 0x00},
			globalGet(2), I32Const(0), globalSet(2),
		),
	}
	InitFilter = Func{
		Name: marshal.EntryInitFilter, Params: []byte{I32, I32, I32, I32, I32}, Results: []byte{I32},
		Body: I32Const(0),
	}
	// process_frame copies the input to the output; empty or oversized
	// input fails.
	ProcessFrame = Func{
		Name: marshal.EntryProcessFrame, Params: []byte{I32, I32, I64, I32, I32}, Results: []byte{I32},
		Body: code(
			localGet(1), []byte{opI32Eqz}, returnIfMinusOne(),
			localGet(1), localGet(4), []byte{opI32GtU}, returnIfMinusOne(),
			localGet(3), localGet(0), localGet(1), memoryCopy(),
			localGet(1),
		),
	}
	CloseFilter = Func{Name: marshal.EntryCloseFilter}
	Live        = Func{
		Name: "live", Results: []byte{I32},
		Body: globalGet(1),
	}
	Quit = Func{
		Name: "quit",
		Body: code(I32Const(7), call(importProcExit), []byte{opUnreachable}),
	}
)

// Core is a core implementing the full ABI except the optional
// set_timeout and reset entries.
func Core() []byte {
	return Build(Imports, []Func{
		Malloc, Free, Exec, Probe,
		WriteFrame, ReadFrame, InitFilter, ProcessFrame, CloseFilter,
		Live, Quit,
	}, []Data{{Offset: HelloOffset, Bytes: []byte("hello")}})
}
