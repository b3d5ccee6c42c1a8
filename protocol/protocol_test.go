package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	fferrors "github.com/wippyai/ffbridge/errors"
)

func TestLoadConfig_Resolve(t *testing.T) {
	tests := []struct {
		name string
		in   LoadConfig
		want LoadConfig
	}{
		{
			name: "all defaults",
			in:   LoadConfig{},
			want: LoadConfig{
				CoreURL:   CoreURL,
				WasmURL:   strings.TrimSuffix(CoreURL, ".js") + ".wasm",
				WorkerURL: strings.TrimSuffix(CoreURL, ".js") + ".worker.js",
			},
		},
		{
			name: "derived from custom core",
			in:   LoadConfig{CoreURL: "/assets/core.js"},
			want: LoadConfig{
				CoreURL:   "/assets/core.js",
				WasmURL:   "/assets/core.wasm",
				WorkerURL: "/assets/core.worker.js",
			},
		},
		{
			name: "explicit wasm kept",
			in:   LoadConfig{CoreURL: "/a/core.js", WasmURL: "/b/engine.wasm"},
			want: LoadConfig{
				CoreURL:   "/a/core.js",
				WasmURL:   "/b/engine.wasm",
				WorkerURL: "/a/core.worker.js",
			},
		},
		{
			name: "core without js suffix",
			in:   LoadConfig{CoreURL: "/a/core.wasm"},
			want: LoadConfig{
				CoreURL:   "/a/core.wasm",
				WasmURL:   "/a/core.wasm",
				WorkerURL: "/a/core.wasm",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Resolve(); got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMessageType_Classification(t *testing.T) {
	for _, rt := range RequestTypes {
		if !rt.IsRequest() {
			t.Errorf("%s should be a request", rt)
		}
		if rt.IsEvent() {
			t.Errorf("%s should not be an event", rt)
		}
	}
	for _, et := range []MessageType{TypeLog, TypeProgress, TypeDownload} {
		if !et.IsEvent() {
			t.Errorf("%s should be an event", et)
		}
		if et.IsRequest() {
			t.Errorf("%s should not be a request", et)
		}
	}
	if TypeError.IsRequest() || TypeError.IsEvent() {
		t.Error("ERROR is response only")
	}
	if !TypeProcessFrame.IsFrameOp() || TypeExec.IsFrameOp() {
		t.Error("IsFrameOp misclassifies")
	}
}

func TestDecode_Typed(t *testing.T) {
	in := RenameData{OldPath: "/a", NewPath: "/b"}

	got, err := Decode[RenameData](in)
	if err != nil || got != in {
		t.Fatalf("Decode(value) = %+v, %v", got, err)
	}

	got, err = Decode[RenameData](&in)
	if err != nil || got != in {
		t.Fatalf("Decode(pointer) = %+v, %v", got, err)
	}

	got, err = Decode[RenameData](nil)
	if err != nil || got != (RenameData{}) {
		t.Fatalf("Decode(nil) = %+v, %v", got, err)
	}
}

func TestDecode_CBOR(t *testing.T) {
	raw, err := cbor.Marshal(ProcessFrameData{
		FrameData:   []byte{1, 2, 3},
		Timestamp:   -42,
		OutputWidth: 64,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Decode[ProcessFrameData](cbor.RawMessage(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got.FrameData, []byte{1, 2, 3}) || got.Timestamp != -42 || got.OutputWidth != 64 {
		t.Errorf("Decode = %+v", got)
	}
}

func TestDecode_GenericMap(t *testing.T) {
	got, err := Decode[MountData](map[string]any{
		"fsType":     "MEMFS",
		"mountPoint": "/mnt",
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.FSType != "MEMFS" || got.MountPoint != "/mnt" {
		t.Errorf("Decode = %+v", got)
	}
}

func TestDecode_WrongType(t *testing.T) {
	_, err := Decode[PathData](42)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, &fferrors.Error{Phase: fferrors.PhaseTransport, Kind: fferrors.KindInvalidData}) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWriteFileData_Bytes(t *testing.T) {
	b, err := WriteFileData{Data: "hello"}.Bytes()
	if err != nil || string(b) != "hello" {
		t.Errorf("text: %q, %v", b, err)
	}
	b, err = WriteFileData{Data: []byte{0, 1}}.Bytes()
	if err != nil || !bytes.Equal(b, []byte{0, 1}) {
		t.Errorf("bytes: %v, %v", b, err)
	}
	if _, err = (WriteFileData{Data: 3.5}).Bytes(); err == nil {
		t.Error("expected error for number data")
	}
}

func TestExecData_TimeoutMS(t *testing.T) {
	if got := (ExecData{}).TimeoutMS(); got != NoTimeout {
		t.Errorf("default timeout = %d", got)
	}
	ms := int32(500)
	if got := (ExecData{Timeout: &ms}).TimeoutMS(); got != 500 {
		t.Errorf("timeout = %d", got)
	}
}

func TestResponse(t *testing.T) {
	req := Envelope{ID: "7", Type: TypeReadFile}

	resp := Response(req, []byte("abc"))
	if resp.ID != "7" || resp.Type != TypeReadFile || !resp.Transfer {
		t.Errorf("bytes response = %+v", resp)
	}

	resp = Response(req, "abc")
	if resp.Transfer {
		t.Error("text payload must not be transferred")
	}

	resp = Response(Envelope{ID: "8", Type: TypeReadFrame}, &Frame{FrameData: []byte{1}})
	if resp.Transfer {
		t.Error("frame records are copied, not transferred")
	}
}

func TestErrorResponse(t *testing.T) {
	req := Envelope{ID: "9", Type: TypeExec}
	resp := ErrorResponse(req, fferrors.NotLoaded())

	if resp.ID != "9" || resp.Type != TypeError {
		t.Fatalf("ErrorResponse = %+v", resp)
	}
	msg, ok := resp.Err()
	if !ok || !strings.Contains(msg, "not_loaded") {
		t.Errorf("Err() = %q, %v", msg, ok)
	}
	if _, ok := req.Err(); ok {
		t.Error("non-error envelope reported an error")
	}
}

func TestEvent(t *testing.T) {
	ev := Event(TypeLog, LogEvent{Type: "stderr", Message: "frame=1"})
	if ev.ID != "" || ev.Type != TypeLog {
		t.Errorf("Event = %+v", ev)
	}
}

func TestGeneric(t *testing.T) {
	raw, err := cbor.Marshal(map[string]any{"name": "a.png", "isDir": false})
	if err != nil {
		t.Fatal(err)
	}

	v, err := Generic(cbor.RawMessage(raw))
	if err != nil {
		t.Fatalf("Generic: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("Generic = %T, want map[string]any", v)
	}
	if m["name"] != "a.png" || m["isDir"] != false {
		t.Errorf("Generic = %v", m)
	}

	if v, _ := Generic(true); v != true {
		t.Errorf("Generic(true) = %v", v)
	}
}

func TestEnvelope_ErrFromCBOR(t *testing.T) {
	raw, err := cbor.Marshal("[dispatch] not_loaded")
	if err != nil {
		t.Fatal(err)
	}
	env := Envelope{ID: "1", Type: TypeError, Data: cbor.RawMessage(raw)}
	msg, ok := env.Err()
	if !ok || msg != "[dispatch] not_loaded" {
		t.Errorf("Err() = %q, %v", msg, ok)
	}
}
