package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffbridge/channel"
	"github.com/wippyai/ffbridge/protocol"
)

// client drives a worker from the controlling side of a port. It assigns a
// fresh id to every request and collects the events that arrive before the
// matching response.
type client struct {
	port channel.Port
}

type reply struct {
	resp   protocol.Envelope
	events []protocol.Envelope
}

func (c *client) call(ctx context.Context, t protocol.MessageType, data any) (reply, error) {
	req := protocol.Envelope{ID: uuid.NewString(), Type: t, Data: data}
	if err := c.port.Post(ctx, req); err != nil {
		return reply{}, err
	}

	var r reply
	for {
		env, err := c.port.Receive(ctx)
		if err != nil {
			return r, err
		}
		if env.ID == "" && env.Type.IsEvent() {
			r.events = append(r.events, env)
			continue
		}
		if env.ID != req.ID {
			return r, fmt.Errorf("response for %q while waiting for %q", env.ID, req.ID)
		}
		r.resp = env
		return r, nil
	}
}

// field is one request payload input.
type field struct {
	name    string
	witType wit.Type
}

func str(name string) field { return field{name: name, witType: wit.String{}} }
func s32(name string) field { return field{name: name, witType: wit.S32{}} }
func s64(name string) field { return field{name: name, witType: wit.S64{}} }

// requestFields lists the inputs collected for each request kind.
var requestFields = map[protocol.MessageType][]field{
	protocol.TypeLoad:         {str("coreURL"), str("wasmURL")},
	protocol.TypeExec:         {str("args"), s32("timeout")},
	protocol.TypeFFprobe:      {str("args"), s32("timeout")},
	protocol.TypeWriteFile:    {str("path"), str("data")},
	protocol.TypeReadFile:     {str("path"), str("encoding")},
	protocol.TypeDeleteFile:   {str("path")},
	protocol.TypeRename:       {str("oldPath"), str("newPath")},
	protocol.TypeCreateDir:    {str("path")},
	protocol.TypeListDir:      {str("path")},
	protocol.TypeDeleteDir:    {str("path")},
	protocol.TypeMount:        {str("fsType"), str("mountPoint"), str("root")},
	protocol.TypeUnmount:      {str("mountPoint")},
	protocol.TypeWriteFrame:   {str("frameFile"), s64("timestamp")},
	protocol.TypeReadFrame:    {s32("width"), s32("height")},
	protocol.TypeInitFilter:   {str("filterGraph"), s32("inputWidth"), s32("inputHeight"), s32("outputWidth"), s32("outputHeight")},
	protocol.TypeProcessFrame: {str("frameFile"), s64("timestamp"), s32("outputWidth"), s32("outputHeight")},
	protocol.TypeCloseFilter:  nil,
}

type values map[string]string

func (v values) s32(name string) (int32, error) {
	if v[name] == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v[name], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return int32(n), nil
}

func (v values) s64(name string) (int64, error) {
	if v[name] == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v[name], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// buildPayload converts text inputs into the payload for t.
func buildPayload(t protocol.MessageType, v values) (any, error) {
	switch t {
	case protocol.TypeLoad:
		return protocol.LoadConfig{CoreURL: v["coreURL"], WasmURL: v["wasmURL"]}, nil

	case protocol.TypeExec, protocol.TypeFFprobe:
		data := protocol.ExecData{Args: strings.Fields(v["args"])}
		if v["timeout"] != "" {
			ms, err := v.s32("timeout")
			if err != nil {
				return nil, err
			}
			data.Timeout = &ms
		}
		return data, nil

	case protocol.TypeWriteFile:
		return protocol.WriteFileData{Path: v["path"], Data: v["data"]}, nil
	case protocol.TypeReadFile:
		return protocol.ReadFileData{Path: v["path"], Encoding: v["encoding"]}, nil
	case protocol.TypeDeleteFile, protocol.TypeCreateDir, protocol.TypeListDir, protocol.TypeDeleteDir:
		return protocol.PathData{Path: v["path"]}, nil
	case protocol.TypeRename:
		return protocol.RenameData{OldPath: v["oldPath"], NewPath: v["newPath"]}, nil

	case protocol.TypeMount:
		data := protocol.MountData{FSType: v["fsType"], MountPoint: v["mountPoint"]}
		if v["root"] != "" {
			data.Options = map[string]any{"root": v["root"]}
		}
		return data, nil
	case protocol.TypeUnmount:
		return protocol.UnmountData{MountPoint: v["mountPoint"]}, nil

	case protocol.TypeWriteFrame:
		frame, err := readFrameFile(v["frameFile"])
		if err != nil {
			return nil, err
		}
		ts, err := v.s64("timestamp")
		if err != nil {
			return nil, err
		}
		return protocol.WriteFrameData{FrameData: frame, Timestamp: ts}, nil

	case protocol.TypeReadFrame:
		w, err := v.s32("width")
		if err != nil {
			return nil, err
		}
		h, err := v.s32("height")
		if err != nil {
			return nil, err
		}
		return protocol.ReadFrameData{Width: w, Height: h}, nil

	case protocol.TypeInitFilter:
		data := protocol.InitFilterData{FilterGraph: v["filterGraph"]}
		dims := []*int32{&data.InputWidth, &data.InputHeight, &data.OutputWidth, &data.OutputHeight}
		for i, name := range []string{"inputWidth", "inputHeight", "outputWidth", "outputHeight"} {
			n, err := v.s32(name)
			if err != nil {
				return nil, err
			}
			*dims[i] = n
		}
		return data, nil

	case protocol.TypeProcessFrame:
		frame, err := readFrameFile(v["frameFile"])
		if err != nil {
			return nil, err
		}
		ts, err := v.s64("timestamp")
		if err != nil {
			return nil, err
		}
		w, err := v.s32("outputWidth")
		if err != nil {
			return nil, err
		}
		h, err := v.s32("outputHeight")
		if err != nil {
			return nil, err
		}
		return protocol.ProcessFrameData{FrameData: frame, Timestamp: ts, OutputWidth: w, OutputHeight: h}, nil

	case protocol.TypeCloseFilter:
		return nil, nil
	}
	return nil, fmt.Errorf("no payload for %s", t)
}

func readFrameFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

// describe renders a response or event payload for display.
func describe(env protocol.Envelope) string {
	data, err := protocol.Generic(env.Data)
	if err != nil {
		return err.Error()
	}
	switch v := data.(type) {
	case nil:
		return "null"
	case []byte:
		return fmt.Sprintf("%d bytes", len(v))
	case string:
		return strconv.Quote(v)
	case protocol.Frame:
		return fmt.Sprintf("frame ts=%d, %d bytes", v.Timestamp, len(v.FrameData))
	case []protocol.FSNode:
		names := make([]string, len(v))
		for i, n := range v {
			names[i] = n.Name
			if n.IsDir {
				names[i] += "/"
			}
		}
		return strings.Join(names, "  ")
	default:
		return fmt.Sprintf("%+v", v)
	}
}

func witTypeStr(t wit.Type) string {
	switch t.(type) {
	case wit.S32:
		return "s32"
	case wit.S64:
		return "s64"
	case wit.String:
		return "string"
	default:
		return fmt.Sprintf("%T", t)
	}
}
