package protocol

// MessageType tags an envelope.
type MessageType string

const (
	TypeLoad         MessageType = "LOAD"
	TypeExec         MessageType = "EXEC"
	TypeFFprobe      MessageType = "FFPROBE"
	TypeWriteFile    MessageType = "WRITE_FILE"
	TypeReadFile     MessageType = "READ_FILE"
	TypeDeleteFile   MessageType = "DELETE_FILE"
	TypeRename       MessageType = "RENAME"
	TypeCreateDir    MessageType = "CREATE_DIR"
	TypeListDir      MessageType = "LIST_DIR"
	TypeDeleteDir    MessageType = "DELETE_DIR"
	TypeMount        MessageType = "MOUNT"
	TypeUnmount      MessageType = "UNMOUNT"
	TypeWriteFrame   MessageType = "WRITE_FRAME"
	TypeReadFrame    MessageType = "READ_FRAME"
	TypeInitFilter   MessageType = "INIT_FILTER"
	TypeProcessFrame MessageType = "PROCESS_FRAME"
	TypeCloseFilter  MessageType = "CLOSE_FILTER"

	// Response only.
	TypeError MessageType = "ERROR"

	// Events only.
	TypeDownload MessageType = "DOWNLOAD"
	TypeProgress MessageType = "PROGRESS"
	TypeLog      MessageType = "LOG"
)

// RequestTypes lists every kind a controlling context may send, in
// declaration order.
var RequestTypes = []MessageType{
	TypeLoad, TypeExec, TypeFFprobe,
	TypeWriteFile, TypeReadFile, TypeDeleteFile, TypeRename,
	TypeCreateDir, TypeListDir, TypeDeleteDir, TypeMount, TypeUnmount,
	TypeWriteFrame, TypeReadFrame, TypeInitFilter, TypeProcessFrame, TypeCloseFilter,
}

// IsEvent reports whether t is an unsolicited event kind.
func (t MessageType) IsEvent() bool {
	switch t {
	case TypeDownload, TypeProgress, TypeLog:
		return true
	}
	return false
}

// IsRequest reports whether t is a kind the worker accepts.
func (t MessageType) IsRequest() bool {
	for _, r := range RequestTypes {
		if r == t {
			return true
		}
	}
	return false
}

// IsFrameOp reports whether t is handled by the binary marshaling layer.
func (t MessageType) IsFrameOp() bool {
	switch t {
	case TypeWriteFrame, TypeReadFrame, TypeInitFilter, TypeProcessFrame, TypeCloseFilter:
		return true
	}
	return false
}

func (t MessageType) String() string {
	return string(t)
}
