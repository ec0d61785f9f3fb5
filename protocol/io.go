package protocol

// GetInfoRequest asks for a protocol version.
type GetInfoRequest struct {
	Version uint8
}

// GetInfoResponse carries the negotiated version and its parameters. The
// window sizes are set under version 1, the block size shift and timeout
// under version 2.
type GetInfoResponse struct {
	Version         Version
	ReadWindowSize  uint16
	WriteWindowSize uint16
	BlockSizeShift  uint8
	Timeout         uint16
}

// FlashInfoResponse describes the flash. Sizes are in bytes under version
// 1 and in blocks under version 2.
type FlashInfoResponse struct {
	FlashSize uint32
	EraseSize uint32
}

// CreateWindowRequest asks for a window at a flash offset in blocks.
type CreateWindowRequest struct {
	Offset   uint16
	Size     uint16
	ReadOnly bool
}

// CreateWindowResponse locates the window. Size and Offset are only set
// from version 2 on. All values are in blocks.
type CreateWindowResponse struct {
	LPCAddress uint16
	Size       uint16
	Offset     uint16
}

// MarkDirtyRequest marks part of the write window dirty. Under version 1
// the offset is in flash blocks and the size in bytes; from version 2 on
// the offset is relative to the window and both are in blocks.
type MarkDirtyRequest struct {
	Offset uint16
	Size   uint32
}

// EraseRequest marks part of the write window erased, in window-relative
// blocks.
type EraseRequest struct {
	Offset uint16
	Size   uint16
}

// CloseRequest closes the current window.
type CloseRequest struct {
	Flags uint8
}

// AckRequest acknowledges BMC events.
type AckRequest struct {
	Flags uint8
}
