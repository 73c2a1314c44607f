package jensen

import (
	"bytes"
	"encoding/binary"
	"time"
)

// CommandID enumerates the Jensen command set (spec.md §4.3). Values are
// symbolic; the wire representation is whatever constants are assigned
// below, not a reflection of any particular firmware revision.
type CommandID uint16

const (
	CmdGetDeviceInfo CommandID = 1 + iota
	CmdGetStorageInfo
	CmdGetFileCount
	CmdGetFileList
	CmdGetFileBlock
	CmdStreamFile
	CmdDeleteFile
	CmdFormatStorage
	CmdSetDeviceTime
	CmdGetCurrentRecording
)

// encodeASCIIName encodes a filename as ASCII bytes with no terminator;
// the codec relies on the frame's own length field to bound it, per
// spec.md §4.3 ("name (ASCII, to end)").
func encodeASCIIName(name string) []byte {
	return []byte(name)
}

// decodeNullTerminatedASCII reads a NUL-terminated ASCII string starting
// at the beginning of b, returning the string and the byte count
// consumed (including the terminator, if present).
func decodeNullTerminatedASCII(b []byte) (string, int) {
	idx := bytes.IndexByte(b, 0)
	if idx < 0 {
		return string(b), len(b)
	}
	return string(b[:idx]), idx + 1
}

// decodeDeviceInfo parses GetDeviceInfo's response body: a
// NUL-terminated ASCII serial followed by a u32 BE version code.
func decodeDeviceInfo(body []byte) (DeviceInfo, error) {
	serial, n := decodeNullTerminatedASCII(body)
	rest := body[n:]
	if len(rest) < 4 {
		return DeviceInfo{}, newErr(ErrKindUnexpectedResponse, nil, "device info body too short: %d bytes after serial", len(rest))
	}
	version := binary.BigEndian.Uint32(rest[:4])
	return DeviceInfo{Serial: serial, FirmwareVersion: version}, nil
}

// decodeStorageInfo parses GetStorageInfo's response body: capacity MB
// (u32), used MB (u32), raw status byte.
func decodeStorageInfo(body []byte) (StorageInfo, byte, error) {
	if len(body) < 9 {
		return StorageInfo{}, 0, newErr(ErrKindUnexpectedResponse, nil, "storage info body too short: %d bytes", len(body))
	}
	capMB := binary.BigEndian.Uint32(body[0:4])
	usedMB := binary.BigEndian.Uint32(body[4:8])
	status := body[8]
	total := uint64(capMB) * 1024 * 1024
	used := uint64(usedMB) * 1024 * 1024
	free := uint64(0)
	if total > used {
		free = total - used
	}
	return StorageInfo{TotalBytes: total, UsedBytes: used, FreeBytes: free}, status, nil
}

// decodeFileCount parses GetFileCount's response body. An empty body
// means zero, per spec.md §4.3.
func decodeFileCount(body []byte) (uint32, error) {
	if len(body) == 0 {
		return 0, nil
	}
	if len(body) < 4 {
		return 0, newErr(ErrKindUnexpectedResponse, nil, "file count body too short: %d bytes", len(body))
	}
	return binary.BigEndian.Uint32(body[:4]), nil
}

// encodeGetFileBlock encodes the GetFileBlock request body: offset (u32),
// length (u32), name (ASCII, to end).
func encodeGetFileBlock(offset, length uint32, name string) []byte {
	out := make([]byte, 8, 8+len(name))
	binary.BigEndian.PutUint32(out[0:4], offset)
	binary.BigEndian.PutUint32(out[4:8], length)
	out = append(out, encodeASCIIName(name)...)
	return out
}

// deleteResult classifies DeleteFile's single-byte response.
type deleteResult byte

const (
	deleteOK        deleteResult = 0
	deleteNotExists deleteResult = 1
	deleteFailed    deleteResult = 2
)

func decodeDeleteResult(body []byte) (deleteResult, error) {
	if len(body) == 0 {
		return 0, newErr(ErrKindUnexpectedResponse, nil, "empty delete response")
	}
	return deleteResult(body[0]), nil
}

// decodeFormatResult classifies FormatStorage's single-byte response: 0
// means success, anything else is a device-signaled failure.
func decodeFormatResult(body []byte) (bool, error) {
	if len(body) == 0 {
		return false, newErr(ErrKindUnexpectedResponse, nil, "empty format response")
	}
	return body[0] == 0, nil
}

// encodeSetDeviceTime builds the 8-byte device clock encoding: year
// (u16), month, day, hour, minute, second (u8 each), reserved (u8).
func encodeSetDeviceTime(t time.Time) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint16(out[0:2], uint16(t.Year()))
	out[2] = byte(t.Month())
	out[3] = byte(t.Day())
	out[4] = byte(t.Hour())
	out[5] = byte(t.Minute())
	out[6] = byte(t.Second())
	out[7] = 0
	return out
}

func decodeSetDeviceTimeResult(body []byte) (bool, error) {
	if len(body) == 0 {
		return false, newErr(ErrKindUnexpectedResponse, nil, "empty time sync response")
	}
	return body[0] == 0, nil
}

// decodeCurrentRecording parses GetCurrentRecording's response body: an
// optional ASCII name, or an empty body if nothing is currently
// recording.
func decodeCurrentRecording(body []byte) string {
	return string(body)
}
