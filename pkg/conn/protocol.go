package conn

import "github.com/samharper/streampeer/pkg/wire"

// File-request protocol (§4.4 in the design notes): FILE_REQUEST
// carries (request_id uint64, source_path string) on the message
// channel; FILE_RECEIVE_INFO echoes (request_id uint64, byte_count
// uint32) back on the message channel before bytes flow on the file
// channel. type is unused by the transport itself and set to zero.

func buildFileRequest(requestID int64, sourcePath string) (*wire.Package, error) {
	return wire.NewBuilder(0).
		WithFlags(wire.FlagFileRequest).
		AppendUint64(uint64(requestID)).
		AppendString(sourcePath).
		Build()
}

func parseFileRequest(pkg *wire.Package) (requestID int64, sourcePath string, err error) {
	var rid uint64
	if err = pkg.ExtractUint64Into(&rid); err != nil {
		return 0, "", err
	}
	if err = pkg.ExtractStringInto(&sourcePath); err != nil {
		return 0, "", err
	}
	return int64(rid), sourcePath, nil
}

func buildFileReceiveInfo(requestID int64, byteCount uint32) (*wire.Package, error) {
	return wire.NewBuilder(0).
		WithFlags(wire.FlagFileReceiveInfo).
		AppendUint64(uint64(requestID)).
		AppendUint32(byteCount).
		Build()
}

func parseFileReceiveInfo(pkg *wire.Package) (requestID int64, byteCount uint32, err error) {
	var rid uint64
	if err = pkg.ExtractUint64Into(&rid); err != nil {
		return 0, 0, err
	}
	if err = pkg.ExtractUint32Into(&byteCount); err != nil {
		return 0, 0, err
	}
	return int64(rid), byteCount, nil
}
