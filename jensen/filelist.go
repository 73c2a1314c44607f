package jensen

var fileListHeaderMarker = [2]byte{0xFF, 0xFF}

const fileListHeaderLen = 2 + 4 // marker + u32 expected count

// recordFixedLen is the byte count of a file-list record excluding its
// variable-length name: 1 (version) + 3 (name length) + 4 (file length) +
// 6 (reserved) + 16 (signature).
const recordFixedLen = 1 + 3 + 4 + 6 + 16

// fileListParser reassembles the chunked, variable-length file listing
// stream described in spec.md §4.4. It is a total function over any byte
// sequence fed to it: Finish either returns a record slice or a typed
// error, and Feed never panics regardless of how the bytes are chunked
// across calls.
type fileListParser struct {
	buf []byte

	headerSeen    bool
	expectedCount uint32

	records []FileRecord
}

func newFileListParser() *fileListParser {
	return &fileListParser{}
}

// feed appends chunk to the internal buffer and parses as many complete
// records as are available. Any trailing partial bytes are held until the
// next call.
func (p *fileListParser) feed(chunk []byte) error {
	p.buf = append(p.buf, chunk...)
	for {
		progressed, err := p.parseOnce()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// parseOnce attempts to consume one header or one record from the front
// of the buffer. It returns progressed=false when more bytes are needed.
func (p *fileListParser) parseOnce() (progressed bool, err error) {
	if !p.headerSeen {
		if len(p.buf) < fileListHeaderLen {
			return false, nil
		}
		if p.buf[0] != fileListHeaderMarker[0] || p.buf[1] != fileListHeaderMarker[1] {
			return false, newErr(ErrKindUnexpectedResponse, nil, "file list stream missing 0xFFFF header marker")
		}
		p.expectedCount = beUint32(p.buf[2:6])
		p.buf = p.buf[fileListHeaderLen:]
		p.headerSeen = true
		return true, nil
	}

	if len(p.buf) < 4 { // need at least version + name length to proceed
		return false, nil
	}
	version := p.buf[0]
	nameLen := int(p.buf[1])<<16 | int(p.buf[2])<<8 | int(p.buf[3])
	total := 4 + nameLen + (recordFixedLen - 4)
	if len(p.buf) < total {
		return false, nil
	}

	rec := p.buf[:total]
	name := trimTrailingNULs(rec[4 : 4+nameLen])
	rest := rec[4+nameLen:]
	length := beUint32(rest[0:4])
	// rest[4:10] is the 6 reserved bytes, intentionally skipped.
	var sig [16]byte
	copy(sig[:], rest[10:26])

	p.records = append(p.records, FileRecord{
		Name:            name,
		Length:          length,
		Version:         version,
		DurationSeconds: durationSeconds(length, version),
		CreatedAt:       parseFilenameTimestamp(name),
		Signature:       sig,
	})

	p.buf = p.buf[total:]
	return true, nil
}

// count returns how many records have been parsed so far.
func (p *fileListParser) count() int {
	return len(p.records)
}

// expectedReached reports whether the declared file count has been
// parsed, one of the three valid stream terminators per spec.md §4.4.
func (p *fileListParser) expectedReached() bool {
	return p.headerSeen && uint32(len(p.records)) >= p.expectedCount
}

// finish validates that nothing incomplete is left buffered and returns
// the parsed records. A non-empty leftover buffer at stream end means a
// record's declared length pointed past the data actually sent, spec.md
// §4.4's "malformed record" case.
func (p *fileListParser) finish() ([]FileRecord, error) {
	if len(p.buf) > 0 {
		return nil, newErr(ErrKindUnexpectedResponse, nil, "file list stream ended with %d incomplete trailing bytes", len(p.buf))
	}
	return p.records, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func trimTrailingNULs(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}
