package jensen

import (
	"testing"
)

// encodeListRecord builds one on-wire file-list record for tests: version,
// 3-byte BE name length, name, 4-byte BE file length, 6 reserved bytes,
// 16-byte signature.
func encodeListRecord(version uint8, name string, length uint32, sig byte) []byte {
	nameBytes := []byte(name)
	out := make([]byte, 0, recordFixedLen+len(nameBytes))
	out = append(out, version)
	nameLen := len(nameBytes)
	out = append(out, byte(nameLen>>16), byte(nameLen>>8), byte(nameLen))
	out = append(out, nameBytes...)
	lenBuf := make([]byte, 4)
	lenBuf[0] = byte(length >> 24)
	lenBuf[1] = byte(length >> 16)
	lenBuf[2] = byte(length >> 8)
	lenBuf[3] = byte(length)
	out = append(out, lenBuf...)
	out = append(out, make([]byte, 6)...) // reserved
	signature := make([]byte, 16)
	for i := range signature {
		signature[i] = sig
	}
	out = append(out, signature...)
	return out
}

func encodeListHeader(count uint32) []byte {
	return []byte{
		fileListHeaderMarker[0], fileListHeaderMarker[1],
		byte(count >> 24), byte(count >> 16), byte(count >> 8), byte(count),
	}
}

func TestFileListParserSingleFeed(t *testing.T) {
	raw := append(encodeListHeader(2),
		append(encodeListRecord(1, "20230115090000.wav", 320000, 0xAA),
			encodeListRecord(2, "rec2.wav", 0, 0xBB)...)...)

	p := newFileListParser()
	if err := p.feed(raw); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !p.expectedReached() {
		t.Fatalf("expected the declared count to be reached")
	}
	records, err := p.finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Name != "20230115090000.wav" {
		t.Errorf("unexpected name %q", records[0].Name)
	}
	if records[0].CreatedAt == nil {
		t.Errorf("expected a parsed timestamp for %q", records[0].Name)
	}
	if records[1].CreatedAt != nil {
		t.Errorf("expected no parsed timestamp for %q, got %v", records[1].Name, records[1].CreatedAt)
	}
}

func TestFileListParserSplitAcrossFeeds(t *testing.T) {
	raw := append(encodeListHeader(1), encodeListRecord(1, "rec.wav", 100, 0x01)...)

	p := newFileListParser()
	mid := len(raw) / 2
	if err := p.feed(raw[:mid]); err != nil {
		t.Fatalf("feed first half: %v", err)
	}
	if p.expectedReached() {
		t.Fatalf("did not expect completion with only half the bytes fed")
	}
	if err := p.feed(raw[mid:]); err != nil {
		t.Fatalf("feed second half: %v", err)
	}
	if !p.expectedReached() {
		t.Fatalf("expected completion once all bytes are fed")
	}
	records, err := p.finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(records) != 1 || records[0].Name != "rec.wav" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestFileListParserZeroExpected(t *testing.T) {
	p := newFileListParser()
	if err := p.feed(encodeListHeader(0)); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !p.expectedReached() {
		t.Fatalf("expected an immediately-reached empty listing")
	}
	records, err := p.finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestFileListParserMissingHeaderMarker(t *testing.T) {
	p := newFileListParser()
	err := p.feed([]byte{0x00, 0x00, 0, 0, 0, 1})
	if err == nil {
		t.Fatal("expected an error for a missing 0xFFFF header marker")
	}
	if KindOf(err) != ErrKindUnexpectedResponse {
		t.Errorf("expected ErrKindUnexpectedResponse, got %v", KindOf(err))
	}
}

func TestFileListParserTrailingGarbage(t *testing.T) {
	raw := append(encodeListHeader(1), encodeListRecord(1, "rec.wav", 100, 0x01)...)
	raw = append(raw, 0x01, 0x02, 0x03) // trailing incomplete bytes

	p := newFileListParser()
	if err := p.feed(raw); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if _, err := p.finish(); err == nil {
		t.Fatal("expected finish to reject leftover trailing bytes")
	}
}
