package exec

import (
	"encoding/binary"

	"diskdb/internal/page"
)

// encodeRID serializes a RID as the value payload of an index entry:
// 4-byte page id followed by 2-byte slot number.
func encodeRID(r page.RID) []byte {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint32(buf, uint32(r.PageID))
	binary.LittleEndian.PutUint16(buf[4:], r.SlotNum)
	return buf
}

func decodeRID(b []byte) page.RID {
	return page.RID{
		PageID:  page.ID(binary.LittleEndian.Uint32(b)),
		SlotNum: binary.LittleEndian.Uint16(b[4:]),
	}
}
