package playback

import "errors"

// ErrNoFrameSync is returned when an MPEG audio body contains no frame header
var ErrNoFrameSync = errors.New("no MPEG audio frame sync found")

// findFrameSync returns the offset of the first MPEG audio frame header
// (eleven set bits: 0xFF then 0xE0 in the high bits) or -1
func findFrameSync(data []byte) int {
	for i := 0; i < len(data)-1; i++ {
		if data[i] == 0xFF && data[i+1]&0xE0 == 0xE0 {
			return i
		}
	}
	return -1
}

// hasID3Header reports whether data starts with an ID3v2 tag
func hasID3Header(data []byte) bool {
	return len(data) >= 3 && data[0] == 'I' && data[1] == 'D' && data[2] == '3'
}
