package jensen

// durationSeconds derives a file's play duration from its on-device byte
// length and record version, per spec.md §4.4. Every branch is an exact
// transliteration of the documented formula; none of this is guesswork.
func durationSeconds(byteLength uint32, version uint8) float64 {
	b := float64(byteLength)
	switch version {
	case 1:
		return (b / 32) * 2 * 4
	case 2:
		if b > 44 {
			return ((b - 44) / (48000 * 2 * 1)) * 4
		}
		return 0
	case 3:
		if b > 44 {
			return ((b - 44) / (24000 * 2 * 1)) * 4
		}
		return 0
	case 5:
		return (b / 12000) * 4
	default:
		return (b / (16000 * 2 * 1)) * 4
	}
}
