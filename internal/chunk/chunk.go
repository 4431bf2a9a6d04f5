// Package chunk splits oversized replies into platform-deliverable
// segments. The split is lossless: concatenating the segments in order
// reproduces the input exactly. No attempt is made to break on word or
// sentence boundaries.
package chunk

// DefaultLimit is the per-message character budget used for Telegram
// sends, kept under the platform's 4096-character hard limit.
const DefaultLimit = 4000

// Split slices text into consecutive windows of exactly limit characters
// (runes); the final segment holds the remainder. Empty text yields no
// segments.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if text == "" {
		return nil
	}
	runes := []rune(text)
	segments := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[start:end]))
	}
	return segments
}
