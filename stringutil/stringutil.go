package stringutil

// ShortLength is how many characters of an id survive shortening.
const ShortLength = 16

// Shorten keeps the head and tail of a long hex id for log lines.
func Shorten(id string) string {
	if len(id) <= ShortLength {
		return id
	}
	half := ShortLength / 2
	return id[:half] + "..." + id[len(id)-half:]
}
