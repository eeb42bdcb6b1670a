package notes

import "strings"

// ContentPreview returns the first maxLines lines of content, appending "..." on a new line if truncated.
// If content has maxLines or fewer lines, returns content unchanged.
func ContentPreview(content string, maxLines int) string {
	if content == "" || maxLines <= 0 {
		return content
	}

	pos := 0
	found := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			found++
			if found == maxLines {
				pos = i
				break
			}
		}
	}

	if found < maxLines {
		return content
	}
	return content[:pos] + "\n..."
}

// embeddingText is the text a note is embedded from: the title, a blank
// line, then the content with markup removed.
func embeddingText(title, plain string) string {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return title
	}
	return title + "\n\n" + plain
}
