package toolenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"presenter-ai/internal/domain"
)

// truncateResult shortens an oversized tool output. The text is cut at the
// cutoff length, then pulled back to the last full line so the model never
// sees a half line. The complete output is written to an overflow file in the
// workspace and a note tells the model how to keep reading.
func truncateResult(workspace, tool, text string, cutoff int) (string, error) {
	if cutoff <= 0 || len(text) <= cutoff {
		return text, nil
	}

	cut := text[:cutoff]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	shownLines := strings.Count(cut, "\n") + 1

	name := fmt.Sprintf("%s_%s.txt", tool, overflowSuffix())
	path := filepath.Join(workspace, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", domain.WrapOp("write overflow file", err)
	}

	note := fmt.Sprintf(
		"\n\nNOTE: Output truncated (showing %d lines). Use `read_file` with `offset` parameter to continue reading from %s.",
		shownLines, name)
	return cut + note, nil
}

// overflowSuffix derives a short unique suffix for overflow file names.
func overflowSuffix() string {
	id := domain.NewMessageID()
	return strings.ToLower(id[len(id)-6:])
}
