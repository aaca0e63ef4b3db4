package mcp

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Limits applied to the text of one tool result. Test runners print their
// verdict last, so the tail is kept.
const (
	DefaultMaxResultLines = 2000
	DefaultMaxResultBytes = 50 * 1024
)

// cleanOutput strips terminal escape sequences and control characters
// from tool output, keeping tabs and newlines. Carriage returns overwrite
// the start of their line, as progress bars expect.
func cleanOutput(s string) string {
	s = strings.ReplaceAll(ansi.Strip(s), "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = overwrite(strings.Map(dropControl, line))
	}
	return strings.Join(lines, "\n")
}

func dropControl(r rune) rune {
	if r == '\t' || r == '\r' || r > 0x1f {
		return r
	}
	return -1
}

func overwrite(line string) string {
	if !strings.ContainsRune(line, '\r') {
		return line
	}
	var buf []rune
	for seg := range strings.SplitSeq(line, "\r") {
		for j, r := range []rune(seg) {
			if j < len(buf) {
				buf[j] = r
			} else {
				buf = append(buf, r)
			}
		}
	}
	return string(buf)
}

// clipTail keeps the end of s within maxLines lines and maxBytes bytes.
// A limit below one is ignored. When the byte limit cuts a line, the
// partial line is dropped unless it is all that remains. It reports the
// number of lines in s and whether anything was removed.
func clipTail(s string, maxLines, maxBytes int) (out string, total int, clipped bool) {
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	total = len(lines)
	overLines := maxLines > 0 && len(lines) > maxLines
	overBytes := maxBytes > 0 && len(s) > maxBytes
	if !overLines && !overBytes {
		return s, total, false
	}
	if overLines {
		lines = lines[len(lines)-maxLines:]
	}
	out = strings.Join(lines, "\n")
	if maxBytes > 0 && len(out) > maxBytes {
		cut := len(out) - maxBytes
		partial := out[cut-1] != '\n'
		out = out[cut:]
		if i := strings.IndexByte(out, '\n'); partial && i >= 0 && i < len(out)-1 {
			out = out[i+1:]
		}
		out = strings.ToValidUTF8(out, "")
	}
	return out, total, true
}

// clipNotice prefixes clipped output with how much of it is shown.
func clipNotice(out string, total int) string {
	shown := strings.Count(out, "\n") + 1
	return fmt.Sprintf("[output truncated: showing the last %d of %d lines]\n%s", shown, total, out)
}
