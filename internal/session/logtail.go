package session

import (
	"bufio"
	"os"
	"strings"
)

// tailLines reads the last n non-empty lines of path. The file is small
// relative to available memory in practice (a per-session PTY log), so this
// reads it whole rather than seeking backward in chunks.
func tailLines(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// tailN returns the last n lines of data as a byte slice, used by the Logs
// handler when the caller already has the full log in memory.
func tailN(data []byte, n uint32) []byte {
	if n == 0 {
		return data
	}
	lines := strings.Split(string(data), "\n")
	if uint32(len(lines)) <= n {
		return data
	}
	return []byte(strings.Join(lines[uint32(len(lines))-n:], "\n"))
}
