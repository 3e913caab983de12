package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// LinearDAG is a three component chain starting from video.mp4.
const LinearDAG = `
components: [A, B, C]
dependencies:
  - [A, B, frames]
  - [B, C, frames]
initial_input: media/video.mp4
`

// WriteDAG writes a pipeline document into dir and returns its path.
func WriteDAG(t testing.TB, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
