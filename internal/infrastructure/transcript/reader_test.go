package transcript

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSupports(t *testing.T) {
	t.Parallel()

	r := NewReader([]string{".md", ".pdf"})
	cases := map[string]bool{
		"meeting.md":   true,
		"Meeting.MD":   true,
		"slides.pdf":   true,
		"notes.txt":    false,
		"archive.html": false,
	}
	for path, want := range cases {
		if got := r.Supports(path); got != want {
			t.Fatalf("Supports(%s) = %v, want %v", path, got, want)
		}
	}
}

func TestReadMarkdown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "meeting.md")
	content := "# Acme call\n\nJane mentioned budget approval."
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NewReader([]string{".md"}).Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != content {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestReadMissingFileIsTransient(t *testing.T) {
	t.Parallel()

	_, err := NewReader([]string{".md"}).Read(context.Background(), filepath.Join(t.TempDir(), "gone.md"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadHTMLStripsMarkup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "export.html")
	html := `<html><head><style>p{color:red}</style></head><body>
	<h1>Acme kickoff</h1>
	<script>tracking();</script>
	<p>Jane confirmed the budget.</p>
	<p>Next step: proposal.</p>
	</body></html>`
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NewReader([]string{".html"}).Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, want := range []string{"Acme kickoff", "Jane confirmed the budget.", "Next step: proposal."} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
	for _, banned := range []string{"tracking();", "color:red", "<p>"} {
		if strings.Contains(got, banned) {
			t.Fatalf("markup leaked into text: %q", got)
		}
	}
}
