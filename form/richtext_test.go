package form

import (
	"strings"
	"testing"
)

func TestStripper(t *testing.T) {
	s := NewStripper()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text passes through",
			in:   "  just text  ",
			want: "just text",
		},
		{
			name: "paragraph",
			in:   "<p>Hello there</p>",
			want: "Hello there",
		},
		{
			name: "bold",
			in:   "<p>This is <strong>important</strong></p>",
			want: "This is **important**",
		},
		{
			name: "link",
			in:   `<a href="https://example.com">our site</a>`,
			want: "[our site](https://example.com)",
		},
		{
			name: "heading",
			in:   "<h2>Delivery notes</h2>",
			want: "## Delivery notes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Strip(tt.in); got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripperList(t *testing.T) {
	s := NewStripper()

	got := s.Strip("<ul><li>first</li><li>second</li></ul>")

	if !strings.Contains(got, "first") || !strings.Contains(got, "second") {
		t.Errorf("list items missing from %q", got)
	}
	if strings.Contains(got, "<li>") {
		t.Errorf("markup left in %q", got)
	}
}

func TestStripperRemovesScript(t *testing.T) {
	s := NewStripper()

	got := s.Strip(`<p>safe</p><script>alert("x")</script>`)

	if strings.Contains(got, "alert") {
		t.Errorf("script content left in %q", got)
	}
	if !strings.Contains(got, "safe") {
		t.Errorf("content lost from %q", got)
	}
}
