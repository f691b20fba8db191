package llm

import "testing"

func TestResponseText(t *testing.T) {
	t.Parallel()

	r := &Response{Content: []ContentBlock{
		{Type: "text", Text: `{"a":`},
		{Type: "thinking", Text: "ignored"},
		{Type: "text", Text: `1}`},
	}}
	if got := r.Text(); got != `{"a":1}` {
		t.Errorf("Text() = %q, want %q", got, `{"a":1}`)
	}

	var nilResp *Response
	if got := nilResp.Text(); got != "" {
		t.Errorf("nil Text() = %q, want empty", got)
	}
}

func TestUserText(t *testing.T) {
	t.Parallel()

	m := UserText("hello")
	if m.Role != "user" {
		t.Errorf("role = %q, want user", m.Role)
	}
	if len(m.Content) != 1 || m.Content[0].Type != "text" || m.Content[0].Text != "hello" {
		t.Errorf("content = %+v", m.Content)
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `  {"a":1} `, `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```\n", `{"a":1}`},
		{"unclosed fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"fence without newline", "```{\"a\":1}```", ""},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := StripCodeFence(tt.in); got != tt.want {
				t.Errorf("StripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
