package markdown

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
)

// Renderer renders message bodies as terminal markdown.
type Renderer struct {
	glamour *glamour.TermRenderer
	width   int
	dark    bool
	// cache of rendered content by message id.
	cache map[string]string
}

// NewRenderer creates a new markdown renderer.
func NewRenderer(width int, dark bool) (*Renderer, error) {
	gr, err := glamour.NewTermRenderer(
		glamour.WithStyles(customStyle(dark)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &Renderer{
		glamour: gr,
		width:   width,
		dark:    dark,
		cache:   map[string]string{},
	}, nil
}

// Render content. A non-empty id caches the result.
func (r *Renderer) Render(id, content string) string {
	if id != "" {
		if md, ok := r.cache[id]; ok {
			return md
		}
	}
	rendered, err := r.glamour.Render(content)
	if err != nil {
		return content
	}
	md := strings.Trim(rendered, "\n")
	if id != "" {
		r.cache[id] = md
	}
	return md
}

// SetWidth updates the renderer width, recreating internals if needed.
func (r *Renderer) SetWidth(width int) error {
	if r.width == width {
		return nil
	}
	return r.reset(width, r.dark)
}

// SetDark switches between the dark and light styles.
func (r *Renderer) SetDark(dark bool) error {
	if r.dark == dark {
		return nil
	}
	return r.reset(r.width, dark)
}

func (r *Renderer) reset(width int, dark bool) error {
	newRenderer, err := NewRenderer(width, dark)
	if err != nil {
		return err
	}
	*r = *newRenderer
	return nil
}

// customStyle returns a modified glamour style for cleaner output.
func customStyle(dark bool) ansi.StyleConfig {
	style := styles.LightStyleConfig
	if dark {
		style = styles.DraculaStyleConfig
	}
	zero := uint(0)
	style.Document.Margin = &zero
	style.CodeBlock.Margin = &zero
	style.CodeBlock.Indent = &zero
	style.CodeBlock.Prefix = ""
	style.CodeBlock.BlockPrefix = ""

	style.Code.Margin = &zero
	style.Code.Indent = &zero
	style.Code.Prefix = ""
	style.Code.Suffix = ""

	style.Paragraph.BlockPrefix = ""
	style.Paragraph.BlockSuffix = ""

	return style
}
