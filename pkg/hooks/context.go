package hooks

import (
	"fmt"

	"github.com/mitchellh/copystructure"

	"github.com/ringoldsdev/efemel/pkg/document"
)

// Context is the mutable state handed to hook functions for one entry file.
type Context struct {
	// InputPath is the entry file as discovered.
	InputPath string

	// OutputPath is the output location relative to OutputDir, including the
	// serializer's extension.
	OutputPath string

	// OutputDir is the output root of the run.
	OutputDir string

	Environment string

	// Data is the selected document.
	Data *document.Map

	// Fields carries values between hooks of the same file.
	Fields map[string]any
}

// Clone returns a deep copy of the context.
func (c *Context) Clone() (*Context, error) {
	out := *c
	if c.Data != nil {
		out.Data = c.Data.Clone()
	}
	if c.Fields != nil {
		fields, err := copystructure.Copy(c.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to copy hook fields: %w", err)
		}
		out.Fields = fields.(map[string]any)
	}
	return &out, nil
}
