package progress

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsole(t *testing.T) {
	var out, errOut bytes.Buffer
	c := NewConsole(&out, &errOut, false)

	c.Info("Records", "12")
	c.Success("done")
	c.Warning("disk nearly full", "3 GB left")
	c.Highlight("[classify]")
	c.Error("run failed", errors.New("boom"))

	assert.Equal(t, "Records: 12\ndone\ndisk nearly full: 3 GB left\n[classify]\n", out.String(),
		"plain text on a non-terminal writer")
	assert.Equal(t, "run failed: boom\n", errOut.String())
}

func TestConsoleQuiet(t *testing.T) {
	var out, errOut bytes.Buffer
	c := NewConsole(&out, &errOut, true)

	c.Info("Records", "12")
	c.Success("done")
	c.Print("text")
	c.Error("still shown")

	assert.True(t, c.Quiet())
	assert.Empty(t, out.String())
	assert.Equal(t, "still shown\n", errOut.String())
}
