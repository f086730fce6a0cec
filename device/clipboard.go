package device

import (
	"errors"
	"sync"

	"github.com/atotto/clipboard"
)

// Clipboard stores the clipboard text.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

// MemoryClipboard is a process-local clipboard.
type MemoryClipboard struct {
	text string
	mu   sync.Mutex
}

func (c *MemoryClipboard) Read() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, nil
}

func (c *MemoryClipboard) Write(text string) error {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
	return nil
}

var errNoSystemClipboard = errors.New("system clipboard unavailable")

// SystemClipboard uses the operating system clipboard.
type SystemClipboard struct{}

// SystemClipboardAvailable reports whether this platform has a usable
// clipboard utility.
func SystemClipboardAvailable() bool { return !clipboard.Unsupported }

func (SystemClipboard) Read() (string, error) {
	if clipboard.Unsupported {
		return "", errNoSystemClipboard
	}
	return clipboard.ReadAll()
}

func (SystemClipboard) Write(text string) error {
	if clipboard.Unsupported {
		return errNoSystemClipboard
	}
	return clipboard.WriteAll(text)
}
