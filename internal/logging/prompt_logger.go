package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/util"
	log "github.com/sirupsen/logrus"
)

// PromptLogger writes inbound prompts and outbound responses to two
// append-only text files, one per direction. Each entry is framed as
// "<timestamp> [INPUT|OUTPUT]:\n<body>\n---\n". Console mode echoes the
// same frames through logrus instead of the files.
type PromptLogger struct {
	mode     string
	dir      string
	baseName string
	mu       sync.Mutex
}

// NewPromptLogger creates a prompt logger. mode is one of none, console,
// or file.
func NewPromptLogger(mode, dir, baseName string) *PromptLogger {
	return &PromptLogger{
		mode:     mode,
		dir:      dir,
		baseName: baseName,
	}
}

// LogInput records an inbound prompt.
func (p *PromptLogger) LogInput(body string) {
	p.write("INPUT", body)
}

// LogOutput records an outbound response.
func (p *PromptLogger) LogOutput(body string) {
	p.write("OUTPUT", body)
}

func (p *PromptLogger) write(direction, body string) {
	if p.mode == "none" || body == "" {
		return
	}
	body = util.RedactURLUserinfo(body)
	entry := fmt.Sprintf("%s [%s]:\n%s\n---\n", time.Now().Format(time.RFC3339), direction, body)

	if p.mode == "console" {
		log.Info(entry)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		log.Errorf("prompt log: failed to create directory: %v", err)
		return
	}
	suffix := "output.log"
	if direction == "INPUT" {
		suffix = "input.log"
	}
	path := filepath.Join(p.dir, fmt.Sprintf("%s_%s", p.baseName, suffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Errorf("prompt log: failed to open %s: %v", path, err)
		return
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err = f.WriteString(entry); err != nil {
		log.Errorf("prompt log: failed to write %s: %v", path, err)
	}
}
