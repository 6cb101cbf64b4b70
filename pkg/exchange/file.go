package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Sink receives decoded messages. Deliver calls never overlap.
type Sink interface {
	Deliver(ctx context.Context, msg *Message) error
}

type SinkFunc func(ctx context.Context, msg *Message) error

func (f SinkFunc) Deliver(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Handler turns files dropped into InputDir into messages for its Sink.
type Handler struct {
	InputDir string
	ErrorDir string
	Sink     Sink
}

func NewHandler(inputDir, errorDir string, sink Sink) (*Handler, error) {
	for _, dir := range []string{inputDir, errorDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			slog.Info("Creating directory", "dir", dir)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
	}
	return &Handler{
		InputDir: inputDir,
		ErrorDir: errorDir,
		Sink:     sink,
	}, nil
}

// Start registers the directory watch and processes files already waiting in
// InputDir. Watching stops when ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("Starting exchange handler", "input", h.InputDir, "error", h.ErrorDir)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Error creating watcher", "err", err)
		return err
	}
	if err := watcher.Add(h.InputDir); err != nil {
		watcher.Close()
		return err
	}

	pending, err := os.ReadDir(h.InputDir)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to list input dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for _, entry := range pending {
			if !entry.IsDir() {
				h.handleFile(ctx, filepath.Join(h.InputDir, entry.Name()))
			}
		}
		for {
			select {
			case <-ctx.Done():
				slog.Info("Stopping exchange handler", "input", h.InputDir)
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create == fsnotify.Create {
					h.handleFile(ctx, event.Name)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Watcher error", "err", werr)
			}
		}
	}()

	return nil
}

// handleFile delivers one dropped file. Files that cannot be parsed or
// delivered are kept in ErrorDir; delivered files are removed. A path that is
// already gone was handled from an earlier event and is skipped.
func (h *Handler) handleFile(ctx context.Context, path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Debug("Skipping vanished file", "file", path)
		return
	}
	slog.Info("New file created", "file", path)
	msg, err := ReadFile(path)
	if err == nil {
		err = h.Sink.Deliver(ctx, msg)
	}
	if err != nil {
		slog.Error("Error processing file", "file", path, "err", err)
		if merr := h.errorFile(path); merr != nil {
			slog.Error("Error moving file to error dir", "err", merr)
		}
		return
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("Failed to remove processed file", "file", path, "err", err)
	}
}

func (h *Handler) errorFile(path string) error {
	filename := filepath.Base(path)
	errorPath := filepath.Join(h.ErrorDir, filename)

	if _, err := os.Stat(errorPath); err == nil {
		timestamp := time.Now().Format("20060102150405")
		errorPath = filepath.Join(h.ErrorDir, fmt.Sprintf("%s_%s", filename, timestamp))
	}

	return os.Rename(path, errorPath)
}

const (
	READ_FILE_MAX_ATTEMPTS = 5
	READ_FILE_RETRY_DELAY  = 200 * time.Millisecond
)

// ReadFile reads and parses one drop file, retrying while the writer may
// still be filling it.
func ReadFile(path string) (*Message, error) {
	var content []byte
	var err error
	for attempt := 1; attempt <= READ_FILE_MAX_ATTEMPTS; attempt++ {
		content, err = os.ReadFile(path)
		if err != nil {
			slog.Warn("Failed to read file, retrying", "attempt", attempt, "err", err)
			time.Sleep(READ_FILE_RETRY_DELAY)
			continue
		}
		if len(content) == 0 {
			slog.Warn("File is empty, retrying", "attempt", attempt)
			time.Sleep(READ_FILE_RETRY_DELAY)
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, errors.New("file content is empty after retries")
	}

	msg, err := ParseFile(strings.Split(string(content), "\n"))
	var noType *NoTypeError
	if errors.As(err, &noType) {
		noType.File = path
	}
	var empty *EmptyMessageError
	if errors.As(err, &empty) {
		empty.File = path
	}
	return msg, err
}

// ParseFile parses the drop file format: the message type on the first line,
// then "Key: Value" push fields. Lines starting with "--" are comments and a
// "---" rule ends the head.
func ParseFile(lines []string) (*Message, error) {
	head := make([]string, 0)
	for _, line := range lines {
		if isRule(line) {
			break
		}
		head = append(head, strings.TrimRight(line, "\r"))
	}
	slog.Debug("Parsed file", "head", head)

	head = cleanHead(head)
	if len(head) < 1 {
		return nil, &NoTypeError{}
	}

	fields := parseFields(head[1:])
	fields[KeyMessageType] = strings.TrimSpace(head[0])
	if MessageType(fields[KeyMessageType]) == TypeMessage && len(fields) < 2 {
		return nil, &EmptyMessageError{}
	}

	return Decode(fields)
}

func cleanHead(head []string) []string {
	cleaned := make([]string, 0)
	for _, line := range head {
		if strings.TrimSpace(line) == "" || isComment(line) {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return cleaned
}

func isRule(line string) bool {
	return strings.HasPrefix(line, "---")
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "--")
}

func parseFields(lines []string) map[string]string {
	fields := make(map[string]string)
	for _, line := range lines {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) < 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}
