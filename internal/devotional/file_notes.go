package devotional

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileNotes 把每天的笔记存成 <dir>/<date>.txt，写入走临时文件 + rename。
type fileNotes struct {
	dir string
	mu  sync.Mutex
}

func newFileNotes(dir string) (*fileNotes, error) {
	if dir == "" {
		return nil, errors.New("notes path required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve notes path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create notes path: %w", err)
	}
	return &fileNotes{dir: abs}, nil
}

func (n *fileNotes) Get(ctx context.Context, date string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if err := ValidateNoteDate(date); err != nil {
		return "", err
	}

	data, err := os.ReadFile(n.notePath(date))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func (n *fileNotes) Set(ctx context.Context, date, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := ValidateNoteDate(date); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	tempFile, err := os.CreateTemp(n.dir, ".note-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.WriteString(text)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, n.notePath(date)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (n *fileNotes) notePath(date string) string {
	return filepath.Join(n.dir, strings.TrimSpace(date)+".txt")
}
