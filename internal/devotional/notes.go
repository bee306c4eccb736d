package devotional

import (
	"context"
	"fmt"
	"time"

	"github.com/quiet-time/quiet-time/internal/config"
)

// NotesStore 是按日期键存取祷告笔记的简单字符串存储。
// 不存在的日期返回空串而非错误；写入总是整体覆盖。
type NotesStore interface {
	Get(ctx context.Context, date string) (string, error)
	Set(ctx context.Context, date, text string) error
}

// NewNotesStore 根据配置选择 file 或 redis 后端。
func NewNotesStore(cfg config.NotesConfig) (NotesStore, error) {
	switch cfg.NotesBackend() {
	case "redis":
		return newRedisNotes(cfg)
	default:
		return newFileNotes(cfg.Path)
	}
}

// ValidateNoteDate 校验日期键形如 2006-01-02，防止把任意字符串当文件名。
func ValidateNoteDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid note date %q: %w", date, err)
	}
	return nil
}
