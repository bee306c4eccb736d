package cache

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// encodeMeta 将元数据序列化为单行 JSON，行尾换行符是信封与正文的分隔符。
func encodeMeta(meta SnapshotMeta) ([]byte, error) {
	if meta.FetchedAt.IsZero() {
		meta.FetchedAt = time.Now().UTC()
	}
	line, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot meta: %w", err)
	}
	if bytes.ContainsRune(line, '\n') {
		return nil, errors.New("snapshot meta must not contain newline")
	}
	return append(line, '\n'), nil
}

// decodeMeta 从文件头部读出元数据行，返回元数据与信封长度（含换行符）。
func decodeMeta(r io.Reader) (SnapshotMeta, int64, error) {
	reader := bufio.NewReader(r)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return SnapshotMeta{}, 0, fmt.Errorf("read snapshot envelope: %w", err)
	}

	var meta SnapshotMeta
	if err := json.Unmarshal(line, &meta); err != nil {
		return SnapshotMeta{}, 0, fmt.Errorf("decode snapshot meta: %w", err)
	}
	return meta, int64(len(line)), nil
}
