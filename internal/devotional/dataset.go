// Package devotional 是页面胶水层：按日期从数据集中选出当天的经文与
// 教义条文，并持久化用户输入的祷告笔记。对缓存核心而言这些只是普通的
// 外部协作方，缓存代的删除永远不会触碰笔记存储。
package devotional

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Verse 是数据集中一条经文（出处 + 正文）。
type Verse struct {
	Reference string `json:"reference"`
	Text      string `json:"text"`
}

// Dataset 对应部署随附的 JSON 数据集文件，内容在一次部署内静态不变。
type Dataset struct {
	Verses    []Verse  `json:"verses"`
	Doctrines []string `json:"doctrines"`
}

// Payload 是解析后的“今日内容”，供页面直接渲染。
type Payload struct {
	Date           string `json:"date"`
	VerseReference string `json:"verse_reference"`
	VerseText      string `json:"verse_text"`
	Doctrine       string `json:"doctrine"`
}

// ParseDataset 解析数据集 JSON，至少需要一条经文与一条教义。
func ParseDataset(r io.Reader) (*Dataset, error) {
	var ds Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if len(ds.Verses) == 0 {
		return nil, errors.New("dataset has no verses")
	}
	if len(ds.Doctrines) == 0 {
		return nil, errors.New("dataset has no doctrines")
	}
	return &ds, nil
}

// PayloadFor 按年内天数轮转选择当天条目，同一天内结果稳定。
func (d *Dataset) PayloadFor(date time.Time) Payload {
	day := date.YearDay()
	verse := d.Verses[day%len(d.Verses)]
	doctrine := d.Doctrines[day%len(d.Doctrines)]
	return Payload{
		Date:           date.Format("2006-01-02"),
		VerseReference: verse.Reference,
		VerseText:      verse.Text,
		Doctrine:       doctrine,
	}
}
