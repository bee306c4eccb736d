package devotional

import (
	"strings"
	"testing"
	"time"
)

const sampleDatasetJSON = `{
  "verses": [
    {"reference": "Psalm 23:1", "text": "The LORD is my shepherd"},
    {"reference": "John 3:16", "text": "For God so loved the world"},
    {"reference": "Romans 8:28", "text": "All things work together for good"}
  ],
  "doctrines": [
    "Grace alone",
    "Faith alone"
  ]
}`

func TestParseDataset(t *testing.T) {
	ds, err := ParseDataset(strings.NewReader(sampleDatasetJSON))
	if err != nil {
		t.Fatalf("ParseDataset 返回错误: %v", err)
	}
	if len(ds.Verses) != 3 || len(ds.Doctrines) != 2 {
		t.Fatalf("数据集内容不完整: %+v", ds)
	}
}

func TestParseDatasetRejectsEmptySections(t *testing.T) {
	cases := map[string]string{
		"无经文": `{"verses": [], "doctrines": ["x"]}`,
		"无教义": `{"verses": [{"reference": "r", "text": "t"}], "doctrines": []}`,
		"非法":  `not-json`,
	}
	for name, raw := range cases {
		if _, err := ParseDataset(strings.NewReader(raw)); err == nil {
			t.Fatalf("%s 的数据集应解析失败", name)
		}
	}
}

func TestPayloadForIsStableWithinDay(t *testing.T) {
	ds, err := ParseDataset(strings.NewReader(sampleDatasetJSON))
	if err != nil {
		t.Fatalf("ParseDataset 返回错误: %v", err)
	}

	date := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	morning := ds.PayloadFor(date)
	evening := ds.PayloadFor(date.Add(10 * time.Hour))
	if morning != evening {
		t.Fatalf("同一天内结果应稳定: %+v vs %+v", morning, evening)
	}
	if morning.Date != "2026-08-24" {
		t.Fatalf("日期格式错误: %s", morning.Date)
	}
	if morning.VerseReference == "" || morning.Doctrine == "" {
		t.Fatalf("今日内容字段不应为空: %+v", morning)
	}
}

func TestPayloadForRotatesAcrossDays(t *testing.T) {
	ds, err := ParseDataset(strings.NewReader(sampleDatasetJSON))
	if err != nil {
		t.Fatalf("ParseDataset 返回错误: %v", err)
	}

	day1 := ds.PayloadFor(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC))
	day2 := ds.PayloadFor(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	if day1.VerseReference == day2.VerseReference {
		t.Fatalf("相邻两天应轮转到不同经文: %+v vs %+v", day1, day2)
	}
}
