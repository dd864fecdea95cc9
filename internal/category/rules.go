// Package category は未分類記事のキーワードによるカテゴリ分類を提供する。
package category

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// DefaultFallback はどのルールにも一致しない記事のカテゴリ名。
const DefaultFallback = "その他"

// Rule はカテゴリ1件分のキーワードルール。
// Keywordsのいずれかを含み、Excludeのいずれも含まない記事が一致する。
type Rule struct {
	Category string   `toml:"category" yaml:"category"`
	Keywords []string `toml:"keywords" yaml:"keywords"`
	Exclude  []string `toml:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// RuleSet はルールファイルの内容。ルールは記載順に評価する。
type RuleSet struct {
	Fallback string `toml:"fallback,omitempty" yaml:"fallback,omitempty"`
	Rules    []Rule `toml:"rules" yaml:"rules"`
}

// DefaultRules はルールファイルが指定されない場合の組み込みルール。
func DefaultRules() *RuleSet {
	rs := &RuleSet{
		Rules: []Rule{
			{Category: "プログラミング", Keywords: []string{"golang", "rust", "python", "javascript", "typescript", "プログラミング"}},
			{Category: "インフラ", Keywords: []string{"kubernetes", "docker", "aws", "terraform", "linux"}},
			{Category: "セキュリティ", Keywords: []string{"security", "vulnerability", "cve-", "脆弱性", "セキュリティ"}},
			{Category: "AI", Keywords: []string{"machine learning", "llm", "neural", "機械学習", "生成ai"}},
		},
	}
	rs.normalize()
	return rs
}

// LoadRules はルールファイルを読み込む。拡張子でTOML（.toml）かYAML（.yaml/.yml）かを判定する。
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading rules file: %w", err)
	}

	var rs RuleSet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &rs)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &rs)
	default:
		return nil, fmt.Errorf("unsupported rules file format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing rules file: %w", err)
	}

	if err := rs.validate(); err != nil {
		return nil, err
	}
	rs.normalize()
	return &rs, nil
}

// validate はカテゴリ名とキーワードの欠落を検出する。
func (rs *RuleSet) validate() error {
	for i, r := range rs.Rules {
		if strings.TrimSpace(r.Category) == "" {
			return fmt.Errorf("rule %d: category is empty", i)
		}
		if len(lo.Compact(r.Keywords)) == 0 {
			return fmt.Errorf("rule %d (%s): no keywords", i, r.Category)
		}
	}
	return nil
}

// normalize はキーワードを小文字化して空要素と重複を除く。
func (rs *RuleSet) normalize() {
	if strings.TrimSpace(rs.Fallback) == "" {
		rs.Fallback = DefaultFallback
	}
	for i := range rs.Rules {
		rs.Rules[i].Category = strings.TrimSpace(rs.Rules[i].Category)
		rs.Rules[i].Keywords = normalizeKeywords(rs.Rules[i].Keywords)
		rs.Rules[i].Exclude = normalizeKeywords(rs.Rules[i].Exclude)
	}
}

func normalizeKeywords(words []string) []string {
	lowered := lo.Map(words, func(w string, _ int) string {
		return strings.ToLower(strings.TrimSpace(w))
	})
	return lo.Uniq(lo.Compact(lowered))
}

// Match はテキストに最初に一致したルールのカテゴリ名を返す。一致しない場合はFallbackを返す。
func (rs *RuleSet) Match(text string) string {
	text = strings.ToLower(text)
	contains := func(k string) bool { return strings.Contains(text, k) }

	for _, r := range rs.Rules {
		if lo.SomeBy(r.Exclude, contains) {
			continue
		}
		if lo.SomeBy(r.Keywords, contains) {
			return r.Category
		}
	}
	return rs.Fallback
}
