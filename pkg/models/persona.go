package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// knownPersonaSections 表示順が固定されている属性キー
var knownPersonaSections = []string{
	"demographics",
	"goals",
	"pain_points",
	"interests",
	"behaviors",
	"values",
	"channel_preferences",
	"purchasing_habits",
}

// Persona セグメントに属する合成プロファイル。
// id・name以外の属性はスキーマを持たないAttributesに入る。
type Persona struct {
	ID         ID                     `json:"id"`
	Name       string                 `json:"name"`
	SegmentID  ID                     `json:"segment_id,omitempty"`
	Attributes map[string]interface{} `json:"-"`
}

// PersonaSection 表示用の属性セクション
type PersonaSection struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
	Known bool        `json:"known"`
}

// UnmarshalJSON 既知のキー以外をAttributesへ集める
func (p *Persona) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid persona: %w", err)
	}

	*p = Persona{Attributes: make(map[string]interface{})}
	for key, value := range raw {
		switch key {
		case "id":
			if err := json.Unmarshal(value, &p.ID); err != nil {
				return err
			}
		case "name":
			if err := json.Unmarshal(value, &p.Name); err != nil {
				return err
			}
		case "segment_id":
			if err := json.Unmarshal(value, &p.SegmentID); err != nil {
				return err
			}
		default:
			var v interface{}
			if err := json.Unmarshal(value, &v); err != nil {
				return err
			}
			p.Attributes[key] = v
		}
	}
	return nil
}

// MarshalJSON Attributesをトップレベルに展開して書き出す
func (p Persona) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(p.Attributes)+3)
	for k, v := range p.Attributes {
		out[k] = v
	}
	out["id"] = p.ID
	out["name"] = p.Name
	if p.SegmentID != "" {
		out["segment_id"] = p.SegmentID
	}
	return json.Marshal(out)
}

// Sections 既知セクションを固定順で、それ以外のキーをソート順で返す
func (p Persona) Sections() []PersonaSection {
	sections := make([]PersonaSection, 0, len(p.Attributes))
	seen := make(map[string]bool, len(knownPersonaSections))
	for _, key := range knownPersonaSections {
		seen[key] = true
		if v, ok := p.Attributes[key]; ok {
			sections = append(sections, PersonaSection{Key: key, Value: v, Known: true})
		}
	}

	var extra []string
	for key := range p.Attributes {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		sections = append(sections, PersonaSection{Key: key, Value: p.Attributes[key]})
	}
	return sections
}

// PersonaSummary チャットのサイドバーに表示するペルソナ
type PersonaSummary struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Loaded      bool   `json:"loaded"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// PlaceholderPersona 取得に失敗した、またはまだ読み込み中のペルソナ
func PlaceholderPersona(id ID) PersonaSummary {
	return PersonaSummary{ID: id, Name: fmt.Sprintf("Persona %s", id), Placeholder: true}
}
