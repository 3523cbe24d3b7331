package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultProfileName 組み込みフィルタープロファイル名
const DefaultProfileName = "default"

// FilterDimension ペルソナフィルターの1つの軸
type FilterDimension struct {
	ID     string   `yaml:"id" json:"id"`
	Label  string   `yaml:"label" json:"label"`
	Key    string   `yaml:"key" json:"key"` // バックエンドが期待するキー名
	Values []string `yaml:"values" json:"values"`
}

// FilterProfile 導入先ごとのフィルター軸の定義
type FilterProfile struct {
	Name       string            `yaml:"name" json:"name"`
	Dimensions []FilterDimension `yaml:"dimensions" json:"dimensions"`
}

type filterProfilesFile struct {
	Profiles []FilterProfile `yaml:"profiles"`
}

// Dimension IDから軸を取得
func (p FilterProfile) Dimension(id string) (FilterDimension, bool) {
	for _, d := range p.Dimensions {
		if d.ID == id {
			return d, true
		}
	}
	return FilterDimension{}, false
}

// Allows 値が軸の列挙値に含まれるか
func (d FilterDimension) Allows(value string) bool {
	for _, v := range d.Values {
		if v == value {
			return true
		}
	}
	return false
}

// DefaultFilterProfile 組み込みのフィルタープロファイル
func DefaultFilterProfile() FilterProfile {
	return FilterProfile{
		Name: DefaultProfileName,
		Dimensions: []FilterDimension{
			{
				ID:     "age_group",
				Label:  "Age Group",
				Key:    "age_group",
				Values: []string{"18-24", "25-34", "35-44", "45-54", "55-64", "65+"},
			},
			{
				ID:     "household_income",
				Label:  "Household Income",
				Key:    "household_income",
				Values: []string{"Under $50,000", "$50,000-$99,999", "$100,000-$149,999", "$150,000+"},
			},
			{
				ID:     "geography_type",
				Label:  "Geography Type",
				Key:    "geography",
				Values: []string{"Urban", "Suburban", "Rural"},
			},
			{
				ID:     "generation",
				Label:  "Generation",
				Key:    "generation",
				Values: []string{"Gen Z", "Millennials", "Gen X", "Baby Boomers"},
			},
			{
				ID:     "children_count",
				Label:  "Number of Children",
				Key:    "children",
				Values: []string{"0", "1", "2", "3+"},
			},
		},
	}
}

// LoadFilterProfile YAMLファイルから指定プロファイルを読み込む。
// パスが空、またはファイルが存在しない場合は組み込みプロファイルを返す。
func LoadFilterProfile(path, name string) (FilterProfile, error) {
	if name == "" {
		name = DefaultProfileName
	}
	if path == "" {
		if name != DefaultProfileName {
			return FilterProfile{}, fmt.Errorf("filter profile %q requires FILTER_PROFILES_PATH", name)
		}
		return DefaultFilterProfile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && name == DefaultProfileName {
			return DefaultFilterProfile(), nil
		}
		return FilterProfile{}, fmt.Errorf("failed to read filter profiles: %w", err)
	}

	var file filterProfilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return FilterProfile{}, fmt.Errorf("failed to parse filter profiles: %w", err)
	}

	for _, p := range file.Profiles {
		if p.Name != name {
			continue
		}
		if err := p.validate(); err != nil {
			return FilterProfile{}, err
		}
		return p, nil
	}
	if name == DefaultProfileName {
		return DefaultFilterProfile(), nil
	}
	return FilterProfile{}, fmt.Errorf("filter profile %q not found in %s", name, path)
}

func (p *FilterProfile) validate() error {
	if len(p.Dimensions) == 0 {
		return fmt.Errorf("filter profile %q has no dimensions", p.Name)
	}
	seen := make(map[string]bool)
	for _, d := range p.Dimensions {
		if d.ID == "" {
			return fmt.Errorf("filter profile %q: dimension without id", p.Name)
		}
		if seen[d.ID] {
			return fmt.Errorf("filter profile %q: duplicate dimension %q", p.Name, d.ID)
		}
		seen[d.ID] = true
		if len(d.Values) == 0 {
			return fmt.Errorf("filter profile %q: dimension %q has no values", p.Name, d.ID)
		}
	}
	for i := range p.Dimensions {
		if p.Dimensions[i].Key == "" {
			p.Dimensions[i].Key = p.Dimensions[i].ID
		}
	}
	return nil
}
