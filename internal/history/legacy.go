package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 📥 旧版导出导入
// =============================================================================

// LegacyMaxItems 旧版浏览器端历史的保留条数
const LegacyMaxItems = 10

// legacyStand 旧版浏览器端保存的记录；档案字段名随版本变化
type legacyStand struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	AbilityName string            `json:"abilityName"`
	Type        string            `json:"type"`
	Ability     string            `json:"ability"`
	Description string            `json:"description"`
	Mechanics   []types.Mechanic  `json:"mechanics"`
	Limitations []string          `json:"limitations"`
	Shout       string            `json:"shout"`
	BattleCry   string            `json:"battleCry"`
	Quote       string            `json:"quote"`
	Appearance  string            `json:"appearance"`
	Stats       map[string]string `json:"stats"`
	ImageURL    *string           `json:"imageUrl"`
	UserName    string            `json:"userName"`
	Timestamp   int64             `json:"timestamp"`
}

// DecodeLegacyExport 解析旧版历史导出：记录数组，或 {"stands": [...]} 包装
func DecodeLegacyExport(r io.Reader) ([]types.MergedArtifact, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read legacy export: %w", err)
	}
	raw = bytes.TrimSpace(raw)

	var items []legacyStand
	switch {
	case len(raw) == 0:
		return nil, fmt.Errorf("legacy export is empty")
	case raw[0] == '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode legacy export: %w", err)
		}
	default:
		var wrapped struct {
			Stands []legacyStand `json:"stands"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("decode legacy export: %w", err)
		}
		items = wrapped.Stands
	}

	out := make([]types.MergedArtifact, 0, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return nil, fmt.Errorf("legacy record %d: name is required", i)
		}
		out = append(out, item.toArtifact())
	}
	return out, nil
}

func (l legacyStand) toArtifact() types.MergedArtifact {
	description := l.Description
	if description == "" {
		description = l.Ability
	}
	battleCry := l.BattleCry
	if battleCry == "" {
		battleCry = l.Shout
	}

	a := types.MergedArtifact{
		ID:         l.ID,
		UserName:   l.UserName,
		Appearance: l.Appearance,
		FullProfile: types.FullProfile{
			Name:        l.Name,
			AbilityName: l.AbilityName,
			Type:        l.Type,
			Description: description,
			Mechanics:   l.Mechanics,
			Limitations: l.Limitations,
			BattleCry:   battleCry,
			Quote:       l.Quote,
			Stats:       legacyStats(l.Stats),
		},
		Image: legacyImage(l.ImageURL),
	}
	if l.Timestamp > 0 {
		a.Timestamp = time.UnixMilli(l.Timestamp).UTC()
	}
	return a
}

// legacyStats 旧版评级允许 "?" 等自由文本，无法识别的记为 None
func legacyStats(raw map[string]string) types.Stats {
	grade := func(axis string) types.Grade {
		g, err := types.ParseGrade(raw[axis])
		if err != nil {
			return types.GradeNone
		}
		return g
	}
	return types.Stats{
		Power:      grade("power"),
		Speed:      grade("speed"),
		Range:      grade("range"),
		Durability: grade("durability"),
		Precision:  grade("precision"),
		Potential:  grade("potential"),
	}
}

// legacyImage null、空串与 "FAILED" 都表示出图失败
func legacyImage(url *string) types.ImageArtifact {
	if url == nil {
		return types.FailedImage()
	}
	s := strings.TrimSpace(*url)
	if s == "" || strings.EqualFold(s, "failed") {
		return types.FailedImage()
	}
	img, err := types.ParseImageArtifact(s)
	if err != nil || img.IsPending() {
		return types.FailedImage()
	}
	return img
}
