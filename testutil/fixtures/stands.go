// Package fixtures 提供预置的生成请求与模型输出样例。
package fixtures

import (
	"time"

	"github.com/BaSui01/standforge/types"
)

// KillerQueenRequest 端到端场景使用的标准请求
func KillerQueenRequest() types.GenerationRequest {
	return types.GenerationRequest{
		Song:        "Killer Queen",
		Color:       "#D50000",
		Personality: "想要平静的生活",
		UserName:    "Jotaro",
	}
}

// ConceptJSON 概念阶段的模型输出（带前后说明文字）
const ConceptJSON = "好的，这是你的替身：\n```json\n" + `{
  "name": "Killer Queen (杀手皇后)",
  "appearance": "深红色的猫型人形替身，双手带有骷髅纹样的护甲",
  "reasoning": "取自 Queen 的同名歌曲"
}` + "\n```\n希望你喜欢！"

// ProfileJSON 档案阶段的模型输出
const ProfileJSON = `{
  "name": "Killer Queen (杀手皇后)",
  "abilityName": "败者食尘",
  "type": "近距离型",
  "description": "将触碰过的任何物体变为炸弹",
  "mechanics": [
    {"title": "第一炸弹", "content": "触碰即可设置"},
    {"title": "第二炸弹", "content": "自动追踪热源"}
  ],
  "limitations": ["同一时间只能设置一个第一炸弹"],
  "battleCry": "しばっ",
  "quote": "我只想过平静的生活",
  "stats": {"power": "A", "speed": "B", "range": "D", "durability": "B", "precision": "B", "potential": "A"}
} 以上就是全部设定 {注意}`

// InlineImage 内联 PNG 图像
func InlineImage() types.ImageArtifact {
	return types.InlineImage("image/png", "iVBORw0KGgoAAAANSUhEUg==")
}

// KillerQueenArtifact 已完成的产物
func KillerQueenArtifact() types.MergedArtifact {
	return types.MergedArtifact{
		ID:         "6f1c1c0e-3b7a-4c55-9d8f-2f3e0b5b9a01",
		UserName:   "Jotaro",
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Appearance: "深红色的猫型人形替身",
		FullProfile: types.FullProfile{
			Name:        "Killer Queen (杀手皇后)",
			AbilityName: "败者食尘",
			Type:        "近距离型",
			Description: "将触碰过的任何物体变为炸弹",
			Mechanics:   []types.Mechanic{{Title: "第一炸弹", Content: "触碰即可设置"}},
			Limitations: []string{"同一时间只能设置一个第一炸弹"},
			BattleCry:   "しばっ",
			Quote:       "我只想过平静的生活",
			Stats: types.Stats{
				Power: types.GradeA, Speed: types.GradeB, Range: types.GradeD,
				Durability: types.GradeB, Precision: types.GradeB, Potential: types.GradeA,
			},
		},
		Image: InlineImage(),
	}
}
