package orchestrator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/BaSui01/standforge/internal/jsonextract"
	"github.com/BaSui01/standforge/llm/upstream"
	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 📝 提示词
// =============================================================================

const systemPrompt = "你是一位《JOJO的奇妙冒险》替身设计专家。请设计一个符合JOJO世界观的替身(Stand)。\n" +
	"要求：能力设计要有创意且易于理解，符合荒木飞吕彦的风格。\n" +
	"请返回一个合法的 JSON 对象，不要使用 Markdown 代码块。"

const imageStyle = "Style tags: Anime Character Sheet, Full Body Reference, White Background, Simple Background, " +
	"Bold Black Lines, Heavy Hatching, Dramatic Shading, Hyper-muscular, Dynamic 'JoJo Pose', Vibrant Colors. " +
	"No humans, focus on the Stand entity."

const imageNegative = "NEGATIVE PROMPT: text, letters, watermark, signature, username, ui, interface, " +
	"speech bubble, caption, logo."

func displayName(userName string) string {
	if strings.TrimSpace(userName) == "" {
		return "Unknown"
	}
	return userName
}

func userTraits(req types.GenerationRequest) string {
	return fmt.Sprintf(`用户特征:
1. 替身使者: %q
2. 音乐引用 (决定命名): %q
3. 代表色 (决定视觉): %q
4. 精神特质/欲望 (决定能力核心): %q`,
		displayName(req.UserName), req.Song, req.Color, req.Personality)
}

// conceptPrompt 快速阶段：只要名字与外貌
func conceptPrompt(req types.GenerationRequest) upstream.TextPrompt {
	user := userTraits(req) + fmt.Sprintf(`

请只返回 JSON:
{
  "name": "替身名 (基于音乐引用的日文片假名或英文，并附带中文译名，例如 'Killer Queen (杀手皇后)')",
  "appearance": "基于%q色调的详细外貌描述，包含服装、机械或生物特征，用于后续绘画。不要描述任何文字、字母、符号或纹身。",
  "reasoning": "一句话说明命名与外貌的由来"
}`, req.Color)
	if req.ReferenceImage != nil {
		user += "\n\n附带的参考图仅用于外貌设计。"
	}

	return upstream.TextPrompt{
		System:     systemPrompt,
		User:       user,
		Attachment: req.ReferenceImage,
		JSONMode:   true,
	}
}

// profilePrompt 完整档案，沿用概念阶段的名字与外貌
func profilePrompt(req types.GenerationRequest, concept types.ConceptResult) upstream.TextPrompt {
	user := userTraits(req) + fmt.Sprintf(`

替身名已确定为 %q，外貌: %q。
请返回 JSON:
{
  "name": %q,
  "abilityName": "能力名 (汉字，如 '败者食尘')",
  "type": "替身类型 (如 近距离型、远距离操纵型、自动追踪型)",
  "description": "能力详细描述。必须基于%q设计，要有JOJO式的奇妙逻辑，避免通用的超能力。",
  "mechanics": [{"title": "机制名", "content": "机制说明"}],
  "limitations": ["能力的弱点或限制"],
  "battleCry": "替身吼叫 (如 ORA ORA, ARI ARI)",
  "quote": "替身使者的名台词",
  "stats": {"power": "A-E 或 ∞", "speed": "A-E", "range": "A-E", "durability": "A-E", "precision": "A-E", "potential": "A-E"}
}`, concept.Name, concept.Appearance, concept.Name, req.Personality)

	return upstream.TextPrompt{
		System:   systemPrompt,
		User:     user,
		JSONMode: true,
	}
}

// imagePrompt 图像阶段提示词
func imagePrompt(appearance string) string {
	return "(Masterpiece, Best Quality), Jojo's Bizarre Adventure Stand, art by Araki Hirohiko. " +
		appearance + ". \n\n" + imageStyle + " \n\n" + imageNegative
}

// =============================================================================
// 🔍 解析
// =============================================================================

var validate = validator.New()

// parseConcept 提取并校验概念结果
func parseConcept(text string) (types.ConceptResult, error) {
	var c types.ConceptResult
	if err := jsonextract.ExtractInto(text, &c); err != nil {
		return types.ConceptResult{}, err
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Appearance = strings.TrimSpace(c.Appearance)
	if err := validate.Struct(c); err != nil {
		return types.ConceptResult{}, types.NewMalformedResponseError("concept: "+err.Error(), text)
	}
	return c, nil
}

// rawProfile 模型返回的档案；兼容旧字段名 ability / shout
type rawProfile struct {
	Name        string            `json:"name"`
	AbilityName string            `json:"abilityName" validate:"required"`
	Type        string            `json:"type"`
	Description string            `json:"description" validate:"required_without=Ability"`
	Ability     string            `json:"ability"`
	Mechanics   []types.Mechanic  `json:"mechanics"`
	Limitations []string          `json:"limitations"`
	BattleCry   string            `json:"battleCry"`
	Shout       string            `json:"shout"`
	Quote       string            `json:"quote"`
	Stats       map[string]string `json:"stats" validate:"required"`
}

// parseProfile 提取档案；名字以概念阶段为准
func parseProfile(text string, concept types.ConceptResult) (types.FullProfile, error) {
	var raw rawProfile
	if err := jsonextract.ExtractInto(text, &raw); err != nil {
		return types.FullProfile{}, err
	}
	if err := validate.Struct(raw); err != nil {
		return types.FullProfile{}, types.NewMalformedResponseError("profile: "+err.Error(), text)
	}

	stats, err := types.ParseStats(raw.Stats)
	if err != nil {
		return types.FullProfile{}, types.NewMalformedResponseError("profile: "+err.Error(), text)
	}

	description := raw.Description
	if description == "" {
		description = raw.Ability
	}
	battleCry := raw.BattleCry
	if battleCry == "" {
		battleCry = raw.Shout
	}

	return types.FullProfile{
		Name:        concept.Name,
		AbilityName: raw.AbilityName,
		Type:        raw.Type,
		Description: description,
		Mechanics:   raw.Mechanics,
		Limitations: raw.Limitations,
		BattleCry:   battleCry,
		Quote:       raw.Quote,
		Stats:       stats,
	}, nil
}

// degradedProfile 档案失败且策略为 degrade 时的占位档案
func degradedProfile(concept types.ConceptResult) types.FullProfile {
	return types.FullProfile{
		Name: concept.Name,
		Stats: types.Stats{
			Power:      types.GradeNone,
			Speed:      types.GradeNone,
			Range:      types.GradeNone,
			Durability: types.GradeNone,
			Precision:  types.GradeNone,
			Potential:  types.GradeNone,
		},
	}
}
