package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// 📥 生成请求
// =============================================================================

// ReferenceImage 可选的参考图（多模态输入）
type ReferenceImage struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// DataURI 返回 data:<mime>;base64,... 形式
func (r *ReferenceImage) DataURI() string {
	return "data:" + r.MimeType + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

// GenerationRequest 一次生成的不可变输入
type GenerationRequest struct {
	Song           string          `json:"song" validate:"required,max=500"`
	Color          string          `json:"color" validate:"required,max=64"`
	Personality    string          `json:"personality" validate:"required,max=2000"`
	UserName       string          `json:"userName" validate:"max=100"`
	ReferenceImage *ReferenceImage `json:"referenceImage,omitempty"`
}

// ConceptResult 概念阶段的快速结果，供后续两路调用使用
type ConceptResult struct {
	Name       string `json:"name" validate:"required"`
	Appearance string `json:"appearance" validate:"required"`
	Reasoning  string `json:"reasoning"`
}

// =============================================================================
// 📊 能力评级
// =============================================================================

// Grade 六维能力评级，按 None < E < D < C < B < A < ∞ 排序
type Grade string

const (
	GradeNone     Grade = "None"
	GradeE        Grade = "E"
	GradeD        Grade = "D"
	GradeC        Grade = "C"
	GradeB        Grade = "B"
	GradeA        Grade = "A"
	GradeInfinite Grade = "∞"
)

var gradeRank = map[Grade]int{
	GradeNone:     0,
	GradeE:        1,
	GradeD:        2,
	GradeC:        3,
	GradeB:        4,
	GradeA:        5,
	GradeInfinite: 6,
}

// ParseGrade 解析模型给出的评级文本
func ParseGrade(s string) (Grade, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch v {
	case "NONE", "-", "NULL":
		return GradeNone, nil
	case "E", "D", "C", "B", "A":
		return Grade(v), nil
	case "∞", "INF", "INFINITE", "INFINITY":
		return GradeInfinite, nil
	}
	return "", fmt.Errorf("unrecognized grade %q", s)
}

// Rank 返回评级序号，未知评级返回 -1
func (g Grade) Rank() int {
	if r, ok := gradeRank[g]; ok {
		return r
	}
	return -1
}

// Valid 是否为已知评级
func (g Grade) Valid() bool { return g.Rank() >= 0 }

// Less 比较两个评级
func (g Grade) Less(other Grade) bool { return g.Rank() < other.Rank() }

// StatAxes 六个能力维度，顺序固定
var StatAxes = []string{"power", "speed", "range", "durability", "precision", "potential"}

// Stats 六维能力
type Stats struct {
	Power      Grade `json:"power"`
	Speed      Grade `json:"speed"`
	Range      Grade `json:"range"`
	Durability Grade `json:"durability"`
	Precision  Grade `json:"precision"`
	Potential  Grade `json:"potential"`
}

// ParseStats 要求恰好包含六个已知维度且每个值都是合法评级
func ParseStats(raw map[string]string) (Stats, error) {
	if len(raw) != len(StatAxes) {
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Stats{}, fmt.Errorf("stats must contain exactly %d axes, got %d (%s)",
			len(StatAxes), len(raw), strings.Join(keys, ","))
	}

	var s Stats
	for key, val := range raw {
		g, err := ParseGrade(val)
		if err != nil {
			return Stats{}, fmt.Errorf("stats.%s: %w", key, err)
		}
		switch key {
		case "power":
			s.Power = g
		case "speed":
			s.Speed = g
		case "range":
			s.Range = g
		case "durability":
			s.Durability = g
		case "precision":
			s.Precision = g
		case "potential":
			s.Potential = g
		default:
			return Stats{}, fmt.Errorf("unknown stats axis %q", key)
		}
	}
	return s, nil
}

// Validate 检查六个维度均为合法评级
func (s Stats) Validate() error {
	for i, g := range []Grade{s.Power, s.Speed, s.Range, s.Durability, s.Precision, s.Potential} {
		if !g.Valid() {
			return fmt.Errorf("stats.%s: unrecognized grade %q", StatAxes[i], g)
		}
	}
	return nil
}

// =============================================================================
// 📜 完整档案
// =============================================================================

// Mechanic 能力机制条目
type Mechanic struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// FullProfile 档案阶段产出的完整属性集
type FullProfile struct {
	Name        string     `json:"name"`
	AbilityName string     `json:"abilityName"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Mechanics   []Mechanic `json:"mechanics"`
	Limitations []string   `json:"limitations"`
	BattleCry   string     `json:"battleCry"`
	Quote       string     `json:"quote"`
	Stats       Stats      `json:"stats"`
}

// Clone 深拷贝切片字段
func (p FullProfile) Clone() FullProfile {
	out := p
	if p.Mechanics != nil {
		out.Mechanics = append([]Mechanic(nil), p.Mechanics...)
	}
	if p.Limitations != nil {
		out.Limitations = append([]string(nil), p.Limitations...)
	}
	return out
}

// =============================================================================
// 🖼️ 图像产物
// =============================================================================

// ImageKind 图像产物的变体标签
type ImageKind int

const (
	ImagePending ImageKind = iota
	ImageInline
	ImageURL
	ImageFailed
)

const (
	imagePendingText = "pending"
	imageFailedText  = "failed"
)

// ImageArtifact 内联 base64 图像、远程 URL、或 "failed" 哨兵值
type ImageArtifact struct {
	Kind     ImageKind
	MimeType string
	// Data 为 base64 编码内容（仅 ImageInline）
	Data string
	URL  string
}

// PendingImage 图像尚未返回
func PendingImage() ImageArtifact { return ImageArtifact{Kind: ImagePending} }

// FailedImage 图像生成失败或超时
func FailedImage() ImageArtifact { return ImageArtifact{Kind: ImageFailed} }

// InlineImage base64 内联图像
func InlineImage(mimeType, b64 string) ImageArtifact {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return ImageArtifact{Kind: ImageInline, MimeType: mimeType, Data: b64}
}

// RemoteImage 远程图像地址
func RemoteImage(url string) ImageArtifact {
	return ImageArtifact{Kind: ImageURL, URL: url}
}

// IsFailed 是否为失败哨兵
func (a ImageArtifact) IsFailed() bool { return a.Kind == ImageFailed }

// IsPending 是否仍在等待
func (a ImageArtifact) IsPending() bool { return a.Kind == ImagePending }

// String 返回对外的单字符串形式：data URI、URL、"pending" 或 "failed"
func (a ImageArtifact) String() string {
	switch a.Kind {
	case ImageInline:
		return "data:" + a.MimeType + ";base64," + a.Data
	case ImageURL:
		return a.URL
	case ImageFailed:
		return imageFailedText
	default:
		return imagePendingText
	}
}

// ParseImageArtifact 与 String 互逆
func ParseImageArtifact(s string) (ImageArtifact, error) {
	switch {
	case s == "" || s == imagePendingText:
		return PendingImage(), nil
	case s == imageFailedText:
		return FailedImage(), nil
	case strings.HasPrefix(s, "data:"):
		header, data, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
		if !ok {
			return ImageArtifact{}, fmt.Errorf("malformed data URI")
		}
		mime, _, _ := strings.Cut(header, ";")
		return InlineImage(mime, data), nil
	default:
		return RemoteImage(s), nil
	}
}

// MarshalJSON implements json.Marshaler.
func (a ImageArtifact) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *ImageArtifact) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseImageArtifact(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// =============================================================================
// 🧩 合并产物
// =============================================================================

// MergedArtifact 档案 + 图像 + 元数据，持久化与返回给调用方的实体
type MergedArtifact struct {
	ID         string    `json:"id"`
	UserName   string    `json:"userName"`
	Timestamp  time.Time `json:"timestamp"`
	Appearance string    `json:"appearance,omitempty"`
	FullProfile
	Image ImageArtifact `json:"image"`
	// ProfileIncomplete 档案阶段失败且按降级策略继续时为 true
	ProfileIncomplete bool `json:"profileIncomplete,omitempty"`
}

// Clone 返回不共享切片的副本
func (m MergedArtifact) Clone() MergedArtifact {
	out := m
	out.FullProfile = m.FullProfile.Clone()
	return out
}
