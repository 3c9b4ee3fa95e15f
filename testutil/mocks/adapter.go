// MockAdapter 是上游适配器的脚本化模拟实现。
//
// 文本与图像调用各自按脚本顺序返回结果，支持错误注入、延迟与阻塞。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/standforge/llm/upstream"
	"github.com/BaSui01/standforge/types"
)

// --- 脚本结果 ---

// Result 一次调用的脚本结果
type Result struct {
	Text  string
	Image types.ImageArtifact
	Err   error
	// Delay 返回前等待，ctx 先结束时返回 ctx 错误
	Delay time.Duration
	// Block 一直阻塞到 ctx 结束
	Block bool
}

// Text 返回文本
func Text(s string) Result { return Result{Text: s} }

// Image 返回图像
func Image(img types.ImageArtifact) Result { return Result{Image: img} }

// Fail 返回错误
func Fail(err error) Result { return Result{Err: err} }

// Hang 阻塞到 ctx 结束
func Hang() Result { return Result{Block: true} }

// --- MockAdapter 结构 ---

// MockAdapter 实现 upstream.Adapter
type MockAdapter struct {
	mu sync.Mutex

	textScript  []Result
	imageScript []Result

	textPrompts  []upstream.TextPrompt
	imagePrompts []string
}

var _ upstream.Adapter = (*MockAdapter)(nil)

// NewMockAdapter 创建空脚本的 MockAdapter
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// WithText 追加文本调用脚本
func (m *MockAdapter) WithText(results ...Result) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textScript = append(m.textScript, results...)
	return m
}

// WithImage 追加图像调用脚本
func (m *MockAdapter) WithImage(results ...Result) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageScript = append(m.imageScript, results...)
	return m
}

// --- Adapter 接口实现 ---

// CallText 按脚本返回下一条文本结果
func (m *MockAdapter) CallText(ctx context.Context, prompt upstream.TextPrompt) (string, error) {
	m.mu.Lock()
	m.textPrompts = append(m.textPrompts, prompt)
	res, ok := pop(&m.textScript)
	m.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("mock: no scripted text response for call %d", m.TextCalls())
	}
	if err := wait(ctx, res); err != nil {
		return "", err
	}
	return res.Text, res.Err
}

// CallImage 按脚本返回下一条图像结果
func (m *MockAdapter) CallImage(ctx context.Context, prompt string) (types.ImageArtifact, error) {
	m.mu.Lock()
	m.imagePrompts = append(m.imagePrompts, prompt)
	res, ok := pop(&m.imageScript)
	m.mu.Unlock()

	if !ok {
		return types.ImageArtifact{}, fmt.Errorf("mock: no scripted image response")
	}
	if err := wait(ctx, res); err != nil {
		return types.ImageArtifact{}, err
	}
	return res.Image, res.Err
}

// --- 调用记录 ---

// TextCalls 文本调用次数
func (m *MockAdapter) TextCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.textPrompts)
}

// ImageCalls 图像调用次数
func (m *MockAdapter) ImageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.imagePrompts)
}

// Calls 全部上游调用次数
func (m *MockAdapter) Calls() int {
	return m.TextCalls() + m.ImageCalls()
}

// TextPrompts 已收到的文本提示词
func (m *MockAdapter) TextPrompts() []upstream.TextPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]upstream.TextPrompt(nil), m.textPrompts...)
}

// ImagePrompts 已收到的图像提示词
func (m *MockAdapter) ImagePrompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.imagePrompts...)
}

func pop(script *[]Result) (Result, bool) {
	if len(*script) == 0 {
		return Result{}, false
	}
	res := (*script)[0]
	*script = (*script)[1:]
	return res, true
}

func wait(ctx context.Context, res Result) error {
	if res.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	if res.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(res.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
