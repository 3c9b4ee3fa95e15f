package orchestrator

import (
	"fmt"
	"sync"

	"github.com/BaSui01/standforge/types"
)

// State 生成流程状态
type State string

const (
	StateIdle                   State = "IDLE"
	StateConceptPending         State = "CONCEPT_PENDING"
	StateProfileAndImagePending State = "PROFILE_AND_IMAGE_PENDING"
	StateProfileReady           State = "PROFILE_READY"
	StateImageReady             State = "IMAGE_READY"
	StateMerged                 State = "MERGED"
	StatePersisted              State = "PERSISTED"
	StateFailed                 State = "FAILED"
)

// validTransitions 合法的状态转换
var validTransitions = map[State][]State{
	StateIdle:                   {StateConceptPending, StatePersisted, StateFailed}, // 缓存命中直达 PERSISTED
	StateConceptPending:         {StateProfileAndImagePending, StateFailed},
	StateProfileAndImagePending: {StateProfileReady, StateImageReady, StateFailed},
	StateImageReady:             {StateProfileReady, StateFailed}, // 图像先到，等档案
	StateProfileReady:           {StateMerged, StateFailed},
	StateMerged:                 {StatePersisted, StateFailed},
	StatePersisted:              {},
	StateFailed:                 {},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateFailed
}

// machine 单次生成的状态机，两路并发调用共享
type machine struct {
	mu           sync.Mutex
	state        State
	onTransition func(from, to State)
}

func newMachine(onTransition func(from, to State)) *machine {
	return &machine{state: StateIdle, onTransition: onTransition}
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition 非法转换返回 INVALID_TRANSITION
func (m *machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("invalid state transition: %s -> %s", from, to))
	}
	m.state = to
	m.mu.Unlock()

	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return nil
}

// Fail 转入 FAILED；已处于终态时不做任何事
func (m *machine) Fail() {
	m.mu.Lock()
	from := m.state
	if from.Terminal() {
		m.mu.Unlock()
		return
	}
	m.state = StateFailed
	m.mu.Unlock()

	if m.onTransition != nil {
		m.onTransition(from, StateFailed)
	}
}

// tryTransition 仅当当前状态为 from 时转换
func (m *machine) tryTransition(from, to State) bool {
	m.mu.Lock()
	if m.state != from || !CanTransition(from, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return true
}
