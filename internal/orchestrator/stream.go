package orchestrator

import (
	"context"

	"github.com/BaSui01/standforge/types"
)

// Event Stream 推送的事件：快照或最终错误
type Event struct {
	Snapshot *Snapshot
	Err      error
}

// Stream Generate 的通道形式；通道在生成结束后关闭，错误作为最后一个事件
func (o *Orchestrator) Stream(ctx context.Context, req types.GenerationRequest) <-chan Event {
	events := make(chan Event, 4)

	go func() {
		defer close(events)

		send := func(ev Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		_, err := o.Generate(ctx, req, func(s Snapshot) {
			send(Event{Snapshot: &s})
		})
		if err != nil {
			send(Event{Err: err})
		}
	}()

	return events
}
