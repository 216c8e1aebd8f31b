package mcp

import (
	"context"

	"github.com/rendis/autoflow/internal/streaming"
)

const runEventMethod = "notifications/message"

// notifyFunc matches server.MCPServer.SendNotificationToAllClients.
type notifyFunc func(method string, params map[string]any)

// forwardEvents pushes every run event to connected clients as a log
// message notification until ctx ends or stop is called.
func (s *AutoflowServer) forwardEvents(ctx context.Context, notify notifyFunc) (stop func(), err error) {
	ch, cancel, err := s.events.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				notify(runEventMethod, eventParams(evt))
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func eventParams(evt streaming.RunEvent) map[string]any {
	level := "info"
	if evt.EventType == streaming.EventStepFailed || evt.EventType == streaming.EventRunFailed {
		level = "warning"
	}
	data := map[string]any{
		"event_type":   evt.EventType,
		"workflow_id":  evt.WorkflowID,
		"execution_id": evt.ExecutionID,
		"time":         evt.Time,
	}
	if evt.Step != "" {
		data["step"] = evt.Step
	}
	for k, v := range evt.Payload {
		data[k] = v
	}
	return map[string]any{
		"level":  level,
		"logger": "autoflow",
		"data":   data,
	}
}
