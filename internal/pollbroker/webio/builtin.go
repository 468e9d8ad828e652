package webio

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/tansive/pollbroker/internal/pollbroker/eventloop"
)

// clientEvent is the shape browsers post: {"event": "...", "task_id": "...", "data": ...}.
type clientEvent struct {
	Event  string `mapstructure:"event"`
	TaskID string `mapstructure:"task_id"`
	Data   any    `mapstructure:"data"`
}

func decodeEvent(raw any) (clientEvent, error) {
	var ev clientEvent
	if err := mapstructure.Decode(raw, &ev); err != nil {
		return clientEvent{}, err
	}
	return ev, nil
}

func outputText(content string) Command {
	return Command{
		"command": "output",
		"spec": map[string]any{
			"type":    "text",
			"content": content,
		},
	}
}

// EchoTask greets the client and echoes every event back until it receives
// an event named "exit".
func EchoTask(ctx context.Context, io *TaskIO) error {
	io.Send(outputText("connected from " + io.Info().UserIP))
	for {
		raw, err := io.NextEvent(ctx)
		if err != nil {
			if errors.Is(err, ErrSessionClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		ev, err := decodeEvent(raw)
		if err != nil {
			io.Send(outputText("unrecognized event"))
			continue
		}
		if ev.Event == "exit" {
			io.Send(outputText("bye"))
			return nil
		}
		io.Send(outputText(fmt.Sprintf("%s: %v", ev.Event, ev.Data)))
	}
}

// counter is a cooperative task that counts click events and finishes after
// limit clicks.
type counter struct {
	limit int
	count int
}

func (c *counter) Start(io *ReactorIO) {
	io.Send(outputText(fmt.Sprintf("click %d times to finish", c.limit)))
}

func (c *counter) OnEvent(io *ReactorIO, raw any) {
	ev, err := decodeEvent(raw)
	if err != nil || ev.Event != "click" {
		return
	}
	c.count++
	io.Send(outputText(fmt.Sprintf("clicks: %d", c.count)))
	if c.count >= c.limit {
		io.Finish()
	}
}

// NewCounter returns the cooperative counter reactor.
func NewCounter(limit int) Reactor {
	return &counter{limit: limit}
}

func init() {
	_ = RegisterTask(TaskEntry{
		Name:    "echo",
		Factory: TaskFactory(EchoTask),
	})
	_ = RegisterTask(TaskEntry{
		Name:        "counter",
		Factory:     ReactorFactory(eventloop.Default, func() Reactor { return NewCounter(3) }),
		Cooperative: true,
	})
}
