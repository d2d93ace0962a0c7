package persistence

import (
	"context"
	"fmt"
	"time"

	"salon/pkg/effect"
	"salon/pkg/logx"
	"salon/pkg/proto"
)

// SendFunc re-enters a message into the runtime, used for query effects that
// answer with a message.
type SendFunc func(to proto.Address, msg proto.Message)

// Executor runs the persistence effect category against the database.
type Executor struct {
	ops    *DatabaseOperations
	send   SendFunc
	logger *logx.Logger
}

// NewExecutor builds the persistence executor.
func NewExecutor(ops *DatabaseOperations, send SendFunc) *Executor {
	return &Executor{
		ops:    ops,
		send:   send,
		logger: logx.NewLogger("persistence"),
	}
}

// Execute runs one persistence effect synchronously. Unknown kinds are an
// error; their producers are bugs.
func (e *Executor) Execute(_ context.Context, eff effect.Effect) error {
	now := time.Now().UnixMilli()

	switch ef := eff.(type) {
	case effect.DBPersistMessage:
		return e.ops.InsertMessage(&ef.Message)

	case effect.DBDeleteRoomHistory:
		return e.ops.DeleteRoomMessages(ef.RoomID)

	case effect.DBLoadRoomMessages:
		msgs, err := e.ops.LoadRoomMessages(ef.RoomID, ef.Limit)
		if err != nil {
			return err
		}
		e.send(ef.ReplyTo, &proto.MessagesLoaded{Messages: msgs})
		return nil

	case effect.DBUpsertRoom:
		return e.ops.UpsertRoom(&ef.Config, now)

	case effect.DBDeleteRoom:
		return e.ops.DeleteRoom(ef.RoomID)

	case effect.DBUpsertAgent:
		return e.ops.UpsertAgent(&ef.Config, now)

	case effect.DBUpdateAgentStatus:
		return e.ops.UpdateAgentStatus(ef.AgentID, ef.Status, ef.LastSpokeAt, ef.MessageCount, now)

	case effect.DBAddRoomMember:
		return e.ops.AddRoomMember(ef.RoomID, ef.AgentID, ef.JoinedAt)

	case effect.DBRemoveRoomMember:
		return e.ops.RemoveRoomMember(ef.RoomID, ef.AgentID)

	case effect.DBUpdateTask:
		return e.ops.UpsertTask(ef.ProjectID, &ef.Task)

	case effect.DBAppendEvent:
		return e.ops.AppendEvent(ef.EventType, ef.Data, now)

	default:
		return fmt.Errorf("unknown persistence effect: %s", eff.EffectKind())
	}
}
