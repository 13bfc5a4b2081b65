package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbocsi/wearlink/proto"
)

var (
	errNotIdentified = errors.New("node has not identified")
	errUnsupported   = errors.New("unsupported message type")
)

func (c *Coordinator) Handle(msg proto.Message) {
	c.Metrics.Messages.WithLabelValues(msg.Type).Inc()

	client, ok := c.Registry.Get(msg.Sender)
	if !ok {
		slog.Warn("Message from unknown node", "type", msg.Type, "sender", msg.Sender)
		return
	}
	client.Meta().Touch()

	if msg.Type == proto.TypeIdentify {
		c.handleIdentify(client, msg)
		return
	}
	if !client.Meta().IsIdentified() {
		c.reply(client, msg, errNotIdentified)
		return
	}

	switch msg.Type {
	case proto.TypeGetNodes:
		c.handleGetNodes(client, msg)

	case proto.TypeMessage:
		c.reply(client, msg, c.handlePeerMessage(msg))

	case proto.TypePutData:
		c.reply(client, msg, c.handlePutData(msg))

	case proto.TypeDeleteData:
		c.reply(client, msg, c.handleDeleteData(msg))

	case proto.TypeSubscribeData:
		c.Broker.Subscribe(client)
		c.reply(client, msg, nil)

	case proto.TypeUnsubscribeData:
		c.Broker.Unsubscribe(client)
		c.reply(client, msg, nil)

	default:
		slog.Warn("Unhandled message type", "type", msg.Type, "sender", msg.Sender)
		c.reply(client, msg, fmt.Errorf("%w: %q", errUnsupported, msg.Type))
	}
}

// ---------- identify ---------- //

func (c *Coordinator) handleIdentify(client Client, msg proto.Message) {
	meta := client.Meta()
	ack := proto.IdAckPayload{AssignedId: meta.Id, Status: proto.StatusOK}

	var payload proto.IdentifyPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		slog.Warn("Invalid identify payload", "sender", msg.Sender, "error", err)
		ack.Status = proto.StatusFailed
	} else {
		meta.Mu.Lock()
		meta.Name = payload.ProposedName
		meta.Role = payload.Role
		meta.Firmware = payload.Firmware
		meta.Identified = true
		meta.Mu.Unlock()
		slog.Info("Node identified", "id", meta.Id, "name", payload.ProposedName, "role", payload.Role, "firmware", payload.Firmware)
	}

	resp, err := proto.NewMessage(proto.TypeIdentifyAck, "", ack)
	if err != nil {
		slog.Error("Failed to encode identify_ack", "error", err)
		return
	}
	if err := client.Send(resp); err != nil {
		slog.Warn("Failed to send identify_ack", "id", meta.Id, "error", err)
	}
}

// ---------- peers ---------- //

func (c *Coordinator) handleGetNodes(client Client, msg proto.Message) {
	peers := c.Registry.Peers(client.Meta().Id)
	nodes := make([]proto.Node, 0, len(peers))
	for _, p := range peers {
		nodes = append(nodes, p.Meta().Snapshot())
	}
	resp, err := proto.NewMessage(proto.TypeNodes, "", proto.NodesPayload{Nodes: nodes})
	if err != nil {
		c.reply(client, msg, err)
		return
	}
	resp.RequestID = msg.RequestID
	if err := client.Send(resp); err != nil {
		slog.Warn("Failed to send nodes", "id", client.Meta().Id, "error", err)
	}
}

// handlePeerMessage forwards msg to its recipient. Delivery to the relay is
// all the sender learns; the recipient never replies through this path.
func (c *Coordinator) handlePeerMessage(msg proto.Message) error {
	if err := proto.ValidatePath(msg.Path); err != nil {
		return err
	}
	recipient, err := c.Registry.Identified(msg.Recipient)
	if err != nil {
		return fmt.Errorf("%w: %s", err, msg.Recipient)
	}
	fwd := msg
	fwd.RequestID = ""
	if err := recipient.Send(fwd); err != nil {
		return fmt.Errorf("deliver to %s: %w", msg.Recipient, err)
	}
	slog.Debug("Message forwarded", "path", msg.Path, "sender", msg.Sender, "recipient", msg.Recipient)
	return nil
}

// ---------- records ---------- //

func (c *Coordinator) handlePutData(msg proto.Message) error {
	if err := proto.ValidatePath(msg.Path); err != nil {
		c.Metrics.Puts.WithLabelValues(putRejected).Inc()
		return err
	}
	var payload proto.PutDataPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Data == nil {
		c.Metrics.Puts.WithLabelValues(putRejected).Inc()
		return fmt.Errorf("invalid put_data payload for %s", msg.Path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()
	prev, existed, err := c.Records.Put(ctx, msg.Path, payload.Data)
	if err != nil {
		c.Metrics.Puts.WithLabelValues(putRejected).Inc()
		return err
	}
	if existed && prev.Equal(payload.Data) {
		c.Metrics.Puts.WithLabelValues(putDeduplicated).Inc()
		slog.Debug("Record unchanged, no event", "path", msg.Path, "sender", msg.Sender)
		return nil
	}
	c.Metrics.Puts.WithLabelValues(putChanged).Inc()

	ev := proto.DataEvent{
		Type:   proto.DataChanged,
		Path:   msg.Path,
		Data:   payload.Data,
		Source: msg.Sender,
		Seq:    c.nextSeq(),
	}
	if payload.Urgent {
		c.batch.drop(ev.Path)
		c.publishChanged([]proto.DataEvent{ev})
	} else {
		c.batch.add(ev)
	}
	slog.Debug("Record stored", "path", msg.Path, "sender", msg.Sender, "urgent", payload.Urgent, "seq", ev.Seq)
	return nil
}

func (c *Coordinator) handleDeleteData(msg proto.Message) error {
	if err := proto.ValidatePath(msg.Path); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()
	existed, err := c.Records.Delete(ctx, msg.Path)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	c.batch.drop(msg.Path)
	c.publishDeleted(proto.DataEvent{
		Type:   proto.DataDeleted,
		Path:   msg.Path,
		Source: msg.Sender,
		Seq:    c.nextSeq(),
	})
	return nil
}

// reply sends the result of a request back to its sender.
func (c *Coordinator) reply(client Client, req proto.Message, err error) {
	result := proto.ResultPayload{Status: proto.StatusOK}
	if err != nil {
		result = proto.ResultPayload{Status: proto.StatusFailed, Error: err.Error()}
		slog.Warn("Request failed", "type", req.Type, "path", req.Path, "sender", req.Sender, "error", err)
	}
	resp, encErr := proto.NewMessage(proto.TypeResult, req.Path, result)
	if encErr != nil {
		slog.Error("Failed to encode result", "error", encErr)
		return
	}
	resp.RequestID = req.RequestID
	if sendErr := client.Send(resp); sendErr != nil {
		slog.Warn("Failed to send result", "id", client.Meta().Id, "error", sendErr)
	}
}
