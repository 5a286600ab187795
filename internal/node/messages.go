package node

import (
	"context"
	"errors"

	"github.com/roach88/dwnsync/internal/dwn"
	"github.com/roach88/dwnsync/internal/store"
)

func (n *Node) messagesQuery(ctx context.Context, tenant string, msg *dwn.Message) (*dwn.Reply, error) {
	d := msg.Descriptor
	limit := int(d.Limit)
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	var cids []string
	if d.Filter != nil {
		cids = d.Filter.MessageCIDs
	}

	events, err := n.storage.Events(ctx, tenant, d.Cursor, limit, cids)
	if errors.Is(err, store.ErrInvalidWatermark) {
		return dwn.Errorf(dwn.StatusBadRequest, "cursor: %v", err), nil
	}
	if err != nil {
		return nil, err
	}

	reply := dwn.NewReply(dwn.StatusOK, "")
	reply.Events = events
	if len(events) == limit {
		reply.Cursor = events[len(events)-1].Watermark
	}
	return reply, nil
}

func (n *Node) messagesRead(ctx context.Context, tenant string, msg *dwn.Message) (*dwn.Reply, error) {
	cid := msg.Descriptor.MessageCID
	if cid == "" {
		return dwn.NewReply(dwn.StatusBadRequest, "read requires messageCid"), nil
	}

	m, err := n.storage.GetMessage(ctx, tenant, cid)
	if isNotFound(err) {
		return dwn.Errorf(dwn.StatusNotFound, "message %s not found", cid), nil
	}
	if err != nil {
		return nil, err
	}
	if err := n.inline(ctx, tenant, m); err != nil {
		return nil, err
	}

	reply := dwn.NewReply(dwn.StatusOK, "")
	reply.Entry = &dwn.MessageEntry{MessageCID: cid, Message: m}
	return reply, nil
}
