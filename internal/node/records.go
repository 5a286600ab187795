package node

import (
	"bytes"
	"context"
	"errors"

	"github.com/roach88/dwnsync/internal/dwn"
	"github.com/roach88/dwnsync/internal/store"
)

func (n *Node) recordsWrite(ctx context.Context, tenant string, msg *dwn.Message, data []byte) (*dwn.Reply, error) {
	d := msg.Descriptor
	if d.RecordID == "" || d.MessageTimestamp == "" || d.DataCID == "" {
		return dwn.NewReply(dwn.StatusBadRequest, "write requires recordId, messageTimestamp and dataCid"), nil
	}
	if data == nil && msg.EncodedData != nil {
		data = msg.EncodedData
	}
	if data == nil && d.DataSize == 0 && d.DataCID == dwn.DataCID(nil) {
		// Empty payloads do not survive JSON omitempty.
		data = []byte{}
	}
	if data != nil {
		if dwn.DataCID(data) != d.DataCID {
			return dwn.NewReply(dwn.StatusBadRequest, "data does not match dataCid"), nil
		}
		if int64(len(data)) != d.DataSize {
			return dwn.Errorf(dwn.StatusBadRequest, "data size %d does not match dataSize %d", len(data), d.DataSize), nil
		}
	}

	cid, err := dwn.MessageCID(msg)
	if err != nil {
		return dwn.Errorf(dwn.StatusBadRequest, "message cid: %v", err), nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if reply, err := n.checkSupersedes(ctx, tenant, cid, msg); reply != nil || err != nil {
		return reply, err
	}

	if data == nil {
		ok, err := n.storage.HasData(ctx, tenant, d.DataCID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return dwn.NewReply(dwn.StatusBadRequest, "data not provided and not held by node"), nil
		}
	}

	if _, err := n.storage.CommitMessage(ctx, tenant, cid, msg.WithoutData(), data); err != nil {
		if errors.Is(err, store.ErrMessageExists) {
			return dwn.NewReply(dwn.StatusConflict, "message already exists"), nil
		}
		return nil, err
	}
	return dwn.NewReply(dwn.StatusAccepted, ""), nil
}

func (n *Node) recordsDelete(ctx context.Context, tenant string, msg *dwn.Message) (*dwn.Reply, error) {
	d := msg.Descriptor
	if d.RecordID == "" || d.MessageTimestamp == "" {
		return dwn.NewReply(dwn.StatusBadRequest, "delete requires recordId and messageTimestamp"), nil
	}

	cid, err := dwn.MessageCID(msg)
	if err != nil {
		return dwn.Errorf(dwn.StatusBadRequest, "message cid: %v", err), nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, err := n.storage.LatestRecord(ctx, tenant, d.RecordID); isNotFound(err) {
		return dwn.Errorf(dwn.StatusNotFound, "record %s not found", d.RecordID), nil
	}
	if reply, err := n.checkSupersedes(ctx, tenant, cid, msg); reply != nil || err != nil {
		return reply, err
	}

	if _, err := n.storage.CommitMessage(ctx, tenant, cid, msg.WithoutData(), nil); err != nil {
		if errors.Is(err, store.ErrMessageExists) {
			return dwn.NewReply(dwn.StatusConflict, "message already exists"), nil
		}
		return nil, err
	}
	return dwn.NewReply(dwn.StatusAccepted, ""), nil
}

// checkSupersedes returns a 409 reply when msg is already stored or is not
// newer than the record's latest message. Callers hold n.mu.
func (n *Node) checkSupersedes(ctx context.Context, tenant, cid string, msg *dwn.Message) (*dwn.Reply, error) {
	if _, err := n.storage.GetMessage(ctx, tenant, cid); err == nil {
		return dwn.NewReply(dwn.StatusConflict, "message already exists"), nil
	} else if !isNotFound(err) {
		return nil, err
	}

	latest, err := n.storage.LatestRecord(ctx, tenant, msg.Descriptor.RecordID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !newer(msg, cid, latest.Message, latest.CID) {
		return dwn.NewReply(dwn.StatusConflict, "a newer message exists for the record"), nil
	}
	return nil, nil
}

func (n *Node) recordsRead(ctx context.Context, tenant string, msg *dwn.Message) (*dwn.Reply, error) {
	f := msg.Descriptor.Filter
	if f == nil || f.RecordID == "" {
		return dwn.NewReply(dwn.StatusBadRequest, "read requires filter.recordId"), nil
	}

	latest, err := n.storage.LatestRecord(ctx, tenant, f.RecordID)
	if isNotFound(err) {
		return dwn.Errorf(dwn.StatusNotFound, "record %s not found", f.RecordID), nil
	}
	if err != nil {
		return nil, err
	}
	if latest.Deleted {
		return dwn.Errorf(dwn.StatusNotFound, "record %s deleted", f.RecordID), nil
	}

	data, err := n.storage.Data(ctx, tenant, latest.Message.Descriptor.DataCID)
	if isNotFound(err) {
		return dwn.Errorf(dwn.StatusNotFound, "data for record %s not found", f.RecordID), nil
	}
	if err != nil {
		return nil, err
	}

	reply := dwn.NewReply(dwn.StatusOK, "")
	reply.Record = &dwn.Record{Message: latest.Message, Data: data}
	return reply, nil
}

func (n *Node) recordsQuery(ctx context.Context, tenant string, msg *dwn.Message) (*dwn.Reply, error) {
	msgs, err := n.storage.QueryRecords(ctx, tenant, msg.Descriptor.Filter)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if err := n.inline(ctx, tenant, m); err != nil {
			return nil, err
		}
	}

	reply := dwn.NewReply(dwn.StatusOK, "")
	reply.Entries = msgs
	return reply, nil
}

// inline attaches the payload of a write when it fits the inline limit.
func (n *Node) inline(ctx context.Context, tenant string, m *dwn.Message) error {
	if !m.HasData() || m.Descriptor.DataSize > n.maxInline {
		return nil
	}
	data, err := n.storage.Data(ctx, tenant, m.Descriptor.DataCID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	m.EncodedData = bytes.Clone(data)
	return nil
}
