package syncengine

import (
	"context"
	"fmt"

	"github.com/roach88/dwnsync/internal/dwn"
)

// tupleRun holds the per-tuple context threaded through the transfer steps.
type tupleRun struct {
	e      *Engine
	res    *TupleResult
	source replica
	dest   replica
}

// syncTuple transfers the outstanding events of one tuple, page by page.
// Events within the tuple are applied strictly in source log order.
func (e *Engine) syncTuple(ctx context.Context, agent Agent, res *TupleResult) {
	local := localReplica{agent: agent}
	remote := remoteReplica{agent: agent, endpoint: res.Endpoint}

	run := &tupleRun{e: e, res: res}
	if res.Direction == Push {
		run.source, run.dest = local, remote
	} else {
		run.source, run.dest = remote, local
	}

	wm, _, err := e.state.Watermark(ctx, res.DID, res.Endpoint, string(res.Direction))
	if err != nil {
		run.abort(&SyncError{Code: ErrCodeStateFailed, Err: err})
		return
	}
	res.Watermark = wm

	cursor := wm
	for {
		events, next, serr := run.enumerate(ctx, cursor)
		if serr != nil {
			run.abort(serr)
			return
		}
		if len(events) == 0 {
			break
		}
		res.Events += len(events)

		if serr := run.transferPage(ctx, events); serr != nil {
			run.abort(serr)
			return
		}

		last := events[len(events)-1].Watermark
		if err := e.state.SetWatermark(ctx, res.DID, res.Endpoint, string(res.Direction), last); err != nil {
			run.abort(&SyncError{Code: ErrCodeStateFailed, Err: err})
			return
		}
		res.Watermark = last

		if next == "" {
			break
		}
		cursor = next
	}

	if res.Events > 0 {
		e.logger.Info("tuple synced",
			"did", res.DID,
			"endpoint", res.Endpoint,
			"direction", res.Direction,
			"events", res.Events,
			"applied", res.Applied,
			"present", res.Present,
			"rejected", len(res.Rejections),
		)
	}
}

// abort records the failure that ends the tuple.
func (r *tupleRun) abort(serr *SyncError) {
	serr.DID = r.res.DID
	serr.Endpoint = r.res.Endpoint
	serr.Direction = r.res.Direction
	r.res.Err = serr
	r.e.logger.Error("tuple aborted, watermark unchanged",
		"did", r.res.DID,
		"endpoint", r.res.Endpoint,
		"direction", r.res.Direction,
		"code", serr.Code,
		"error", serr.Err,
	)
}

// reject records a per-message failure; the tuple continues.
func (r *tupleRun) reject(cid string, status int, err error) {
	serr := &SyncError{
		Code:       ErrCodeMessageRejected,
		DID:        r.res.DID,
		Endpoint:   r.res.Endpoint,
		Direction:  r.res.Direction,
		MessageCID: cid,
		Status:     status,
		Err:        err,
	}
	r.res.Rejections = append(r.res.Rejections, serr)
	r.e.logger.Warn("message not synced",
		"did", r.res.DID,
		"endpoint", r.res.Endpoint,
		"direction", r.res.Direction,
		"message_cid", cid,
		"status", status,
		"error", err,
	)
}

func (r *tupleRun) request(t dwn.MessageType, opts *dwn.Descriptor) *dwn.Request {
	return &dwn.Request{
		Author:      r.res.DID,
		Target:      r.res.DID,
		MessageType: t,
		Options:     opts,
	}
}

// call processes req on rep, converting errors into tuple failures.
func (r *tupleRun) call(ctx context.Context, rep replica, req *dwn.Request) (*dwn.Reply, *SyncError) {
	reply, err := rep.process(ctx, req)
	if err != nil {
		return nil, &SyncError{Code: classify(err), Err: err}
	}
	return reply, nil
}

// enumerate returns one page of source events after cursor and the cursor
// of the next page, empty when the log is exhausted.
func (r *tupleRun) enumerate(ctx context.Context, cursor string) ([]dwn.EventEntry, string, *SyncError) {
	reply, serr := r.call(ctx, r.source, r.request(dwn.MessagesQuery, &dwn.Descriptor{
		Cursor: cursor,
		Limit:  int64(r.e.batchSize),
	}))
	if serr != nil {
		return nil, "", serr
	}
	if !reply.OK() {
		return nil, "", &SyncError{
			Code:   ErrCodeQueryFailed,
			Status: reply.Status.Code,
			Err:    fmt.Errorf("enumerate events: %s", reply.Status.Detail),
		}
	}
	return reply.Events, reply.Cursor, nil
}

// present returns the subset of cids the destination already holds.
func (r *tupleRun) present(ctx context.Context, events []dwn.EventEntry) (map[string]bool, *SyncError) {
	cids := make([]string, len(events))
	for i, ev := range events {
		cids[i] = ev.MessageCID
	}

	reply, serr := r.call(ctx, r.dest, r.request(dwn.MessagesQuery, &dwn.Descriptor{
		Limit:  int64(len(cids)),
		Filter: &dwn.Filter{MessageCIDs: cids},
	}))
	if serr != nil {
		return nil, serr
	}
	if !reply.OK() {
		return nil, &SyncError{
			Code:   ErrCodeQueryFailed,
			Status: reply.Status.Code,
			Err:    fmt.Errorf("presence query: %s", reply.Status.Detail),
		}
	}

	have := make(map[string]bool, len(reply.Events))
	for _, ev := range reply.Events {
		have[ev.MessageCID] = true
	}
	return have, nil
}

// transferPage copies the page's events the destination is missing.
// A returned error is a connection-level failure that aborts the tuple.
func (r *tupleRun) transferPage(ctx context.Context, events []dwn.EventEntry) *SyncError {
	have, serr := r.present(ctx, events)
	if serr != nil {
		return serr
	}

	for _, ev := range events {
		if have[ev.MessageCID] {
			r.res.Present++
			continue
		}

		msg, data, serr := r.fetch(ctx, ev.MessageCID)
		if serr != nil {
			return serr
		}
		if msg == nil {
			continue
		}

		req := r.request(msg.Descriptor.Type(), nil)
		req.Message = msg
		req.Data = data
		reply, serr := r.call(ctx, r.dest, req)
		if serr != nil {
			return serr
		}

		switch reply.Status.Code {
		case dwn.StatusAccepted, dwn.StatusOK:
			r.res.Applied++
		case dwn.StatusConflict:
			r.res.Present++
		default:
			r.reject(ev.MessageCID, reply.Status.Code, fmt.Errorf("apply: %s", reply.Status.Detail))
		}
	}
	return nil
}

// fetch reads a message and its payload from the source. A nil message
// with a nil error means the message was rejected and recorded.
//
// Payloads too large to be inlined in the read reply are fetched with a
// separate Records.Read.
func (r *tupleRun) fetch(ctx context.Context, cid string) (*dwn.Message, []byte, *SyncError) {
	reply, serr := r.call(ctx, r.source, r.request(dwn.MessagesRead, &dwn.Descriptor{MessageCID: cid}))
	if serr != nil {
		return nil, nil, serr
	}
	if !reply.OK() || reply.Entry == nil || reply.Entry.Message == nil {
		r.reject(cid, reply.Status.Code, fmt.Errorf("read message: %s", reply.Status.Detail))
		return nil, nil, nil
	}

	msg := reply.Entry.Message
	if !msg.HasData() || msg.EncodedData != nil {
		data := msg.EncodedData
		return msg.WithoutData(), data, nil
	}

	reply, serr = r.call(ctx, r.source, r.request(dwn.RecordsRead, &dwn.Descriptor{
		Filter: &dwn.Filter{RecordID: msg.Descriptor.RecordID},
	}))
	if serr != nil {
		return nil, nil, serr
	}
	if !reply.OK() || reply.Record == nil || reply.Record.Message == nil {
		r.reject(cid, reply.Status.Code, fmt.Errorf("read record data: %s", reply.Status.Detail))
		return nil, nil, nil
	}
	if reply.Record.Message.Descriptor.DataCID != msg.Descriptor.DataCID {
		r.reject(cid, reply.Status.Code, fmt.Errorf("record data superseded by a newer write"))
		return nil, nil, nil
	}
	return msg, reply.Record.Data, nil
}
