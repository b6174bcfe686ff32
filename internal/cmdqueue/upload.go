package cmdqueue

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/transport"
)

// UploadRequest describes a chunked upload. Line builds the initiation command
// from the resolved payload size. A negative Size means unknown.
type UploadRequest struct {
	Label   string
	Line    func(size int64) string
	Payload io.Reader
	Size    int64
}

// UploadSession tracks one chunked transfer after the peer acknowledged the
// initiation with "continue".
type UploadSession struct {
	TotalBytes     int64
	ChunkSize      int
	BytesSent      int64
	ExpectedChunks int
}

// Upload enqueues a chunked upload. After "continue" the payload is streamed
// as binary frames of the configured chunk size without per-chunk
// acknowledgment. "ok" resolves, "error" rejects, anything else is ignored.
// A zero-length payload resolves on the first acknowledgment without sending
// chunks.
func (q *Queue) Upload(req UploadRequest) *Pending {
	size, payload, err := resolveSize(req.Payload, req.Size)
	if err != nil {
		pending := newPending(req.Label, 1)
		pending.finish(protocol.Failed(protocol.Response{},
			services.Wrap(services.ErrValidation, "cmdqueue", req.Label, "read upload payload", err)))
		return pending
	}
	handler := &uploadHandler{
		payload:   payload,
		size:      size,
		chunkSize: q.chunkSize,
		steps:     q.steps,
	}
	line := ""
	if req.Line != nil {
		line = req.Line(size)
	}
	return q.enqueue(Request{Label: req.Label, Line: line, Handler: handler}, q.steps+1)
}

// ChunkCount returns how many frames a payload of size bytes needs.
func ChunkCount(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

// ProgressPercent quantizes chunk/total into steps discrete percentages. It is
// 0 when total is 0.
func ProgressPercent(chunk, total, steps int) int {
	if total <= 0 || steps <= 0 {
		return 0
	}
	return (chunk * steps / total) * (100 / steps)
}

type uploadHandler struct {
	payload   io.Reader
	size      int64
	chunkSize int
	steps     int
	session   *UploadSession
}

func (h *uploadHandler) Handle(x *Exchange, resp protocol.Response) {
	switch resp.Status {
	case protocol.StatusOK:
		x.Resolve(resp)
	case protocol.StatusContinue:
		if h.session != nil {
			return
		}
		h.session = &UploadSession{
			TotalBytes:     h.size,
			ChunkSize:      h.chunkSize,
			ExpectedChunks: ChunkCount(h.size, h.chunkSize),
		}
		if h.size == 0 {
			x.Resolve(resp)
			return
		}
		h.stream(x, resp)
	default:
		x.q.logger.Debug("ignoring upload status",
			logging.String(logging.FieldCommand, x.Label()),
			logging.String("status", resp.Status),
		)
	}
}

func (h *uploadHandler) stream(x *Exchange, ack protocol.Response) {
	session := h.session
	buf := make([]byte, session.ChunkSize)
	last := 0
	for i := 0; i < session.ExpectedChunks; i++ {
		if percent := ProgressPercent(i, session.ExpectedChunks, h.steps); percent != last {
			last = percent
			x.Notify(Progress{Chunk: i, Total: session.ExpectedChunks, Percent: percent})
		}
		n := int64(session.ChunkSize)
		if remaining := session.TotalBytes - session.BytesSent; remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(h.payload, buf[:n]); err != nil {
			x.Reject(ack, services.Wrap(services.ErrValidation, "cmdqueue", x.Label(),
				fmt.Sprintf("payload ended after %d of %d bytes", session.BytesSent, session.TotalBytes), err))
			return
		}
		if err := x.Send(transport.Binary(buf[:n])); err != nil {
			return
		}
		session.BytesSent += n
	}
}

type lener interface{ Len() int }

type sizer interface{ Size() int64 }

func resolveSize(payload io.Reader, size int64) (int64, io.Reader, error) {
	if payload == nil {
		return 0, bytes.NewReader(nil), nil
	}
	if size >= 0 {
		return size, payload, nil
	}
	switch v := payload.(type) {
	case lener:
		return int64(v.Len()), payload, nil
	case sizer:
		return v.Size(), payload, nil
	case *os.File:
		if info, err := v.Stat(); err == nil && info.Mode().IsRegular() {
			return info.Size(), payload, nil
		}
	}
	data, err := io.ReadAll(payload)
	if err != nil {
		return 0, nil, err
	}
	return int64(len(data)), bytes.NewReader(data), nil
}
