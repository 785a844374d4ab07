package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodPing:
		result = PingResult{Protocol: ProtocolVersion, Version: s.cfg.Version}
	case MethodStatus:
		result, err = s.handleStatus(ctx)
	case MethodTools:
		result, err = s.backend.Tools(ctx)
	case "":
		return newError(req.ID, ErrInvalidRequest, "missing method")
	default:
		return newError(req.ID, ErrUnknownMethod, fmt.Sprintf("unknown method %q", req.Method))
	}
	if err != nil {
		return newError(req.ID, ErrInternal, err.Error())
	}

	resp, err := newResult(req.ID, result)
	if err != nil {
		return newError(req.ID, ErrInternal, err.Error())
	}
	return resp
}

func (s *Server) handleStatus(ctx context.Context) (*StatusResult, error) {
	st, err := s.backend.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		Status:        st,
		Version:       s.cfg.Version,
		Clients:       s.ClientCount(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}, nil
}

// stream serves a subscription until the peer or the server goes away.
func (s *Server) stream(ctx context.Context, p *peer, req *Request) error {
	var params SubscribeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return s.send(p, newError(req.ID, ErrInvalidRequest, "invalid subscribe params"))
		}
	}

	sink := s.backend.Subscribe()
	defer s.backend.Unsubscribe(sink)

	ack, err := newResult(req.ID, map[string]bool{"subscribed": true})
	if err != nil {
		return err
	}
	if err := s.send(p, ack); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sink.Events():
			if !ok {
				return nil
			}
			if len(params.Kinds) > 0 && !slices.Contains(params.Kinds, ev.Kind()) {
				continue
			}
			msg, err := EncodeEvent(ev)
			if err != nil {
				return err
			}
			if err := s.send(p, &Response{ID: req.ID, Event: msg}); err != nil {
				return err
			}
		}
	}
}
