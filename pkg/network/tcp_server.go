package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"thrivesight/pkg/common"
	"thrivesight/pkg/core"
	"thrivesight/pkg/protocol"
)

// Service is the slice of the prediction service exposed over TCP.
type Service interface {
	Predict(ctx context.Context, p common.Profile) (common.Prediction, error)
	ModelInfo() (core.ModelInfo, error)
	Recent(limit int) ([]common.Prediction, error)
	AddSample(ctx context.Context, s common.Sample) error
}

type TCPServer struct {
	svc    Service
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewTCPServer(svc Service, logger *slog.Logger) *TCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{
		svc:    svc,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start listens on addr and serves until ctx is canceled.
func (s *TCPServer) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *TCPServer) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("tcp server listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("tcp accept failed", "error", err)
			continue
		}
		s.track(conn, true)
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *TCPServer) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Close 停止接收新连接并关闭已有连接
func (s *TCPServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
}

func (s *TCPServer) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.track(conn, false)
	defer conn.Close()

	for {
		req, err := protocol.Decode(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("tcp decode failed", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}

		op, body := s.dispatch(ctx, req)
		if err := protocol.Encode(conn, op, nil, body); err != nil {
			return
		}
	}
}

func (s *TCPServer) dispatch(ctx context.Context, req *protocol.Packet) (byte, []byte) {
	switch req.Op {
	case protocol.OpPredict:
		p, err := common.DecodeProfile(req.Value)
		if err != nil {
			return errResp(err)
		}
		pred, err := s.svc.Predict(ctx, p)
		if err != nil {
			return errResp(err)
		}
		return valResp(pred)

	case protocol.OpModel:
		info, err := s.svc.ModelInfo()
		if err != nil {
			return errResp(err)
		}
		return valResp(info)

	case protocol.OpRecent:
		limit, err := protocol.DecodeLimit(req.Key)
		if err != nil {
			return errResp(err)
		}
		preds, err := s.svc.Recent(limit)
		if err != nil {
			return errResp(err)
		}
		return valResp(preds)

	case protocol.OpSample:
		sample, err := common.DecodeSample(req.Value)
		if err != nil {
			return errResp(err)
		}
		if err := s.svc.AddSample(ctx, sample); err != nil {
			return errResp(err)
		}
		return protocol.RespOK, nil
	}
	return protocol.RespErr, []byte("unknown op")
}

func valResp(v any) (byte, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		return errResp(err)
	}
	return protocol.RespVal, body
}

func errResp(err error) (byte, []byte) {
	if errors.Is(err, core.ErrNoModel) {
		return protocol.RespErr, []byte("prediction unavailable")
	}
	return protocol.RespErr, []byte(err.Error())
}
