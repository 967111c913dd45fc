package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"thrivesight/pkg/common"
	"thrivesight/pkg/core"
	"thrivesight/pkg/protocol"
)

const dialTimeout = 5 * time.Second

// ErrServer 包装服务端返回的错误信息
var ErrServer = errors.New("server error")

// Client speaks the binary protocol. Calls are serialized on one connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	addr string
}

func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		addr: addr,
	}, nil
}

func (c *Client) Predict(p common.Profile) (common.Prediction, error) {
	var pred common.Prediction
	err := c.call(protocol.OpPredict, nil, common.EncodeProfile(p), &pred)
	return pred, err
}

func (c *Client) Model() (core.ModelInfo, error) {
	var info core.ModelInfo
	err := c.call(protocol.OpModel, nil, nil, &info)
	return info, err
}

func (c *Client) Recent(limit int) ([]common.Prediction, error) {
	var preds []common.Prediction
	err := c.call(protocol.OpRecent, protocol.EncodeLimit(limit), nil, &preds)
	return preds, err
}

func (c *Client) AddSample(s common.Sample) error {
	return c.call(protocol.OpSample, nil, common.EncodeSample(s), nil)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// idempotent reports whether op may be sent twice. A sample whose response
// was lost may already be journaled.
func idempotent(op byte) bool {
	switch op {
	case protocol.OpPredict, protocol.OpModel, protocol.OpRecent:
		return true
	}
	return false
}

// call sends one request and decodes a RespVal body into out. A broken
// connection is redialed once; only idempotent ops are resent.
func (c *Client) call(op byte, key, val []byte, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pkg, err := c.roundTrip(op, key, val)
	if err != nil {
		if !idempotent(op) {
			if rerr := c.redial(); rerr != nil {
				return fmt.Errorf("%w (redial: %v)", err, rerr)
			}
			return err
		}
		if pkg, err = c.reconnectAndRetry(op, key, val); err != nil {
			return err
		}
	}

	switch pkg.Op {
	case protocol.RespOK:
		return nil
	case protocol.RespVal:
		if out == nil {
			return nil
		}
		return json.Unmarshal(pkg.Value, out)
	case protocol.RespErr:
		return fmt.Errorf("%w: %s", ErrServer, pkg.Value)
	default:
		return fmt.Errorf("unknown response op 0x%02x", pkg.Op)
	}
}

func (c *Client) roundTrip(op byte, key, val []byte) (*protocol.Packet, error) {
	if err := protocol.Encode(c.conn, op, key, val); err != nil {
		return nil, err
	}
	return protocol.Decode(c.conn)
}

func (c *Client) redial() error {
	c.conn.Close()
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) reconnectAndRetry(op byte, key, val []byte) (*protocol.Packet, error) {
	if err := c.redial(); err != nil {
		return nil, err
	}
	return c.roundTrip(op, key, val)
}
