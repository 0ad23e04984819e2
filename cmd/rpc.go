package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/ytmc/internal/config"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

// adminConn is an authenticated admin control-plane connection. Events read
// while waiting for a response are queued and replayed by stream.
type adminConn struct {
	ws      *websocket.Conn
	nextID  int
	pending []*protocol.EventFrame
}

// adminURL is the loopback admin endpoint of the configured server.
func adminURL(cfg *config.Config) url.URL {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", host, cfg.Server.Port), Path: "/ws/admin"}
}

// dialAdmin connects to the running server and performs the connect
// handshake.
func dialAdmin(cfg *config.Config) (*adminConn, error) {
	u := adminURL(cfg)
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to server at %s: %w", u.String(), err)
	}

	c := &adminConn{ws: ws}
	resp, err := c.call(protocol.MethodConnect, map[string]any{
		"token":    cfg.Admin.Token,
		"protocol": protocol.ProtocolVersion,
	}, 5*time.Second)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("connect handshake: %w", err)
	}
	if !resp.OK {
		ws.Close()
		return nil, fmt.Errorf("connect failed: %s", responseError(resp))
	}
	return c, nil
}

// call sends one request and waits for the response with the same id.
func (c *adminConn) call(method string, params any, timeout time.Duration) (*protocol.ResponseFrame, error) {
	c.nextID++
	id := "cli-" + strconv.Itoa(c.nextID)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	if err := c.ws.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	c.ws.SetReadDeadline(time.Now().Add(timeout))
	defer c.ws.SetReadDeadline(time.Time{})
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		frameType, _ := protocol.ParseFrameType(msg)
		if frameType == protocol.FrameTypeEvent {
			var ev protocol.EventFrame
			if json.Unmarshal(msg, &ev) == nil {
				c.pending = append(c.pending, &ev)
			}
			continue
		}

		var resp protocol.ResponseFrame
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		if resp.ID == id {
			return &resp, nil
		}
	}
}

func (c *adminConn) Close() error {
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

// gatewayRPC connects to the running server, authenticates, sends one RPC
// call and returns the response.
func gatewayRPC(method string, params any) (*protocol.ResponseFrame, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c, err := dialAdmin(cfg)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.call(method, params, 10*time.Second)
}

// mustRPC runs gatewayRPC and decodes a successful payload into out,
// exiting with a message on any failure.
func mustRPC(method string, params any, out any) {
	resp, err := gatewayRPC(method, params)
	if err != nil {
		exitf("Error: %v\n", err)
	}
	if !resp.OK {
		exitf("Failed: %s\n", responseError(resp))
	}
	if out != nil && len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			exitf("Error parsing response: %v\n", err)
		}
	}
}

func responseError(resp *protocol.ResponseFrame) string {
	if resp.Error == nil {
		return "unknown error"
	}
	return resp.Error.Message
}

// send writes a request without waiting for its response. Use it together
// with stream; call and stream must not be mixed on one connection.
func (c *adminConn) send(method string, params any) (string, error) {
	c.nextID++
	id := "cli-" + strconv.Itoa(c.nextID)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return "", err
	}
	if err := c.ws.WriteJSON(req); err != nil {
		return "", fmt.Errorf("send %s: %w", method, err)
	}
	return id, nil
}

// stream hands every incoming frame to a reader goroutine. Both channels
// are closed when the connection ends; the terminal read error, if any, is
// delivered on errc.
func (c *adminConn) stream() (<-chan *protocol.EventFrame, <-chan *protocol.ResponseFrame, <-chan error) {
	events := make(chan *protocol.EventFrame, 16)
	responses := make(chan *protocol.ResponseFrame, 16)
	errc := make(chan error, 1)

	queued := c.pending
	c.pending = nil
	go func() {
		defer close(events)
		defer close(responses)
		for _, ev := range queued {
			events <- ev
		}
		for {
			_, msg, err := c.ws.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			switch frameType, _ := protocol.ParseFrameType(msg); frameType {
			case protocol.FrameTypeEvent:
				var ev protocol.EventFrame
				if json.Unmarshal(msg, &ev) == nil {
					events <- &ev
				}
			case protocol.FrameTypeResponse:
				var resp protocol.ResponseFrame
				if json.Unmarshal(msg, &resp) == nil {
					responses <- &resp
				}
			}
		}
	}()
	return events, responses, errc
}
