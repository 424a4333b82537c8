package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// zmqSubscriber wraps a SUB socket connected to the job bus with an empty
// topic filter (receive everything).
type zmqSubscriber struct {
	sock zmq4.Socket
}

// NewSubscriber connects a SUB socket to the given endpoint. The socket is
// bound to ctx: cancelling it unblocks Recv with an error.
func NewSubscriber(ctx context.Context, endpoint string) (Subscriber, error) {
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(endpoint); err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		sock.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return &zmqSubscriber{sock: sock}, nil
}

func (s *zmqSubscriber) Recv() ([]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

func (s *zmqSubscriber) Close() error {
	return s.sock.Close()
}

// zmqPublisher wraps a PUB socket listening on the event endpoint.
// Downstream consumers connect to it; zmq4 sockets serialize sends, so one
// publisher is shared by all monitor goroutines.
type zmqPublisher struct {
	sock zmq4.Socket
}

// NewPublisher binds a PUB socket on the given endpoint.
func NewPublisher(ctx context.Context, endpoint string) (Publisher, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, fmt.Errorf("listen %s: %w", endpoint, err)
	}
	return &zmqPublisher{sock: sock}, nil
}

func (p *zmqPublisher) Publish(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.sock.Send(zmq4.NewMsg(data))
}

func (p *zmqPublisher) Close() error {
	return p.sock.Close()
}
