package client

import (
	"context"
	"fmt"

	"github.com/matheus3301/feedmirror/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to an account daemon.
type Client struct {
	conn   *grpc.ClientConn
	Mirror api.MirrorClient
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, Mirror: api.NewMirrorClient(conn)}, nil
}

// Status returns the daemon status document as a plain map.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	resp, err := c.Mirror.GetStatus(ctx, &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// Chats returns the pinned and unpinned rows.
func (c *Client) Chats(ctx context.Context) (pinned, unpinned []map[string]any, err error) {
	resp, err := c.Mirror.ListChats(ctx, &structpb.Struct{})
	if err != nil {
		return nil, nil, err
	}
	return rows(resp, "pinned"), rows(resp, "unpinned"), nil
}

func rows(s *structpb.Struct, section string) []map[string]any {
	values := s.GetFields()[section].GetListValue().GetValues()
	out := make([]map[string]any, 0, len(values))
	for _, v := range values {
		out = append(out, v.GetStructValue().AsMap())
	}
	return out
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
