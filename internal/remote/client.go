package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a typed RemoteControl client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Pause calls RemoteControl.Pause.
func (c *Client) Pause(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodPause, &emptypb.Empty{}, opts...)
}

// Resume calls RemoteControl.Resume.
func (c *Client) Resume(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodResume, &emptypb.Empty{}, opts...)
}

// Step calls RemoteControl.Step. A negative until advances one tick.
func (c *Client) Step(ctx context.Context, until float64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodStep, wrapperspb.Double(until), opts...)
}

// Status calls RemoteControl.Status.
func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodStatus, &emptypb.Empty{}, opts...)
}

// InjectStimulus calls RemoteControl.InjectStimulus with fields named like
// the psychology.stimuli configuration entries.
func (c *Client) InjectStimulus(ctx context.Context, stimulus map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(stimulus)
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, methodInjectStimulus, in, opts...)
}

// StopEarly calls RemoteControl.StopEarly.
func (c *Client) StopEarly(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodStopEarly, &emptypb.Empty{}, opts...)
}

func (c *Client) invoke(ctx context.Context, method string, in any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
