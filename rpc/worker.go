package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified name of the worker gRPC service.
const ServiceName = "cascade.Worker"

// callOpts forces the JSON codec on every call; there is no protobuf
// descriptor for this service.
var callOpts = []grpc.CallOption{grpc.CallContentSubtype(CodecName)}

// WorkerClient is the client API for the Worker service.
type WorkerClient interface {
	AssignTask(ctx context.Context, in *TaskAssignment, opts ...grpc.CallOption) (*Ack, error)
	CancelTask(ctx context.Context, in *CancelTaskRequest, opts ...grpc.CallOption) (*Ack, error)
	CancelJob(ctx context.Context, in *CancelJobRequest, opts ...grpc.CallOption) (*Ack, error)
	FetchBlock(ctx context.Context, in *FetchBlockRequest, opts ...grpc.CallOption) (Worker_FetchBlockClient, error)
}

type workerClient struct {
	cc grpc.ClientConnInterface
}

func NewWorkerClient(cc grpc.ClientConnInterface) WorkerClient {
	return &workerClient{cc}
}

func (c *workerClient) AssignTask(ctx context.Context, in *TaskAssignment, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/AssignTask", in, out, append(callOpts, opts...)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) CancelTask(ctx context.Context, in *CancelTaskRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/CancelTask", in, out, append(callOpts, opts...)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) CancelJob(ctx context.Context, in *CancelJobRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/CancelJob", in, out, append(callOpts, opts...)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) FetchBlock(ctx context.Context, in *FetchBlockRequest, opts ...grpc.CallOption) (Worker_FetchBlockClient, error) {
	stream, err := c.cc.NewStream(ctx, &WorkerServiceDesc.Streams[0], "/"+ServiceName+"/FetchBlock", append(callOpts, opts...)...)
	if err != nil {
		return nil, err
	}
	x := &workerFetchBlockClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Worker_FetchBlockClient interface {
	Recv() (*BlockChunk, error)
	grpc.ClientStream
}

type workerFetchBlockClient struct {
	grpc.ClientStream
}

func (x *workerFetchBlockClient) Recv() (*BlockChunk, error) {
	m := new(BlockChunk)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// WorkerServer is the server API for the Worker service.
type WorkerServer interface {
	AssignTask(ctx context.Context, in *TaskAssignment) (*Ack, error)
	CancelTask(ctx context.Context, in *CancelTaskRequest) (*Ack, error)
	CancelJob(ctx context.Context, in *CancelJobRequest) (*Ack, error)
	FetchBlock(in *FetchBlockRequest, stream Worker_FetchBlockServer) error
}

type Worker_FetchBlockServer interface {
	Send(*BlockChunk) error
	grpc.ServerStream
}

type workerFetchBlockServer struct {
	grpc.ServerStream
}

func (x *workerFetchBlockServer) Send(m *BlockChunk) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&WorkerServiceDesc, srv)
}

func assignTaskHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TaskAssignment)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).AssignTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/AssignTask",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerServer).AssignTask(ctx, req.(*TaskAssignment))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelTaskHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelTaskRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).CancelTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/CancelTask",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerServer).CancelTask(ctx, req.(*CancelTaskRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelJobHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).CancelJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/CancelJob",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerServer).CancelJob(ctx, req.(*CancelJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fetchBlockHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(FetchBlockRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(WorkerServer).FetchBlock(m, &workerFetchBlockServer{stream})
}

var WorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AssignTask",
			Handler:    assignTaskHandler,
		},
		{
			MethodName: "CancelTask",
			Handler:    cancelTaskHandler,
		},
		{
			MethodName: "CancelJob",
			Handler:    cancelJobHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "FetchBlock",
			Handler:       fetchBlockHandler,
			ServerStreams: true,
		},
	},
}
