package api

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const (
	availabilityServiceName  = "reservas.availability.v1.AvailabilityService"
	methodFindAvailableRooms = "/" + availabilityServiceName + "/FindAvailableRooms"
	methodCheckRoom          = "/" + availabilityServiceName + "/CheckRoom"
)

type FindAvailableRoomsRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type RoomMessage struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Capacity  int      `json:"capacity"`
	Location  string   `json:"location,omitempty"`
	Equipment []string `json:"equipment,omitempty"`
}

type FindAvailableRoomsResponse struct {
	Rooms []RoomMessage `json:"rooms"`
}

type CheckRoomRequest struct {
	RoomID    string `json:"room_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type ConflictMessage struct {
	ReservationID string    `json:"reservation_id"`
	Title         string    `json:"title"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

type CheckRoomResponse struct {
	RoomID    string            `json:"room_id"`
	Available bool              `json:"available"`
	Conflicts []ConflictMessage `json:"conflicts"`
}

// AvailabilityServer is implemented by AvailabilityService.
type AvailabilityServer interface {
	FindAvailableRooms(ctx context.Context, req *FindAvailableRoomsRequest) (*FindAvailableRoomsResponse, error)
	CheckRoom(ctx context.Context, req *CheckRoomRequest) (*CheckRoomResponse, error)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*AvailabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FindAvailableRooms", Handler: findAvailableRoomsHandler},
		{MethodName: "CheckRoom", Handler: checkRoomHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reservas/availability/v1",
}

func RegisterAvailabilityServer(s grpc.ServiceRegistrar, srv AvailabilityServer) {
	s.RegisterService(&availabilityServiceDesc, srv)
}

func findAvailableRoomsHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(FindAvailableRoomsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AvailabilityServer).FindAvailableRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodFindAvailableRooms}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AvailabilityServer).FindAvailableRooms(ctx, req.(*FindAvailableRoomsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func checkRoomHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(CheckRoomRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AvailabilityServer).CheckRoom(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCheckRoom}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AvailabilityServer).CheckRoom(ctx, req.(*CheckRoomRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AvailabilityClient calls the availability service with the JSON codec.
type AvailabilityClient struct {
	cc grpc.ClientConnInterface
}

func NewAvailabilityClient(cc grpc.ClientConnInterface) *AvailabilityClient {
	return &AvailabilityClient{cc: cc}
}

func (c *AvailabilityClient) FindAvailableRooms(
	ctx context.Context,
	in *FindAvailableRoomsRequest,
	opts ...grpc.CallOption,
) (*FindAvailableRoomsResponse, error) {
	out := new(FindAvailableRoomsResponse)
	if err := c.cc.Invoke(ctx, methodFindAvailableRooms, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AvailabilityClient) CheckRoom(ctx context.Context, in *CheckRoomRequest, opts ...grpc.CallOption) (*CheckRoomResponse, error) {
	out := new(CheckRoomResponse)
	if err := c.cc.Invoke(ctx, methodCheckRoom, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
}
