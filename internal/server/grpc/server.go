/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package grpc exposes the relay's operator actions over gRPC.
//
// The chatrelay.admin.v1.Admin service is described by hand with
// well-known protobuf types, so no generated code is needed:
//
//	rpc ListUsers(google.protobuf.Empty) returns (google.protobuf.ListValue);
//	rpc Disconnect(google.protobuf.StringValue) returns (google.protobuf.Empty);
//
// The standard grpc.health.v1 service and server reflection are
// registered alongside it.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/server"
	"chatrelay/internal/session"
)

// ServiceName is the fully qualified admin service name.
const ServiceName = "chatrelay.admin.v1.Admin"

// Full method names
const (
	ListUsersMethod  = "/" + ServiceName + "/ListUsers"
	DisconnectMethod = "/" + ServiceName + "/Disconnect"
)

// Admin is the subset of the chat server the service needs.
type Admin interface {
	ListUsers() []session.Info
	DisconnectUser(name string) error
}

// AdminServer is the handler type of the service description.
type AdminServer interface {
	ListUsers(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
	Disconnect(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// ServiceDesc describes chatrelay.admin.v1.Admin.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListUsers", Handler: listUsersHandler},
		{MethodName: "Disconnect", Handler: disconnectHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatrelay/admin/v1/admin.proto",
}

func listUsersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).ListUsers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListUsersMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).ListUsers(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func disconnectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Disconnect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DisconnectMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).Disconnect(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements the admin service.
type Server struct {
	admin  Admin
	config *config.GRPCConfig
	logger *logging.Logger
	gs     *grpc.Server
	health *health.Server
	ln     net.Listener
}

// NewServer creates a gRPC server backed by admin.
func NewServer(cfg *config.GRPCConfig, admin Admin) *Server {
	s := &Server{
		admin:  admin,
		config: cfg,
		logger: logging.NewLogger("grpc"),
		health: health.NewServer(),
	}

	gs := grpc.NewServer(grpc.UnaryInterceptor(s.unaryLogInterceptor))
	gs.RegisterService(&ServiceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
	reflection.Register(gs)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.gs = gs

	return s
}

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	if !s.config.Enabled {
		return nil
	}
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.ln = lis
	s.logger.Info("gRPC server listening", "addr", lis.Addr().String())
	go s.Serve(lis)
	return nil
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) {
	if err := s.gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		s.logger.Error("gRPC server failed", "error", err)
	}
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop reports NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() error {
	s.health.Shutdown()
	s.gs.GracefulStop()
	return nil
}

func (s *Server) unaryLogInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("gRPC call", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
	return resp, err
}

// ListUsers returns one Struct per logged-in user.
func (s *Server) ListUsers(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	users := s.admin.ListUsers()
	values := make([]*structpb.Value, 0, len(users))
	for _, u := range users {
		st, err := structpb.NewStruct(map[string]interface{}{
			"id":           u.ID,
			"name":         u.Name,
			"remote_addr":  u.RemoteAddr,
			"transport":    u.Transport,
			"connected_at": u.ConnectedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		values = append(values, structpb.NewStructValue(st))
	}
	return &structpb.ListValue{Values: values}, nil
}

// Disconnect queues a disconnect for the named user.
func (s *Server) Disconnect(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	name := req.GetValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "username required")
	}
	if err := s.admin.DisconnectUser(name); err != nil {
		if errors.Is(err, server.ErrNotConnected) {
			return nil, status.Errorf(codes.NotFound, "%s is not connected", name)
		}
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	s.logger.Info("User disconnected via gRPC", "username", name)
	return &emptypb.Empty{}, nil
}
