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

package grpc

import (
	"context"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// AdminClient calls the admin service over an existing connection.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient wraps cc.
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

// ListUsers returns the logged-in users.
func (c *AdminClient) ListUsers(ctx context.Context) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListUsersMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Disconnect asks the relay to disconnect name.
func (c *AdminClient) Disconnect(ctx context.Context, name string) error {
	return c.cc.Invoke(ctx, DisconnectMethod, wrapperspb.String(name), new(emptypb.Empty))
}

// Health reports the serving status of the admin service.
func (c *AdminClient) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.cc).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// FormatUsers renders a user listing as indented JSON.
func FormatUsers(users *structpb.ListValue) (string, error) {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(users)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
