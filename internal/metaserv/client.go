package metaserv

import (
	"context"
	"fmt"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Client calls a Meta service with dynamic messages built from the same
// embedded contract the server parses.
type Client struct {
	conn *grpc.ClientConn
	svc  *desc.ServiceDescriptor
}

func Dial(target string) (*Client, error) {
	fd, err := descriptor()
	if err != nil {
		return nil, err
	}
	sd := fd.FindService(serviceName)
	if sd == nil {
		return nil, fmt.Errorf("service %s not found in descriptor", serviceName)
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, svc: sd}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Invoke calls one unary Meta method. Request fields are set by name;
// unset fields keep their proto defaults.
func (c *Client) Invoke(ctx context.Context, method string, fields map[string]interface{}) (*dynamic.Message, error) {
	md := c.svc.FindMethodByName(method)
	if md == nil {
		return nil, fmt.Errorf("method %q not found on %s", method, serviceName)
	}

	req := dynamic.NewMessage(md.GetInputType())
	for name, val := range fields {
		fd := md.GetInputType().FindFieldByName(name)
		if fd == nil {
			return nil, fmt.Errorf("field %s not defined on %s", name, md.GetInputType().GetName())
		}
		if err := req.TrySetFieldByName(name, coerceField(fd, val)); err != nil {
			return nil, fmt.Errorf("field %s: %v", name, err)
		}
	}

	resp := dynamic.NewMessage(md.GetOutputType())
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// coerceField converts val to the exact Go type the field's wire type
// wants. Dynamic messages reject near-miss types, an int where an int32
// field expects one, which callers passing literals would otherwise hit.
func coerceField(fd *desc.FieldDescriptor, val interface{}) interface{} {
	if fd.IsRepeated() {
		items, ok := val.([]interface{})
		if !ok {
			return val
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = coerceScalar(fd, item)
		}
		return out
	}
	return coerceScalar(fd, val)
}

func coerceScalar(fd *desc.FieldDescriptor, val interface{}) interface{} {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_INT32, descriptorpb.FieldDescriptorProto_TYPE_SINT32, descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		switch v := val.(type) {
		case int:
			return int32(v)
		case int64:
			return int32(v)
		case float64:
			return int32(v)
		}
	case descriptorpb.FieldDescriptorProto_TYPE_INT64, descriptorpb.FieldDescriptorProto_TYPE_SINT64, descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		switch v := val.(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case float64:
			return int64(v)
		}
	case descriptorpb.FieldDescriptorProto_TYPE_UINT32, descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		if v, ok := val.(int); ok && v >= 0 {
			return uint32(v)
		}
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64, descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		if v, ok := val.(int); ok && v >= 0 {
			return uint64(v)
		}
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		switch v := val.(type) {
		case float64:
			return float32(v)
		case int:
			return float32(v)
		}
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		if v, ok := val.(int); ok {
			return float64(v)
		}
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		if v, ok := val.(fmt.Stringer); ok {
			return v.String()
		}
	}
	return val
}
