// Package metaserv serves the checked specialization graph over gRPC so
// editors and build tooling can query it without re-running the checker.
// The wire contract is parsed from the proto source at startup and
// served through dynamic messages; there is no generated stub code.
package metaserv

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"

	"github.com/funvibe/funtrait/internal/analyzer"
	"github.com/funvibe/funtrait/internal/defs"
	"github.com/funvibe/funtrait/internal/parser"
	"github.com/funvibe/funtrait/internal/pipeline"
)

const (
	serviceName = "funtrait.Meta"
	protoFile   = "funtrait/meta.proto"
)

const metaProto = `syntax = "proto3";

package funtrait;

service Meta {
  rpc Impls(TraitRequest) returns (ImplList);
  rpc Children(NodeRequest) returns (ImplList);
  rpc Parent(ImplRequest) returns (NodeReply);
  rpc Ancestors(ImplRequest) returns (NodeList);
  rpc Resolve(ResolveRequest) returns (PathReply);
  rpc Check(CheckRequest) returns (DiagnosticList);
}

message TraitRequest {
  string trait = 1;
}

message NodeRequest {
  string trait = 1;
  string impl = 2;
}

message ImplRequest {
  string impl = 1;
}

message ResolveRequest {
  string trait = 1;
  string self = 2;
}

message CheckRequest {
  string project = 1;
}

message ImplInfo {
  string id = 1;
  string trait = 2;
  string self = 3;
  repeated string constraints = 4;
  string file = 5;
  int32 line = 6;
  string lint = 7;
}

message ImplList {
  repeated ImplInfo impls = 1;
}

message NodeReply {
  string node = 1;
  bool root = 2;
}

message NodeList {
  repeated string nodes = 1;
}

message PathReply {
  repeated ImplInfo path = 1;
  bool found = 2;
}

message Diagnostic {
  string file = 1;
  int32 line = 2;
  int32 column = 3;
  string code = 4;
  string severity = 5;
  string message = 6;
}

message DiagnosticList {
  repeated Diagnostic diagnostics = 1;
  bool has_errors = 2;
}
`

var (
	descOnce sync.Once
	descFD   *desc.FileDescriptor
	descErr  error
)

func descriptor() (*desc.FileDescriptor, error) {
	descOnce.Do(func() {
		p := protoparse.Parser{
			Accessor: protoparse.FileContentsFromMap(map[string]string{protoFile: metaProto}),
		}
		fds, err := p.ParseFiles(protoFile)
		if err != nil {
			descErr = fmt.Errorf("parse %s: %v", protoFile, err)
			return
		}
		descFD = fds[0]
	})
	return descFD, descErr
}

// Server answers Meta queries against one analyzer's finished check.
// Queries read the graph only; Check runs a fresh transient analyzer per
// request and never touches a unit store.
type Server struct {
	an *analyzer.Analyzer
	gs *grpc.Server

	impls    map[string]defs.ImplID
	implType *desc.MessageDescriptor
	diagType *desc.MessageDescriptor
}

// New builds a server over a checked analyzer and registers the Meta
// service on a fresh gRPC server.
func New(an *analyzer.Analyzer) (*Server, error) {
	fd, err := descriptor()
	if err != nil {
		return nil, err
	}
	sd := fd.FindService(serviceName)
	if sd == nil {
		return nil, fmt.Errorf("service %s not found in descriptor", serviceName)
	}

	s := &Server{
		an:       an,
		gs:       grpc.NewServer(),
		impls:    make(map[string]defs.ImplID),
		implType: fd.FindMessage("funtrait.ImplInfo"),
		diagType: fd.FindMessage("funtrait.Diagnostic"),
	}
	table := an.Table()
	for _, name := range table.TraitNames() {
		td, ok := table.LookupTrait(name)
		if !ok {
			continue
		}
		for _, id := range an.Graph().ImplsOf(td.ID) {
			s.impls[id.String()] = id
		}
	}

	svcDesc := &grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*interface{})(nil),
		Metadata:    fd.GetName(),
	}
	for _, method := range sd.GetMethods() {
		md := method
		svcDesc.Methods = append(svcDesc.Methods, grpc.MethodDesc{
			MethodName: md.GetName(),
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				return srv.(*Server).handleUnary(ctx, md, dec)
			},
		})
	}
	s.gs.RegisterService(svcDesc, s)
	return s, nil
}

// Serve listens on addr and blocks until Stop.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("meta service listening on %s", lis.Addr())
	return s.gs.Serve(lis)
}

// Start serves in the background and reports the bound address, so
// callers can listen on ":0".
func (s *Server) Start(addr string) (string, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	go func() {
		_ = s.gs.Serve(lis)
	}()
	return lis.Addr().String(), nil
}

func (s *Server) Stop() {
	s.gs.GracefulStop()
}

func (s *Server) handleUnary(ctx context.Context, md *desc.MethodDescriptor, dec func(interface{}) error) (interface{}, error) {
	in := dynamic.NewMessage(md.GetInputType())
	if err := dec(in); err != nil {
		return nil, err
	}

	out := dynamic.NewMessage(md.GetOutputType())
	var err error
	switch md.GetName() {
	case "Impls":
		err = s.implsRPC(in, out)
	case "Children":
		err = s.childrenRPC(in, out)
	case "Parent":
		err = s.parentRPC(in, out)
	case "Ancestors":
		err = s.ancestorsRPC(in, out)
	case "Resolve":
		err = s.resolveRPC(in, out)
	case "Check":
		err = s.checkRPC(ctx, in, out)
	default:
		err = fmt.Errorf("method %s not implemented", md.GetName())
	}
	if err != nil {
		log.Printf("%s: %v", md.GetName(), err)
		return nil, err
	}
	return out, nil
}

func (s *Server) implsRPC(in, out *dynamic.Message) error {
	trait := stringField(in, "trait")
	td, ok := s.an.Table().ResolveTrait(trait)
	if !ok {
		return fmt.Errorf("unknown trait %q", trait)
	}
	var impls []interface{}
	for _, id := range s.an.Graph().ImplsOf(td.ID) {
		impls = append(impls, s.implMessage(id))
	}
	if impls != nil {
		out.SetFieldByName("impls", impls)
	}
	return nil
}

func (s *Server) childrenRPC(in, out *dynamic.Message) error {
	var node defs.NodeID
	if ref := stringField(in, "impl"); ref != "" {
		id, ok := s.impls[ref]
		if !ok {
			return fmt.Errorf("impl %q is not in the forest", ref)
		}
		node = defs.ImplNode(id)
	} else {
		trait := stringField(in, "trait")
		td, ok := s.an.Table().ResolveTrait(trait)
		if !ok {
			return fmt.Errorf("unknown trait %q", trait)
		}
		node = defs.TraitNode(td.ID)
	}
	var impls []interface{}
	for _, child := range s.an.Graph().ChildrenOf(node) {
		impls = append(impls, s.implMessage(child))
	}
	if impls != nil {
		out.SetFieldByName("impls", impls)
	}
	return nil
}

func (s *Server) parentRPC(in, out *dynamic.Message) error {
	ref := stringField(in, "impl")
	id, ok := s.impls[ref]
	if !ok {
		return fmt.Errorf("impl %q is not in the forest", ref)
	}
	node, ok := s.an.Graph().Parent(id)
	if !ok {
		return fmt.Errorf("impl %q has no recorded parent", ref)
	}
	out.SetFieldByName("node", s.nodeLabel(node))
	_, isRoot := node.Trait()
	out.SetFieldByName("root", isRoot)
	return nil
}

func (s *Server) ancestorsRPC(in, out *dynamic.Message) error {
	ref := stringField(in, "impl")
	id, ok := s.impls[ref]
	if !ok {
		return fmt.Errorf("impl %q is not in the forest", ref)
	}
	var nodes []interface{}
	for _, node := range s.an.Graph().AncestorsOf(id) {
		nodes = append(nodes, s.nodeLabel(node))
	}
	if nodes != nil {
		out.SetFieldByName("nodes", nodes)
	}
	return nil
}

func (s *Server) resolveRPC(in, out *dynamic.Message) error {
	trait := stringField(in, "trait")
	query, err := parser.ParseType(stringField(in, "self"))
	if err != nil {
		return fmt.Errorf("self type: %v", err)
	}
	path, ok := s.an.ResolvePath(trait, query)
	out.SetFieldByName("found", ok)
	if !ok {
		return nil
	}
	steps := make([]interface{}, len(path))
	for i, id := range path {
		steps[i] = s.implMessage(id)
	}
	out.SetFieldByName("path", steps)
	return nil
}

func (s *Server) checkRPC(ctx context.Context, in, out *dynamic.Message) error {
	an := analyzer.New()
	run := pipeline.New(analyzer.Processors(an, false)...)
	pctx := run.Run(&pipeline.PipelineContext{
		Ctx:         ctx,
		ProjectPath: stringField(in, "project"),
		StorePath:   "-",
	})
	if pctx.Err != nil {
		return pctx.Err
	}

	var diags []interface{}
	for _, d := range an.Diagnostics() {
		m := dynamic.NewMessage(s.diagType)
		m.SetFieldByName("file", d.File)
		m.SetFieldByName("line", int32(d.Token.Line))
		m.SetFieldByName("column", int32(d.Token.Column))
		m.SetFieldByName("code", string(d.Code))
		m.SetFieldByName("severity", d.Severity.String())
		m.SetFieldByName("message", d.Message)
		diags = append(diags, m)
	}
	if diags != nil {
		out.SetFieldByName("diagnostics", diags)
	}
	out.SetFieldByName("has_errors", an.HasErrors())
	return nil
}

func (s *Server) implMessage(id defs.ImplID) *dynamic.Message {
	m := dynamic.NewMessage(s.implType)
	m.SetFieldByName("id", id.String())
	def, ok := s.an.Table().Impl(id)
	if !ok {
		return m
	}
	m.SetFieldByName("trait", def.Trait)
	m.SetFieldByName("self", def.SelfType.String())
	if len(def.Constraints) > 0 {
		cons := make([]interface{}, len(def.Constraints))
		for i, c := range def.Constraints {
			cons[i] = c.String()
		}
		m.SetFieldByName("constraints", cons)
	}
	m.SetFieldByName("file", def.File)
	m.SetFieldByName("line", int32(def.Token.Line))
	if kind, ok := s.an.Lints()[id]; ok {
		m.SetFieldByName("lint", kind.String())
	}
	return m
}

func (s *Server) nodeLabel(node defs.NodeID) string {
	if trait, ok := node.Trait(); ok {
		if td, found := s.an.Table().TraitByID(trait); found {
			return td.Name
		}
	}
	return node.String()
}

func stringField(m *dynamic.Message, name string) string {
	v, _ := m.GetFieldByName(name).(string)
	return v
}
