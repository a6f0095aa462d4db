package transport

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/affect-mpc/internal/linalg"
	"github.com/danielpatrickdp/affect-mpc/internal/mpc"
	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "affect.v1.PlantService"

// Method names.
const (
	MethodOptimize   = "Optimize"
	MethodStep       = "Step"
	MethodTick       = "Tick"
	MethodState      = "State"
	MethodForceState = "ForceState"
	MethodSetInertia = "SetInertia"
)

// errBadRequest marks malformed request payloads.
var errBadRequest = errors.New("bad request")

// #region service-desc
// PlantServer is the server side of affect.v1.PlantService.
type PlantServer interface {
	Optimize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Step(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Tick(context.Context, *structpb.Struct) (*structpb.Struct, error)
	State(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ForceState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetInertia(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(PlantServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PlantServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PlantServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// PlantServiceDesc describes affect.v1.PlantService for grpc.Server.RegisterService.
var PlantServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlantServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodOptimize, PlantServer.Optimize),
		unary(MethodStep, PlantServer.Step),
		unary(MethodTick, PlantServer.Tick),
		unary(MethodState, PlantServer.State),
		unary(MethodForceState, PlantServer.ForceState),
		unary(MethodSetInertia, PlantServer.SetInertia),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "affect/v1/plant.proto",
}

// FullMethod returns the RPC path for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Register attaches srv to s.
func Register(s *grpc.Server, srv PlantServer) {
	s.RegisterService(&PlantServiceDesc, srv)
}

// #endregion service-desc

// #region server
// Server adapts a Session to PlantServer.
type Server struct {
	session *Session
}

// NewServer serves session.
func NewServer(session *Session) *Server {
	return &Server{session: session}
}

// Optimize returns the controller's next input without stepping.
func (s *Server) Optimize(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	plan, err := s.session.Optimize()
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{
		"input":             inputMap(plan.Input),
		"cost":              plan.Cost,
		"predicted_arousal": plan.PredictedArousal,
		"index":             plan.Index,
	})
}

// Step applies the submitted input {luminance, sonics, geometry}.
func (s *Server) Step(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	u, err := inputFromStruct(in)
	if err != nil {
		return nil, toStatus(err)
	}
	next, d, err := s.session.Step(u)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{
		"state":      stateMap(next),
		"soft_score": d.SoftScore,
	})
}

// Tick runs one closed-loop cycle.
func (s *Server) Tick(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := s.session.Tick()
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{
		"tick":              out.Tick,
		"input":             inputMap(out.Input),
		"state":             stateMap(out.State),
		"cost":              out.Cost,
		"predicted_arousal": out.PredictedArousal,
	})
}

// State reports the current snapshot.
func (s *Server) State(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap := s.session.State()
	return encode(map[string]any{
		"state":         stateMap(snap.State),
		"tick":          snap.Tick,
		"perturbations": snap.Perturbations,
	})
}

// ForceState applies the optional components {arousal, valence, habituation}.
func (s *Server) ForceState(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	o, err := overrideFromStruct(in)
	if err != nil {
		return nil, toStatus(err)
	}
	next, err := s.session.ForceState(o)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{"state": stateMap(next)})
}

// SetInertia applies {row, col, value}.
func (s *Server) SetInertia(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	row, err := intField(in, "row")
	if err != nil {
		return nil, toStatus(err)
	}
	col, err := intField(in, "col")
	if err != nil {
		return nil, toStatus(err)
	}
	value, err := numberField(in, "value")
	if err != nil {
		return nil, toStatus(err)
	}
	prev, err := s.session.SetInertia(row, col, value)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{"previous": prev, "value": value})
}

// #endregion server

// #region codec
func toStatus(err error) error {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ErrRejected),
		errors.Is(err, linalg.ErrDimensionMismatch),
		errors.Is(err, linalg.ErrIndexOutOfRange),
		errors.Is(err, plant.ErrConfiguration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, mpc.ErrNoCandidate):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func encode(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}

func stateMap(s state.AffectState) map[string]any {
	return map[string]any{"arousal": s.Arousal, "valence": s.Valence, "habituation": s.Habituation}
}

func inputMap(u state.ControlInput) map[string]any {
	return map[string]any{"luminance": u.Luminance, "sonics": u.Sonics, "geometry": u.Geometry}
}

func numberField(st *structpb.Struct, name string) (float64, error) {
	v, ok := st.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", errBadRequest, name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a number", errBadRequest, name)
	}
	return n.NumberValue, nil
}

func optionalNumber(st *structpb.Struct, name string) (*float64, error) {
	if _, ok := st.GetFields()[name]; !ok {
		return nil, nil
	}
	v, err := numberField(st, name)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func intField(st *structpb.Struct, name string) (int, error) {
	v, err := numberField(st, name)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %q must be an integer", errBadRequest, name)
	}
	return int(v), nil
}

func inputFromStruct(st *structpb.Struct) (state.ControlInput, error) {
	var u state.ControlInput
	var err error
	if u.Luminance, err = numberField(st, "luminance"); err != nil {
		return u, err
	}
	if u.Sonics, err = numberField(st, "sonics"); err != nil {
		return u, err
	}
	if u.Geometry, err = numberField(st, "geometry"); err != nil {
		return u, err
	}
	return u, nil
}

func overrideFromStruct(st *structpb.Struct) (plant.StateOverride, error) {
	var o plant.StateOverride
	var err error
	if o.Arousal, err = optionalNumber(st, "arousal"); err != nil {
		return o, err
	}
	if o.Valence, err = optionalNumber(st, "valence"); err != nil {
		return o, err
	}
	if o.Habituation, err = optionalNumber(st, "habituation"); err != nil {
		return o, err
	}
	if err := o.Validate(); err != nil {
		return o, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return o, nil
}

func stateFromStruct(st *structpb.Struct) (state.AffectState, error) {
	var s state.AffectState
	var err error
	if s.Arousal, err = numberField(st, "arousal"); err != nil {
		return s, err
	}
	if s.Valence, err = numberField(st, "valence"); err != nil {
		return s, err
	}
	if s.Habituation, err = numberField(st, "habituation"); err != nil {
		return s, err
	}
	return s, nil
}

func nested(st *structpb.Struct, name string) (*structpb.Struct, error) {
	v, ok := st.GetFields()[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", errBadRequest, name)
	}
	sv := v.GetStructValue()
	if sv == nil {
		return nil, fmt.Errorf("%w: %q is not an object", errBadRequest, name)
	}
	return sv, nil
}

// #endregion codec
