package transport

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/affect-mpc/internal/mpc"
	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region client-struct
// Client calls a remote PlantService.
type Client struct {
	conn *grpc.ClientConn
}

// #endregion client-struct

// #region constructor
// NewClient connects to a PlantService at addr.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// #endregion constructor

func (c *Client) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, fmt.Errorf("%s rpc: %w", method, err)
	}
	return out, nil
}

// #region rpcs
// Optimize asks the server for its next input without stepping.
func (c *Client) Optimize(ctx context.Context) (mpc.Plan, error) {
	resp, err := c.call(ctx, MethodOptimize, nil)
	if err != nil {
		return mpc.Plan{}, err
	}
	in, err := nested(resp, "input")
	if err != nil {
		return mpc.Plan{}, err
	}
	u, err := inputFromStruct(in)
	if err != nil {
		return mpc.Plan{}, err
	}
	cost, err := numberField(resp, "cost")
	if err != nil {
		return mpc.Plan{}, err
	}
	pred, err := numberField(resp, "predicted_arousal")
	if err != nil {
		return mpc.Plan{}, err
	}
	idx, err := intField(resp, "index")
	if err != nil {
		return mpc.Plan{}, err
	}
	return mpc.Plan{Input: u, Cost: cost, PredictedArousal: pred, Index: idx}, nil
}

// Step submits an input of the caller's choosing.
func (c *Client) Step(ctx context.Context, u state.ControlInput) (state.AffectState, error) {
	resp, err := c.call(ctx, MethodStep, inputMap(u))
	if err != nil {
		return state.AffectState{}, err
	}
	return stateField(resp)
}

// Tick runs one closed-loop cycle on the server.
func (c *Client) Tick(ctx context.Context) (TickOutcome, error) {
	resp, err := c.call(ctx, MethodTick, nil)
	if err != nil {
		return TickOutcome{}, err
	}
	var out TickOutcome
	if out.Tick, err = intField(resp, "tick"); err != nil {
		return out, err
	}
	in, err := nested(resp, "input")
	if err != nil {
		return out, err
	}
	if out.Input, err = inputFromStruct(in); err != nil {
		return out, err
	}
	if out.State, err = stateField(resp); err != nil {
		return out, err
	}
	if out.Cost, err = numberField(resp, "cost"); err != nil {
		return out, err
	}
	if out.PredictedArousal, err = numberField(resp, "predicted_arousal"); err != nil {
		return out, err
	}
	return out, nil
}

// State fetches the server's snapshot.
func (c *Client) State(ctx context.Context) (Snapshot, error) {
	resp, err := c.call(ctx, MethodState, nil)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if snap.State, err = stateField(resp); err != nil {
		return snap, err
	}
	if snap.Tick, err = intField(resp, "tick"); err != nil {
		return snap, err
	}
	if snap.Perturbations, err = intField(resp, "perturbations"); err != nil {
		return snap, err
	}
	return snap, nil
}

// ForceState overrides the named components on the server.
func (c *Client) ForceState(ctx context.Context, o plant.StateOverride) (state.AffectState, error) {
	req := map[string]any{}
	if o.Arousal != nil {
		req["arousal"] = *o.Arousal
	}
	if o.Valence != nil {
		req["valence"] = *o.Valence
	}
	if o.Habituation != nil {
		req["habituation"] = *o.Habituation
	}
	resp, err := c.call(ctx, MethodForceState, req)
	if err != nil {
		return state.AffectState{}, err
	}
	return stateField(resp)
}

// SetInertia overwrites A[row][col] on the server and returns the old value.
func (c *Client) SetInertia(ctx context.Context, row, col int, value float64) (float64, error) {
	resp, err := c.call(ctx, MethodSetInertia, map[string]any{"row": row, "col": col, "value": value})
	if err != nil {
		return 0, err
	}
	return numberField(resp, "previous")
}

// #endregion rpcs

func stateField(resp *structpb.Struct) (state.AffectState, error) {
	st, err := nested(resp, "state")
	if err != nil {
		return state.AffectState{}, err
	}
	return stateFromStruct(st)
}
