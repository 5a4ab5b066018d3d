package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "scrollstitch/internal/errors"
	"scrollstitch/internal/pipeline"
	"scrollstitch/internal/stitch"
	"scrollstitch/internal/storage"
	"scrollstitch/internal/tasks"
)

// Queue is the part of the pipeline the service submits to and listens on.
type Queue interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// PlanReader loads stored plans.
type PlanReader interface {
	LoadPlan(id string) (storage.PlanRecord, error)
}

// Adjuster applies manual plan corrections.
type Adjuster interface {
	AdjustPlan(ctx context.Context, req tasks.AdjustRequest) (stitch.PlanState, error)
}

// StitchService implements StitcherServer on top of the job pipeline and plan store.
type StitchService struct {
	queue    Queue
	plans    PlanReader
	adjuster Adjuster
	log      *slog.Logger
}

func NewStitchService(queue Queue, plans PlanReader, adjuster Adjuster, log *slog.Logger) *StitchService {
	return &StitchService{queue: queue, plans: plans, adjuster: adjuster, log: log}
}

// Submit queues a job described by the same fields as POST /jobs and returns its id.
func (s *StitchService) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pipeline.Request
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	job, err := req.Job()
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.queue.Submit(job); err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		return nil, toStatus(err)
	}
	s.log.Info("Job submitted over gRPC", "id", job.ID, "type", job.Type)
	return encode(map[string]string{"id": job.ID, "status": "queued"})
}

// GetPlan returns the stored plan named by the "id" field.
func (s *StitchService) GetPlan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	rec, err := s.plans.LoadPlan(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(rec)
}

type adjustMessage struct {
	ID      string      `json:"id"`
	Top     int         `json:"top"`
	Bottom  int         `json:"bottom"`
	Offsets map[int]int `json:"offsets"`
}

// Adjust applies top/bottom crop and interior offset deltas and returns the new plan state.
func (s *StitchService) Adjust(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var msg adjustMessage
	if err := decode(in, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	state, err := s.adjuster.AdjustPlan(ctx, tasks.AdjustRequest{
		PlanID:  msg.ID,
		Top:     msg.Top,
		Bottom:  msg.Bottom,
		Offsets: msg.Offsets,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(state)
}

// Watch streams job events. An "id" field limits the stream to one job, which ends the
// stream once that job reports.
func (s *StitchService) Watch(in *structpb.Struct, stream grpc.ServerStream) error {
	only := in.GetFields()["id"].GetStringValue()
	resCh, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-resCh:
			if !ok {
				return nil
			}
			if only != "" && res.Job.ID != only {
				continue
			}
			msg, err := encode(pipeline.NewEvent(res))
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
			if only != "" {
				return nil
			}
		}
	}
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, svc *StitchService, log *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := grpc.NewServer()
	RegisterStitcherServer(srv, svc)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	log.Info("gRPC server starting", "addr", addr)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// encode converts v to a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func decode(in *structpb.Struct, v any) error {
	data, err := in.MarshalJSON()
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func toStatus(err error) error {
	return status.Error(apperrors.GRPCCode(err), err.Error())
}
