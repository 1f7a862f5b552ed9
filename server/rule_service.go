package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/jary/vm"
	"github.com/chazu/jary/vm/dist"
)

// Service and procedure names of the rule service.
const (
	ServiceName       = "jary.v1.RuleService"
	CompileProcedure  = "/" + ServiceName + "/Compile"
	EvaluateProcedure = "/" + ServiceName + "/Evaluate"
)

// RuleService compiles rule sources and evaluates compiled programs. Both
// methods take and return google.protobuf.Struct messages:
//
//	Compile  {name?, source, disassemble?} -> {program, hash, rules, imports, cached, disassembly?}
//	Evaluate {program | source, name?, rule?} -> {program, results: [{rule, matched}], matched}
//
// Errors are *connect.Error values; the gRPC transport maps their codes.
type RuleService struct {
	worker   *Worker
	programs *ProgramStore
	metrics  *Metrics
}

// NewRuleService creates a RuleService.
func NewRuleService(worker *Worker, programs *ProgramStore, metrics *Metrics) *RuleService {
	return &RuleService{worker: worker, programs: programs, metrics: metrics}
}

// Compile compiles a rule source and holds the program for Evaluate.
func (s *RuleService) Compile(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	out, err := s.compile(ctx, req.Msg)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(out), nil
}

// Evaluate runs the rules of a held program, or of a source compiled on
// the spot.
func (s *RuleService) Evaluate(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	out, err := s.evaluate(ctx, req.Msg)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(out), nil
}

type compiled struct {
	image       *dist.Image
	cached      bool
	disassembly string
}

func (s *RuleService) compileSource(ctx context.Context, name, src string, disassemble bool) (*compiled, string, error) {
	v, err := s.worker.Do(ctx, func(rt *Runtime) (any, error) {
		img, cached, err := rt.Compile(name, src)
		if err != nil {
			return nil, err
		}
		c := &compiled{image: img, cached: cached}
		if disassemble {
			prog, err := rt.Program(img)
			if err != nil {
				return nil, err
			}
			c.disassembly = prog.Disassemble()
		}
		return c, nil
	})
	s.metrics.compiles.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return nil, "", requestError(connect.CodeInvalidArgument, err)
	}
	c := v.(*compiled)
	if c.cached {
		s.metrics.cacheHits.Inc()
	}
	return c, s.programs.Put(name, c.image), nil
}

func (s *RuleService) compile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	src := stringField(req, "source")
	if src == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	c, id, err := s.compileSource(ctx, nameField(req), src, boolField(req, "disassemble"))
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"program": id,
		"hash":    id,
		"rules":   stringList(c.image.RuleNames()),
		"imports": stringList(c.image.Imports),
		"cached":  c.cached,
	}
	if c.disassembly != "" {
		out["disassembly"] = c.disassembly
	}
	return newStruct(out)
}

func (s *RuleService) evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var img *dist.Image
	id := stringField(req, "program")
	switch {
	case id != "":
		var ok bool
		if img, ok = s.programs.Lookup(id); !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("program %q not found", id))
		}
	case stringField(req, "source") != "":
		c, cid, err := s.compileSource(ctx, nameField(req), stringField(req, "source"), false)
		if err != nil {
			return nil, err
		}
		img, id = c.image, cid
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("program or source is required"))
	}

	rule := stringField(req, "rule")
	if rule != "" && !slices.Contains(img.RuleNames(), rule) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("program has no rule %q", rule))
	}

	start := time.Now()
	v, err := s.worker.Do(ctx, func(rt *Runtime) (any, error) {
		return rt.Evaluate(img, rule)
	})
	s.metrics.evalDuration.Observe(time.Since(start).Seconds())
	s.metrics.evaluations.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return nil, requestError(connect.CodeFailedPrecondition, err)
	}

	results := v.([]vm.Result)
	list := make([]any, 0, len(results))
	matched := make([]any, 0, len(results))
	for _, r := range results {
		list = append(list, map[string]any{"rule": r.Rule, "matched": r.Matched})
		if r.Matched {
			matched = append(matched, r.Rule)
			s.metrics.ruleMatches.WithLabelValues("matched").Inc()
		} else {
			s.metrics.ruleMatches.WithLabelValues("unmatched").Inc()
		}
	}
	return newStruct(map[string]any{
		"program": id,
		"results": list,
		"matched": matched,
	})
}

// requestError maps err to a Connect error, keeping context errors
// distinguishable from failures of the request itself.
func requestError(code connect.Code, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, ErrStopped):
		code = connect.CodeUnavailable
	}
	return connect.NewError(code, err)
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func nameField(s *structpb.Struct) string {
	if name := stringField(s, "name"); name != "" {
		return name
	}
	return "request.jy"
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return out, nil
}
