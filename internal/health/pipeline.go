package health

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/playfleet/stationsync/internal/protocol"
)

// Client is the player-facing surface the pipeline drives.
type Client interface {
	IcmpPing(ctx context.Context, addr string) (bool, error)
	OpenConnection(ctx context.Context, addr string) bool
	Ping(ctx context.Context, addr string) bool
	Register(ctx context.Context, addr string, role protocol.Role) protocol.Registration
}

// StatusRecorder counts finished checks.
type StatusRecorder interface {
	IncHealthCheck(status string)
}

// StepProgress describes one executed stage.
type StepProgress struct {
	Address string
	Step    StepName
	Index   int // 1-based
	Total   int
	Passed  bool
	// Status is the failure status of the step when Passed is false, Online otherwise.
	Status Status
}

// ProgressFunc is called once per executed stage.
type ProgressFunc func(StepProgress)

// Result is the outcome of one pipeline run.
type Result struct {
	Status Status
	// Registration is set only when the Register stage ran.
	Registration protocol.Registration
}

// Online reports whether every stage passed.
func (r Result) Online() bool {
	return r.Status == Online
}

// Blocked reports whether the player accepted registration while another
// controller holds it.
func (r Result) Blocked() bool {
	return r.Registration == protocol.RegistrationAcceptedBlocked
}

type step struct {
	name    StepName
	failure Status
	run     func(ctx context.Context, addr string, res *Result) bool
}

// Pipeline runs the ordered reachability checks against one address:
// ICMP ping, transport connect, application ping and, for the admin role,
// registration. It stops at the first failing stage.
type Pipeline struct {
	client   Client
	recorder StatusRecorder
	logger   zerolog.Logger
}

// NewPipeline creates a pipeline. recorder may be nil.
func NewPipeline(client Client, recorder StatusRecorder) *Pipeline {
	return &Pipeline{
		client:   client,
		recorder: recorder,
		logger:   log.With().Str("component", "health_pipeline").Logger(),
	}
}

// Run executes the stages for addr and returns the first failure status or Online.
func (p *Pipeline) Run(ctx context.Context, addr string, role protocol.Role, progress ProgressFunc) Result {
	steps := p.steps(role)
	res := Result{Status: Online}

	for i, s := range steps {
		passed := s.run(ctx, addr, &res)
		sp := StepProgress{
			Address: addr,
			Step:    s.name,
			Index:   i + 1,
			Total:   len(steps),
			Passed:  passed,
			Status:  Online,
		}
		if !passed {
			sp.Status = s.failure
			res.Status = s.failure
		}
		if progress != nil {
			progress(sp)
		}
		if !passed {
			break
		}
	}

	p.logger.Debug().
		Str("peer", addr).
		Str("role", string(role)).
		Str("status", res.Status.String()).
		Str("registration", string(res.Registration)).
		Msg("health check finished")

	if p.recorder != nil {
		p.recorder.IncHealthCheck(res.Status.String())
	}
	return res
}

func (p *Pipeline) steps(role protocol.Role) []step {
	steps := []step{
		{name: StepIcmpPing, failure: IcmpPingFailed, run: p.icmpPing},
		{name: StepTcpConnect, failure: TcpConnectionFailed, run: p.connect},
		{name: StepWsPing, failure: WebSocketPingFailed, run: p.wsPing},
	}
	if role == protocol.RoleAdmin {
		steps = append(steps, step{
			name:    StepRegister,
			failure: RegistrationFailed,
			run: func(ctx context.Context, addr string, res *Result) bool {
				res.Registration = p.client.Register(ctx, addr, role)
				return res.Registration.Accepted()
			},
		})
	}
	return steps
}

func (p *Pipeline) icmpPing(ctx context.Context, addr string, _ *Result) bool {
	ok, err := p.client.IcmpPing(ctx, addr)
	if err != nil {
		p.logger.Warn().Err(err).Str("peer", addr).Msg("icmp probe failed")
		return false
	}
	return ok
}

func (p *Pipeline) connect(ctx context.Context, addr string, _ *Result) bool {
	return p.client.OpenConnection(ctx, addr)
}

func (p *Pipeline) wsPing(ctx context.Context, addr string, _ *Result) bool {
	return p.client.Ping(ctx, addr)
}
