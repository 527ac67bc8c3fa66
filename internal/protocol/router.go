package protocol

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Settler receives the value that completes a correlated request.
// A nil value means "no usable reply".
type Settler interface {
	Settle(value any)
}

// RouterHooks are invoked for push-style commands that do not answer a request.
type RouterHooks struct {
	OnPing    func(addr string)
	OnBlock   func(addr string)
	OnUnblock func(addr string)
}

// Router classifies decoded commands and either settles the pending request
// of the peer or invokes a push hook.
type Router struct {
	hooks  RouterHooks
	logger zerolog.Logger
}

// NewRouter creates a router with the given hooks. Nil hooks are ignored.
func NewRouter(hooks RouterHooks) *Router {
	return &Router{
		hooks:  hooks,
		logger: log.With().Str("component", "router").Logger(),
	}
}

// Route dispatches one command received from addr. pending may be nil when
// no request is outstanding for the peer.
func (r *Router) Route(addr string, cmd Command, pending Settler) {
	logger := r.logger.With().Str("peer", addr).Logger()

	if cmd.IsError() || cmd.Len() < 2 {
		logger.Warn().Str("command", cmd.String()).Msg("unusable frame received")
		settle(pending, nil)
		return
	}

	category, action := cmd.Category(), cmd.Action()

	switch category {
	case CategoryNetwork:
		r.routeNetwork(addr, logger, action, cmd, pending)
	case CategoryContents:
		if action != ActionPut {
			r.invalid(logger, cmd, pending)
			return
		}
		manifest, ok := cmd.Param(0)
		if !ok {
			logger.Warn().Msg("contents/put without manifest")
			settle(pending, nil)
			return
		}
		settle(pending, manifest.String())
	case CategoryMedia:
		if action != ActionPut {
			r.invalid(logger, cmd, pending)
			return
		}
		r.routeMediaPut(logger, cmd, pending)
	case CategorySystem:
		switch action {
		case ActionBlock:
			logger.Info().Msg("player blocked this controller")
			call(r.hooks.OnBlock, addr)
		case ActionUnblock:
			logger.Info().Msg("player unblocked this controller")
			call(r.hooks.OnUnblock, addr)
		default:
			r.invalid(logger, cmd, pending)
		}
	default:
		r.invalid(logger, cmd, pending)
	}
}

func (r *Router) routeNetwork(addr string, logger zerolog.Logger, action string, cmd Command, pending Settler) {
	switch action {
	case ActionPing:
		logger.Debug().Msg("ping received")
		call(r.hooks.OnPing, addr)
	case ActionPong:
		settle(pending, true)
	case ActionRegistration:
		settle(pending, parseRegistration(cmd))
	case ActionIsRegistrationPossible:
		answer, ok := cmd.Param(0)
		settle(pending, ok && answer.String() == replyYes)
	default:
		r.invalid(logger, cmd, pending)
	}
}

func (r *Router) routeMediaPut(logger zerolog.Logger, cmd Command, pending Settler) {
	param, ok := cmd.Param(0)
	if !ok {
		logger.Warn().Msg("media/put reply without id")
		settle(pending, nil)
		return
	}
	id, err := strconv.Atoi(strings.TrimSpace(param.String()))
	if err != nil {
		logger.Warn().Err(err).Str("id", param.String()).Msg("media/put reply with non-numeric id")
		settle(pending, nil)
		return
	}
	settle(pending, id)
}

func (r *Router) invalid(logger zerolog.Logger, cmd Command, pending Settler) {
	logger.Warn().Str("command", cmd.String()).Msg("non-valid command")
	settle(pending, nil)
}

func parseRegistration(cmd Command) Registration {
	answer, ok := cmd.Param(0)
	if !ok {
		return RegistrationRejected
	}
	switch answer.String() {
	case replyAccepted:
		return RegistrationAccepted
	case replyAcceptedBlock:
		return RegistrationAcceptedBlocked
	default:
		return RegistrationRejected
	}
}

func settle(pending Settler, value any) {
	if pending != nil {
		pending.Settle(value)
	}
}

func call(hook func(string), addr string) {
	if hook != nil {
		hook(addr)
	}
}
