package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coscribe/internal/agent"
	"coscribe/internal/channel"
	"coscribe/internal/replica"
	"coscribe/internal/surface"
)

// Checker runs a staleness check, typically after the channel reports a
// corrupt delta or reconnects.
type Checker interface {
	Check(ctx context.Context) error
}

type SessionOptions struct {
	Logger Logger
}

// Session owns the receive loop for one open document. Inbound events are
// decoded into the closed event set and routed to the owning component;
// anything undecodable was already dropped by the channel.
type Session struct {
	ch        channel.Channel
	sync      *SyncCoordinator
	presence  *PresenceCoordinator
	agents    *agent.Manager
	surf      *surface.MemorySurface
	staleness Checker
	logger    Logger
}

func NewSession(ch channel.Channel, sync *SyncCoordinator, presence *PresenceCoordinator, agents *agent.Manager, surf *surface.MemorySurface, staleness Checker, opts SessionOptions) (*Session, error) {
	if ch == nil || sync == nil || presence == nil || agents == nil || surf == nil {
		return nil, fmt.Errorf("channel, coordinators, agent manager and surface are required")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Session{
		ch:        ch,
		sync:      sync,
		presence:  presence,
		agents:    agents,
		surf:      surf,
		staleness: staleness,
		logger:    opts.Logger,
	}, nil
}

// Run receives until the context is canceled or the channel closes. It
// announces presence and arms the backup timer on entry, and flushes and
// cancels outstanding queries on exit.
func (s *Session) Run(ctx context.Context) error {
	if err := s.presence.Announce(); err != nil {
		s.logger.Printf("announce presence: %v", err)
	}
	s.sync.Start()
	defer s.teardown()

	for {
		ev, err := s.ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := s.Dispatch(ctx, ev); err != nil {
			s.logger.Printf("handle %T: %v", ev, err)
		}
	}
}

// Dispatch routes one inbound event.
func (s *Session) Dispatch(ctx context.Context, ev channel.Inbound) error {
	switch e := ev.(type) {
	case channel.DocumentUpdate:
		if err := s.sync.ApplyRemote(e); err != nil {
			if errors.Is(err, replica.ErrCorruptDelta) && s.staleness != nil {
				// drop the delta and resync from the authoritative snapshot
				s.logger.Printf("corrupt delta dropped: %v", err)
				return s.staleness.Check(ctx)
			}
			return err
		}
		return nil
	case channel.PresenceUpdate:
		return s.presence.ApplyRemote(e)
	case channel.InsertContent:
		return s.insertContent(e.Content)
	case channel.AgentChunk:
		return s.agents.HandleChunk(e)
	case channel.AgentDone:
		return s.agents.HandleDone(e)
	case channel.AgentError:
		return s.agents.HandleError(e)
	default:
		return fmt.Errorf("%w: %T", channel.ErrUnknownEvent, ev)
	}
}

// insertContent places external content at the local cursor. Unparseable
// content is skipped whole; a partial insert never happens.
func (s *Session) insertContent(content string) error {
	content = strings.TrimRight(content, "\n")
	if strings.TrimSpace(content) == "" {
		s.logger.Printf("empty insert-content skipped")
		return nil
	}
	pos, ok := s.presence.Cursor()
	text := []rune(linearText(s.surf))
	if !ok || pos > len(text) {
		pos = len(text)
	}
	nodeID, offset, found := s.surf.NodeAt(pos)
	if !found {
		return s.sync.LocalEdit(surface.InsertNode{Node: surface.Node{Kind: "paragraph", Text: content}})
	}
	return s.sync.LocalEdit(surface.InsertText{NodeID: nodeID, Offset: offset, Text: content})
}

func (s *Session) teardown() {
	if err := s.agents.CancelAllQueries(); err != nil {
		s.logger.Printf("cancel queries: %v", err)
	}
	if err := s.sync.OnUnload(); err != nil {
		s.logger.Printf("final flush: %v", err)
	}
	s.ch.Close()
}
