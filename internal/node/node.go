// SPDX-License-Identifier: MIT
/*
Package node wires the keyword listener to the bus and the outbound
transports.

The audio topic feeds Listener.HandleAudio, the command topic feeds
Listener.HandleCommand, and every detection is published as the action
token on the output topic and fanned out to the transports.
*/
package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kwdetect/internal/bus"
	"kwdetect/internal/config"
	"kwdetect/internal/detector"
	"kwdetect/internal/listener"
	applog "kwdetect/internal/log"
	"kwdetect/internal/metrics"
	"kwdetect/internal/params"
	"kwdetect/internal/transport"
)

// Deps are the collaborators a Node is wired to.
type Deps struct {
	Bus        *bus.Bus
	Params     *params.Store
	Factory    detector.Factory
	Metrics    *metrics.Metrics
	Transports []transport.Transport
	Clock      listener.Clock
}

// Node is the running keyword detection node.
type Node struct {
	cfg      *config.Config
	bus      *bus.Bus
	listener *listener.Listener
	sink     *eventSink
	log      *applog.Logger
}

// ListenerOptions maps the configuration onto listener options.
func ListenerOptions(cfg *config.Config) (listener.Options, error) {
	policy, err := listener.ParseDropPolicy(cfg.Listener.DropPolicy)
	if err != nil {
		return listener.Options{}, err
	}
	return listener.Options{
		AudioTopic:         cfg.Topics.Audio,
		FrameLengthParam:   cfg.Params.FrameLength,
		RecordingParam:     cfg.Params.Recording,
		DefaultFrameLength: cfg.Listener.FrameLength,
		HandshakeTimeout:   cfg.Listener.HandshakeTimeout,
		HandshakeInterval:  cfg.Listener.HandshakeInterval,
		BufferCapacity:     cfg.Listener.BufferCapacity,
		DropPolicy:         policy,
		TakeTimeout:        cfg.Listener.TakeTimeout,
		IdleTick:           cfg.Listener.IdleTick,
		StartCommand:       cfg.Listener.StartCommand,
		StopCommand:        cfg.Listener.StopCommand,
		Action:             cfg.Listener.Action,
	}, nil
}

// New builds a Node. accessKey and models are reused for every session.
func New(cfg *config.Config, deps Deps, accessKey string, models []detector.KeywordModel) (*Node, error) {
	if deps.Bus == nil || deps.Params == nil {
		return nil, errors.New("node: bus and params are required")
	}
	opts, err := ListenerOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	sink := &eventSink{
		bus:        deps.Bus,
		topic:      cfg.Topics.Output,
		transports: deps.Transports,
		log:        applog.With("EventSink"),
	}
	l, err := listener.New(opts, listener.Deps{
		Producers: deps.Bus,
		Params:    deps.Params,
		Factory:   deps.Factory,
		Sink:      sink,
		Metrics:   deps.Metrics,
		Clock:     deps.Clock,
	}, accessKey, models)
	if err != nil {
		return nil, err
	}

	return &Node{
		cfg:      cfg,
		bus:      deps.Bus,
		listener: l,
		sink:     sink,
		log:      applog.With("Node"),
	}, nil
}

// Listener returns the wrapped listener.
func (n *Node) Listener() *listener.Listener { return n.listener }

// Run subscribes to the audio and command topics, issues the start command
// when autostart is set and runs the processing loop until ctx is done. On
// return the node is Idle and its transports are closed.
func (n *Node) Run(ctx context.Context) error {
	queue := n.cfg.Topics.SubscriberQueue

	audioSub, err := n.bus.Subscribe(n.cfg.Topics.Audio, queue, func(m bus.Message) {
		n.listener.HandleAudio(m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", n.cfg.Topics.Audio, err)
	}
	defer audioSub.Unsubscribe()

	commandSub, err := n.bus.Subscribe(n.cfg.Topics.Command, queue, func(m bus.Message) {
		token := strings.TrimSpace(string(m.Data))
		err := n.listener.HandleCommand(ctx, token)
		switch {
		case err == nil:
		case errors.Is(err, listener.ErrNoProducer), errors.Is(err, listener.ErrEngineCreate):
			// Already reported by the state machine.
			n.log.Debugf("Command %q failed: %v", token, err)
		default:
			n.log.Warnf("Command %q failed: %v", token, err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", n.cfg.Topics.Command, err)
	}
	defer commandSub.Unsubscribe()

	n.log.Infof("Listening for commands on %s, audio on %s", n.cfg.Topics.Command, n.cfg.Topics.Audio)

	if n.cfg.Listener.AutoStart {
		// Routed through the command topic so it is ordered with remote commands.
		if err := n.bus.Publish(n.cfg.Topics.Command, []byte(n.cfg.Listener.StartCommand)); err != nil {
			return err
		}
	}

	runErr := n.listener.Run(ctx)

	// A start command still in flight must finish before the final release.
	commandSub.Unsubscribe()
	<-commandSub.Done()
	if err := n.listener.Close(); err != nil {
		n.log.Errorf("Releasing session: %v", err)
	}
	n.sink.close()
	return runErr
}

// eventSink publishes detections on the output topic and to every transport.
type eventSink struct {
	bus        *bus.Bus
	topic      string
	transports []transport.Transport
	log        *applog.Logger
}

func (s *eventSink) PublishDetection(event listener.DetectionEvent) error {
	err := s.bus.Publish(s.topic, []byte(event.Action))
	for _, t := range s.transports {
		if terr := t.Send(event); terr != nil {
			s.log.Warnf("Transport %T: %v", t, terr)
		}
	}
	return err
}

func (s *eventSink) close() {
	for _, t := range s.transports {
		if err := t.Close(); err != nil {
			s.log.Warnf("Closing transport %T: %v", t, err)
		}
	}
}
