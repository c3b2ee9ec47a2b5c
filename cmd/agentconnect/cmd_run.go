package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ykute07/agentconnect/pkg/agent"
	"github.com/ykute07/agentconnect/pkg/bus"
	"github.com/ykute07/agentconnect/pkg/config"
	"github.com/ykute07/agentconnect/pkg/events"
	"github.com/ykute07/agentconnect/pkg/interaction"
	"github.com/ykute07/agentconnect/pkg/logger"
	"github.com/ykute07/agentconnect/pkg/message"
	"github.com/ykute07/agentconnect/pkg/reasoning/openai"
	"github.com/ykute07/agentconnect/pkg/registry"
	"github.com/ykute07/agentconnect/pkg/store"
	"github.com/ykute07/agentconnect/pkg/transport"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent connected to a hub",
		RunE:  runAgent,
	}
	cmd.Flags().String("hub", "", "Hub websocket URL (overrides config)")
	return cmd
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFrom(cmd)
	if err != nil {
		return err
	}
	if hub, _ := cmd.Flags().GetString("hub"); hub != "" {
		cfg.Transport.HubURL = hub
	}
	if cfg.Transport.HubURL == "" {
		return fmt.Errorf("no hub URL configured; set transport.hub_url or pass --hub")
	}
	if cfg.Agent.ID == "" {
		return fmt.Errorf("no agent ID configured; set agent.id")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	loop := buildLoop(cfg, st)
	loop.Control().SetCooldownCallback(func(d time.Duration) {
		logger.WarnCF("agent", "Entering cooldown", map[string]any{"duration": d.String()})
	})

	client, err := transport.Dial(ctx, cfg.Transport.HubURL, cfg.Agent.ID)
	if err != nil {
		return err
	}
	defer client.Close()

	directory, err := loadDirectory(cfg)
	if err != nil {
		return err
	}
	if err := loop.Attach(directory, client); err != nil {
		return err
	}
	logger.InfoCF("agent", "Agent online", map[string]any{
		"agent_id": cfg.Agent.ID, "hub": cfg.Transport.HubURL,
	})

	mb := bus.NewMessageBus()
	defer mb.Close()

	go func() {
		if err := client.Listen(ctx, mb.PublishInbound); err != nil && ctx.Err() == nil {
			logger.ErrorCF("agent", "Hub connection lost", map[string]any{"error": err.Error()})
			stop()
		}
	}()

	go func() {
		for {
			msg, ok := mb.SubscribeOutbound(ctx)
			if !ok {
				return
			}
			if err := client.Send(ctx, msg); err != nil {
				logger.WarnCF("agent", "Send failed", map[string]any{
					"receiver": msg.Receiver, "error": err.Error(),
				})
			}
		}
	}()

	// Messages from one sender are processed in arrival order; different
	// senders proceed in parallel.
	dispatcher := bus.NewPeerDispatcher(func(msg *message.Message) {
		if resp := loop.ProcessMessage(ctx, msg); resp != nil {
			mb.PublishOutbound(resp)
		}
	})

	for {
		msg, ok := mb.ConsumeInbound(ctx)
		if !ok {
			break
		}
		dispatcher.Dispatch(msg)
	}
	dispatcher.Close()

	if err := st.SaveConversations(loop.Tracker().Snapshot()); err != nil {
		logger.WarnCF("agent", "Failed to persist conversations", map[string]any{"error": err.Error()})
	}
	logger.InfoC("agent", "Shutdown complete")
	return nil
}

func buildLoop(cfg *config.Config, checkpoints *store.SQLiteStore) *agent.Loop {
	engine := openai.New(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.Agent.ID)
	return agent.NewLoop(cfg.Agent.ID, engine, agent.Options{
		Control: interaction.Config{
			MaxTokensPerMinute: cfg.Interaction.MaxTokensPerMinute,
			MaxTokensPerHour:   cfg.Interaction.MaxTokensPerHour,
			MaxTurns:           cfg.Interaction.MaxTurns,
			MinCooldown:        time.Duration(cfg.Interaction.MinCooldownSeconds) * time.Second,
		},
		Timeout:        time.Duration(cfg.Workflow.TimeoutSeconds) * time.Second,
		MaxRetries:     cfg.Workflow.MaxRetries,
		ResetGap:       time.Duration(cfg.Workflow.ContextResetSeconds) * time.Second,
		TopicThreshold: cfg.Workflow.TopicThreshold,
		Checkpoints:    checkpoints,
		Sink:           events.LoggerSink{Component: "agent"},
	})
}

// loadDirectory builds the local peer directory: the agent itself plus
// any peers declared in peers.json next to the config.
func loadDirectory(cfg *config.Config) (*registry.Hub, error) {
	hub := registry.NewHub()
	ctx := context.Background()

	caps := make([]registry.Capability, 0, len(cfg.Agent.Capabilities))
	for _, name := range cfg.Agent.Capabilities {
		caps = append(caps, registry.Capability{Name: name})
	}
	hub.Register(ctx, registry.Peer{
		ID:              cfg.Agent.ID,
		Name:            cfg.Agent.Name,
		Kind:            registry.KindAgent,
		Capabilities:    caps,
		AcceptsPayments: cfg.Agent.EnablePayments,
	})

	home, err := os.UserHomeDir()
	if err != nil {
		return hub, nil
	}
	data, err := os.ReadFile(filepath.Join(home, ".agentconnect", "peers.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return hub, nil
		}
		return nil, err
	}
	var peers []registry.Peer
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, fmt.Errorf("parse peers.json: %w", err)
	}
	for _, p := range peers {
		hub.Register(ctx, p)
	}
	logger.InfoCF("agent", "Loaded peer directory", map[string]any{"peers": len(peers)})
	return hub, nil
}
