package main

import (
	"context"
	"flag"
	"sort"
	"strings"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/model"
	"github.com/rhema-dev/coordination/registry"
)

func runAgent(args []string) int {
	if len(args) == 0 {
		fail("agent: missing subcommand")
		return exitValidationError
	}
	switch args[0] {
	case "register":
		return runAgentRegister(args[1:])
	case "list":
		return runAgentList(args[1:])
	case "unregister":
		return runAgentUnregister(args[1:])
	case "status":
		return runAgentStatus(args[1:])
	case "info":
		return runAgentInfo(args[1:])
	case "send-message":
		return runAgentSendMessage(args[1:])
	case "broadcast":
		return runAgentBroadcast(args[1:])
	default:
		fail("agent: unknown subcommand %q", args[0])
		return exitValidationError
	}
}

// agentView is the JSON-friendly projection of model.Agent: a capability
// set doesn't marshal predictably, so it's flattened to a sorted slice.
type agentView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
	Health       float64  `json:"health"`
	Scope        string   `json:"scope,omitempty"`
}

func toAgentView(a model.Agent) agentView {
	caps := make([]string, 0, len(a.Capabilities))
	for c := range a.Capabilities {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return agentView{
		ID: a.ID, Name: a.Name, Type: a.Type, Capabilities: caps,
		Status: string(a.Status), Health: a.Health, Scope: a.Scope,
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runAgentRegister(args []string) int {
	fs := flag.NewFlagSet("agent register", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	id := fs.String("id", "", "agent id (generated if empty)")
	name := fs.String("name", "", "agent display name")
	agentType := fs.String("type", "", "agent type")
	caps := fs.String("capabilities", "", "comma-separated capability list")
	scope := fs.String("scope", "", "optional scope label")
	credential := fs.String("credential", "", "credential presented to the configured authenticator")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	co, err := buildCoordinator(cfg, logger)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}

	spec := registry.Spec{
		ID:           *id,
		Name:         *name,
		Type:         *agentType,
		Capabilities: splitCSV(*caps),
		Scope:        *scope,
	}
	if *credential != "" {
		spec.Credential = []byte(*credential)
	}
	if spec.ID == "" {
		spec.ID = clock.NewID(clock.KindAgent)
	}

	agentID, err := co.RegisterAgent(context.Background(), spec)
	if err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	printJSON(map[string]string{"agent_id": agentID})
	return exitSuccess
}

func runAgentList(args []string) int {
	fs := flag.NewFlagSet("agent list", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	agentType := fs.String("type", "", "filter by agent type")
	status := fs.String("status", "", "filter by status: idle, busy, offline, error")
	caps := fs.String("capabilities", "", "filter: agent must carry all of these")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	co, err := buildCoordinator(cfg, logger)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}

	filter := registry.Filter{Type: *agentType, Capabilities: splitCSV(*caps)}
	if *status != "" {
		filter.Status = model.AgentStatus(*status)
		filter.HasStatus = true
	}

	agents := co.QueryAgents(filter)
	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, toAgentView(a))
	}
	printJSON(views)
	return exitSuccess
}

func runAgentUnregister(args []string) int {
	fs := flag.NewFlagSet("agent unregister", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	id := fs.String("id", "", "agent id")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	if *id == "" {
		fail("agent unregister: --id is required")
		return exitValidationError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	co, err := buildCoordinator(cfg, logger)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}

	if err := co.UnregisterAgent(*id); err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	printJSON(map[string]string{"status": "unregistered"})
	return exitSuccess
}

func runAgentStatus(args []string) int {
	fs := flag.NewFlagSet("agent status", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	id := fs.String("id", "", "agent id")
	status := fs.String("status", "", "idle, busy, offline, error")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	if *id == "" || *status == "" {
		fail("agent status: --id and --status are required")
		return exitValidationError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	co, err := buildCoordinator(cfg, logger)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}

	if err := co.UpdateAgentStatus(*id, model.AgentStatus(*status)); err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	printJSON(map[string]string{"status": "updated"})
	return exitSuccess
}

func runAgentInfo(args []string) int {
	fs := flag.NewFlagSet("agent info", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	id := fs.String("id", "", "agent id")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	if *id == "" {
		fail("agent info: --id is required")
		return exitValidationError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	co, err := buildCoordinator(cfg, logger)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}

	agent, err := co.Agent(*id)
	if err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	printJSON(toAgentView(agent))
	return exitSuccess
}

func runAgentSendMessage(args []string) int {
	fs := flag.NewFlagSet("agent send-message", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	from := fs.String("from", "", "sending agent id")
	to := fs.String("to", "", "recipient agent id")
	msgType := fs.String("type", string(model.TypeNotification), "message type")
	priority := fs.String("priority", "normal", "low, normal, high, critical")
	data := fs.String("data", "", "JSON payload")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	if *from == "" || *to == "" {
		fail("agent send-message: --from and --to are required")
		return exitValidationError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	co, err := buildCoordinator(cfg, logger)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}

	msg := &model.Message{
		ID:        clock.NewID(clock.KindMessage),
		Sender:    *from,
		Recipient: model.AgentRecipient(*to),
		Type:      model.MessageType(*msgType),
		Priority:  parsePriority(*priority),
		Payload:   []byte(*data),
		CreatedAt: clock.New().Now(),
	}
	if err := co.SendMessage(context.Background(), msg); err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	printJSON(map[string]string{"message_id": msg.ID})
	return exitSuccess
}

func runAgentBroadcast(args []string) int {
	fs := flag.NewFlagSet("agent broadcast", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	from := fs.String("from", "", "sending agent id")
	typeFilter := fs.String("type-filter", "", "only agents of this type")
	caps := fs.String("capabilities", "", "only agents with all of these capabilities")
	scope := fs.String("scope", "", "only agents in this scope")
	msgType := fs.String("type", string(model.TypeNotification), "message type")
	data := fs.String("data", "", "JSON payload")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	if *from == "" {
		fail("agent broadcast: --from is required")
		return exitValidationError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	co, err := buildCoordinator(cfg, logger)
	if err != nil {
		fail("%v", err)
		return exitTransportError
	}

	broadcastFilter := model.BroadcastFilter{Type: *typeFilter, Capabilities: splitCSV(*caps), Scope: *scope}
	recipient := model.BroadcastRecipient(broadcastFilter)
	msg := &model.Message{
		ID:        clock.NewID(clock.KindMessage),
		Sender:    *from,
		Recipient: recipient,
		Type:      model.MessageType(*msgType),
		Payload:   []byte(*data),
		CreatedAt: clock.New().Now(),
	}

	matching := co.QueryAgents(registry.Filter{
		Type:         broadcastFilter.Type,
		Scope:        broadcastFilter.Scope,
		Capabilities: broadcastFilter.Capabilities,
	})
	eligible := make(map[string]struct{}, len(matching))
	for _, a := range matching {
		eligible[a.ID] = struct{}{}
	}
	filterFn := func(agentID string) bool {
		_, ok := eligible[agentID]
		return ok
	}

	errs := co.BroadcastMessage(context.Background(), filterFn, msg)
	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	printJSON(map[string]any{"message_id": msg.ID, "recipients": len(errs), "failed": failed})
	return exitSuccess
}

func parsePriority(s string) model.Priority {
	switch s {
	case "low":
		return model.PriorityLow
	case "high":
		return model.PriorityHigh
	case "critical":
		return model.PriorityCritical
	default:
		return model.PriorityNormal
	}
}
