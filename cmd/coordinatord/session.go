package main

import (
	"context"
	"flag"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/model"
)

func runSession(args []string) int {
	if len(args) == 0 {
		fail("session: missing subcommand")
		return exitValidationError
	}
	switch args[0] {
	case "create":
		return runSessionCreate(args[1:])
	case "list":
		return runSessionList(args[1:])
	case "join":
		return runSessionJoin(args[1:])
	case "leave":
		return runSessionLeave(args[1:])
	case "send-message":
		return runSessionSendMessage(args[1:])
	case "info":
		return runSessionInfo(args[1:])
	default:
		fail("session: unknown subcommand %q", args[0])
		return exitValidationError
	}
}

// sessionView is the JSON-friendly projection of model.Session.
type sessionView struct {
	ID           string   `json:"id"`
	Topic        string   `json:"topic"`
	Creator      string   `json:"creator"`
	Participants []string `json:"participants"`
	State        string   `json:"state"`
	DecisionLen  int      `json:"decision_log_length"`
}

func toSessionView(s model.Session) sessionView {
	return sessionView{
		ID: s.ID, Topic: s.Topic, Creator: s.Creator,
		Participants: s.Participants, State: string(s.State),
		DecisionLen: len(s.DecisionLog),
	}
}

func parseAccessPolicy(s string) model.AccessPolicy {
	switch s {
	case "invite_only":
		return model.AccessInviteOnly
	case "capability_gated":
		return model.AccessCapabilityGated
	default:
		return model.AccessOpen
	}
}

func runSessionCreate(args []string) int {
	fs := flag.NewFlagSet("session create", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	id := fs.String("id", "", "session id (generated if empty)")
	topic := fs.String("topic", "", "session topic")
	creator := fs.String("creator", "", "creating agent id")
	access := fs.String("access", "open", "open, invite_only, capability_gated")
	gate := fs.String("capability-gate", "", "comma-separated capabilities required when --access=capability_gated")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	if *creator == "" {
		fail("session create: --creator is required")
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

	rules := model.SessionRules{AccessPolicy: parseAccessPolicy(*access)}
	if gateCaps := splitCSV(*gate); len(gateCaps) > 0 {
		rules.CapabilityGate = make(map[string]struct{}, len(gateCaps))
		for _, c := range gateCaps {
			rules.CapabilityGate[c] = struct{}{}
		}
	}

	sessID := *id
	if sessID == "" {
		sessID = clock.NewID(clock.KindSession)
	}

	createdID, err := co.CreateSession(sessID, *topic, rules, *creator)
	if err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	printJSON(map[string]string{"session_id": createdID})
	return exitSuccess
}

func runSessionList(args []string) int {
	fs := flag.NewFlagSet("session list", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
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

	sessions := co.ListSessions()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}
	printJSON(views)
	return exitSuccess
}

func runSessionJoin(args []string) int {
	fs := flag.NewFlagSet("session join", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	id := fs.String("id", "", "session id")
	agent := fs.String("agent", "", "joining agent id")
	caps := fs.String("capabilities", "", "capabilities presented against a capability-gated session")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	if *id == "" || *agent == "" {
		fail("session join: --id and --agent are required")
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

	var capSet map[string]struct{}
	if capList := splitCSV(*caps); len(capList) > 0 {
		capSet = make(map[string]struct{}, len(capList))
		for _, c := range capList {
			capSet[c] = struct{}{}
		}
	}

	if err := co.JoinSession(*id, *agent, capSet); err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	printJSON(map[string]string{"status": "joined"})
	return exitSuccess
}

func runSessionLeave(args []string) int {
	fs := flag.NewFlagSet("session leave", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	id := fs.String("id", "", "session id")
	agent := fs.String("agent", "", "leaving agent id")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	if *id == "" || *agent == "" {
		fail("session leave: --id and --agent are required")
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

	if err := co.LeaveSession(context.Background(), *id, *agent); err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	printJSON(map[string]string{"status": "left"})
	return exitSuccess
}

func runSessionSendMessage(args []string) int {
	fs := flag.NewFlagSet("session send-message", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	id := fs.String("id", "", "session id")
	from := fs.String("from", "", "sending agent id")
	msgType := fs.String("type", string(model.TypeCoordination), "message type")
	data := fs.String("data", "", "JSON payload")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	if *id == "" || *from == "" {
		fail("session send-message: --id and --from are required")
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

	msg := model.Message{
		ID:        clock.NewID(clock.KindMessage),
		Sender:    *from,
		Recipient: model.SessionRecipient(*id),
		Type:      model.MessageType(*msgType),
		Payload:   []byte(*data),
		SessionID: *id,
		CreatedAt: clock.New().Now(),
	}

	if err := co.SendToSession(context.Background(), *id, msg); err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	printJSON(map[string]string{"message_id": msg.ID})
	return exitSuccess
}

func runSessionInfo(args []string) int {
	fs := flag.NewFlagSet("session info", flag.ContinueOnError)
	configPath := newConfigFlag(fs)
	id := fs.String("id", "", "session id")
	if err := fs.Parse(args); err != nil {
		return exitValidationError
	}
	if *id == "" {
		fail("session info: --id is required")
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

	sess, err := co.Session(*id)
	if err != nil {
		fail("%v", err)
		return exitCodeFor(err)
	}
	printJSON(toSessionView(sess))
	return exitSuccess
}
