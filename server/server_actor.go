package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strconv"
	"time"

	"github.com/lguibr/lockstep/bollywood"
	"github.com/lguibr/lockstep/playset"
	"github.com/lguibr/lockstep/relay"
	"github.com/lguibr/lockstep/store"
	"github.com/lguibr/lockstep/utils"
	"golang.org/x/time/rate"
)

const askTimeout = 5 * time.Second

// usernameState tracks where a username's session stands server-wide. At
// most one LIVE controller per username exists across all instances.
type usernameState int

const (
	nameLive usernameState = iota
	// nameInbox means an OUTBOX record plus a waiting INBOX login.
	nameInbox
	// nameOutbox means only a departed session whose Disconnect has not
	// crossed the horizon yet.
	nameOutbox
)

type usernameEntry struct {
	state    usernameState
	instance string
}

type instanceEntry struct {
	pid *bollywood.PID
}

// ServerActor owns the server-wide directories: instances, users, the
// username lifecycle index, and the controller ID mint. Logins, one-shot
// account calls, chat fan-out, and shutdown all pass through its loop.
type ServerActor struct {
	engine  *bollywood.Engine
	log     *slog.Logger
	cfg     utils.Config
	selfPID *bollywood.PID

	registry *playset.Registry
	users    *store.Users

	instances        map[string]*instanceEntry
	usernames        map[string]*usernameEntry
	nextControllerID int64

	// pendingInstances carries the snapshot's instance records until Started,
	// where the actor has a PID to hand to its children.
	pendingInstances map[string]*store.InstanceRecord

	// snapshotConfig is the snapshot file's opaque config block, persisted
	// back untouched.
	snapshotConfig map[string]any

	selfServe *rate.Limiter

	// onShutdown runs after an admin shutdown has saved; main closes the
	// listeners from it.
	onShutdown func(clean bool, reason string)
}

// ServerArgs holds arguments for creating a ServerActor.
type ServerArgs struct {
	Engine     *bollywood.Engine
	Log        *slog.Logger
	Cfg        utils.Config
	Registry   *playset.Registry
	Snapshot   *store.Snapshot
	OnShutdown func(clean bool, reason string)
}

// NewServerProducer creates a producer for a ServerActor.
func NewServerProducer(args ServerArgs) bollywood.Producer {
	return func() bollywood.Actor {
		perMinute := args.Cfg.SelfServeRate
		if perMinute < 1 {
			perMinute = 1
		}
		snap := args.Snapshot
		return &ServerActor{
			engine:           args.Engine,
			log:              args.Log.With(slog.String("actor", "server")),
			cfg:              args.Cfg,
			registry:         args.Registry,
			users:            store.UsersFrom(snap.Users),
			instances:        make(map[string]*instanceEntry),
			usernames:        make(map[string]*usernameEntry),
			nextControllerID: snap.NextControllerID,
			snapshotConfig:   snap.Config,
			selfServe:        rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
			onShutdown:       args.OnShutdown,
			pendingInstances: snap.Instances,
		}
	}
}

// Receive is the main message handler for the ServerActor.
func (a *ServerActor) Receive(ctx bollywood.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic in server actor",
				slog.Any("reason", r),
				slog.String("stack", string(debug.Stack())))
			if ctx.IsAsk() {
				ctx.Reply(fmt.Errorf("internal server error"))
			}
		}
	}()

	if a.selfPID == nil {
		a.selfPID = ctx.Self()
	}

	switch msg := ctx.Message().(type) {
	case bollywood.Started:
		a.spawnInstances()

	case LoginRequest:
		a.handleLogin(msg)

	case ListInstancesRequest:
		ctx.Reply(InstanceList{Names: a.instanceNames()})

	case SelfServeRequest:
		a.handleSelfServe(ctx, msg)

	case PasswordChangeRequest:
		a.handlePasswordChange(ctx, msg)

	case ConfigGetRequest:
		if _, err := a.users.Authenticate(msg.Username, msg.Password); err != nil {
			ctx.Reply(err)
			return
		}
		cfg, err := a.users.Config(msg.Username)
		if err != nil {
			ctx.Reply(err)
			return
		}
		ctx.Reply(ConfigValue{Config: cfg})

	case ConfigSetRequest:
		if _, err := a.users.Authenticate(msg.Username, msg.Password); err != nil {
			ctx.Reply(err)
			return
		}
		if err := a.users.SetConfig(msg.Username, msg.Config); err != nil {
			ctx.Reply(err)
			return
		}
		ctx.Reply(Ack{})

	case ShutdownRequest:
		a.handleShutdown(ctx, msg)

	case CollectSnapshotRequest:
		snap, err := a.collectSnapshot()
		if err != nil {
			ctx.Reply(err)
			return
		}
		ctx.Reply(snap)

	case relay.ChatBroadcastRequest:
		chat := relay.GlobalChat{CtrlID: msg.CtrlID, Username: msg.Username, Text: msg.Text}
		for _, entry := range a.instances {
			a.engine.Send(entry.pid, chat, a.selfPID)
		}

	case relay.UsernameOutbox:
		if entry := a.usernames[msg.Username]; entry != nil {
			entry.state = nameOutbox
		}

	case relay.UsernameLive:
		if entry := a.usernames[msg.Username]; entry != nil {
			entry.state = nameLive
		}

	case relay.UsernameReleased:
		delete(a.usernames, msg.Username)

	case bollywood.Stopping, bollywood.Stopped:

	default:
		a.log.Warn("unknown message", slog.Any("type", msg))
	}
}

// spawnInstances brings every snapshot instance up as its own actor.
func (a *ServerActor) spawnInstances() {
	for name, record := range a.pendingInstances {
		module, ok := a.registry.Get(record.PlaysetName)
		if !ok {
			a.log.Error("snapshot references unknown playset",
				slog.String("instance", name),
				slog.String("playset", record.PlaysetName))
			continue
		}

		data, err := record.StateString()
		if err != nil {
			a.log.Error("bad instance state in snapshot",
				slog.String("instance", name), slog.Any("error", err))
			continue
		}
		state, err := module.Deserialize(data)
		if err != nil {
			a.log.Error("deserializing instance state",
				slog.String("instance", name), slog.Any("error", err))
			continue
		}

		status := make(map[int64]*relay.ControllerStatus, len(record.ControllerStatus))
		for key, rec := range record.ControllerStatus {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				a.log.Error("bad controller key in snapshot",
					slog.String("instance", name), slog.String("key", key))
				continue
			}
			status[id] = &relay.ControllerStatus{Username: rec.Username, LastInput: rec.LastInput}
		}

		pid := a.engine.Spawn(bollywood.NewProps(relay.NewInstanceProducer(relay.InstanceArgs{
			Engine:              a.engine,
			Log:                 a.log,
			ServerPID:           a.selfPID,
			Name:                name,
			Module:              module,
			State:               state,
			Status:              status,
			HashSyncInterval:    a.cfg.HashSyncInterval,
			FrameNoticeInterval: a.cfg.FrameNoticeInterval,
		})))
		a.instances[name] = &instanceEntry{pid: pid}
		a.log.Info("instance spawned",
			slog.String("instance", name),
			slog.String("playset", record.PlaysetName))
	}
	a.pendingInstances = nil
}

func (a *ServerActor) instanceNames() []string {
	names := make([]string, 0, len(a.instances))
	for name := range a.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// handleLogin authenticates and hands the connection to the instance. The
// username index enforces one LIVE controller per username server-wide; a
// reconnect through the outbox is only possible into the same instance.
func (a *ServerActor) handleLogin(msg LoginRequest) {
	fail := func(reason string) {
		a.engine.Send(msg.ReplyTo, relay.LoginResult{Err: reason}, a.selfPID)
	}

	user, err := a.users.Authenticate(msg.Username, msg.Password)
	if err != nil {
		fail(err.Error())
		return
	}
	entry := a.instances[msg.Instance]
	if entry == nil {
		fail("no such instance")
		return
	}

	if u := a.usernames[msg.Username]; u != nil {
		if u.state != nameOutbox || u.instance != msg.Instance {
			fail("already logged in")
			return
		}
		u.state = nameInbox
	} else {
		a.usernames[msg.Username] = &usernameEntry{state: nameLive, instance: msg.Instance}
	}

	id := a.nextControllerID
	a.nextControllerID++

	a.engine.Send(entry.pid, relay.AttachController{
		ReplyTo:  msg.ReplyTo,
		Conn:     msg.Conn,
		CtrlID:   id,
		Username: msg.Username,
		Profile:  user.Config,
	}, a.selfPID)
}

func (a *ServerActor) handleSelfServe(ctx bollywood.Context, msg SelfServeRequest) {
	if !a.selfServe.Allow() {
		ctx.Reply(fmt.Errorf("too many account creations, try again later"))
		return
	}
	if err := a.users.Create(msg.Username, msg.Password, msg.Config, msg.Origin, false); err != nil {
		ctx.Reply(err)
		return
	}
	a.log.Info("self-serve account created",
		slog.String("username", msg.Username),
		slog.String("origin", msg.Origin))
	ctx.Reply(Ack{})
}

func (a *ServerActor) handlePasswordChange(ctx bollywood.Context, msg PasswordChangeRequest) {
	if _, err := a.users.Authenticate(msg.Username, msg.Password); err != nil {
		ctx.Reply(err)
		return
	}
	if err := a.users.SetPassword(msg.Username, msg.NewPassword); err != nil {
		ctx.Reply(err)
		return
	}
	a.log.Info("password changed", slog.String("username", msg.Username))
	ctx.Reply(Ack{})
}

// handleShutdown saves and then hands control back to main. Clean writes
// both the timestamped backup and the canonical path; dirty writes only the
// timestamped forensic backup.
func (a *ServerActor) handleShutdown(ctx bollywood.Context, msg ShutdownRequest) {
	user, err := a.users.Authenticate(msg.Username, msg.Password)
	if err != nil {
		ctx.Reply(err)
		return
	}
	if !user.Admin {
		ctx.Reply(fmt.Errorf("not an admin"))
		return
	}

	a.log.Info("admin shutdown requested",
		slog.String("username", msg.Username),
		slog.String("reason", msg.Reason),
		slog.Bool("clean", msg.Clean))

	snap, err := a.collectSnapshot()
	if err != nil {
		ctx.Reply(fmt.Errorf("collecting snapshot: %w", err))
		return
	}

	backupPath, err := store.SaveBackup(a.backupDir(), snap)
	if err != nil {
		ctx.Reply(fmt.Errorf("writing backup: %w", err))
		return
	}
	a.log.Info("shutdown backup written", slog.String("path", backupPath))

	if msg.Clean {
		if err := store.Save(a.cfg.SnapshotPath, snap); err != nil {
			ctx.Reply(fmt.Errorf("writing snapshot: %w", err))
			return
		}
		a.log.Info("snapshot written", slog.String("path", a.cfg.SnapshotPath))
	}

	ctx.Reply(Ack{})
	if a.onShutdown != nil {
		a.onShutdown(msg.Clean, msg.Reason)
	}
}

// collectSnapshot gathers every instance's persistent form. Blocks the
// server loop on each instance in turn; logins queue behind it, which is the
// point during shutdown.
func (a *ServerActor) collectSnapshot() (*store.Snapshot, error) {
	instances := make(map[string]*store.InstanceRecord, len(a.instances))
	for name, entry := range a.instances {
		res, err := a.engine.Ask(entry.pid, relay.SnapshotRequest{}, askTimeout)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", name, err)
		}
		result, ok := res.(relay.SnapshotResult)
		if !ok {
			return nil, fmt.Errorf("instance %s: unexpected reply %T", name, res)
		}

		status := make(map[string]store.StatusRecord, len(result.Status))
		for id, st := range result.Status {
			status[strconv.FormatInt(id, 10)] = store.StatusRecord{
				Username:  st.Username,
				LastInput: st.LastInput,
			}
		}
		// The serialized state persists as a JSON string, opaque to the
		// snapshot format.
		stateJSON, err := json.Marshal(result.State)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", name, err)
		}
		instances[name] = &store.InstanceRecord{
			PlaysetName:      result.PlaysetName,
			State:            stateJSON,
			ControllerStatus: status,
		}
	}

	cfg := a.snapshotConfig
	if cfg == nil {
		cfg = map[string]any{}
	}
	return &store.Snapshot{
		Config:           cfg,
		Users:            a.users.Map(),
		NextControllerID: a.nextControllerID,
		Instances:        instances,
	}, nil
}

func (a *ServerActor) backupDir() string {
	if a.cfg.BackupDir != "" {
		return a.cfg.BackupDir
	}
	return filepath.Dir(a.cfg.SnapshotPath)
}
