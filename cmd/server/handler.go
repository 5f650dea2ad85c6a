package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/gorilla/websocket"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	"github.com/projecteru2/hatchery/console"
	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/install"
	"github.com/projecteru2/hatchery/panel"
	"github.com/projecteru2/hatchery/registry"
	"github.com/projecteru2/hatchery/types"
	"github.com/projecteru2/hatchery/utils"
)

type Handler struct {
	cmdcore.BaseHandler
}

// initState is the shared init for commands that act on the local index and
// engine directly.
func (h Handler) initState(cmd *cobra.Command) (context.Context, engine.Engine, *registry.Registry, error) {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	eng, err := cmdcore.InitEngine(conf)
	if err != nil {
		return nil, nil, nil, err
	}
	reg, err := cmdcore.InitRegistry(conf)
	if err != nil {
		return nil, nil, nil, err
	}
	return ctx, eng, reg, nil
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, eng, reg, err := h.initState(cmd)
	if err != nil {
		return err
	}

	records, err := reg.List(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No servers found.")
		return nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUNIT\tSTATE\tMEMORY\tPORT\tCREATED")
	for _, rec := range records {
		state := rec.State
		// Detect stale "running" records whose container is gone or stopped.
		if state == types.StateRunning {
			if status, err := eng.Inspect(ctx, rec.ContainerID); err != nil || !status.Running {
				state = "stopped (stale)"
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.InternalID,
			rec.Unit.Name,
			state,
			units.BytesSize(float64(rec.Limits.Memory)),
			rec.Allocation.Port,
			rec.CreatedAt.Local().Format(time.DateTime),
		)
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}

func (h Handler) Inspect(cmd *cobra.Command, args []string) error {
	ctx, eng, reg, err := h.initState(cmd)
	if err != nil {
		return err
	}

	rec, err := reg.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	out := struct {
		types.ServerRecord
		Running bool `json:"running"`
	}{ServerRecord: rec}
	if rec.ContainerID != "" {
		if status, err := eng.Inspect(ctx, rec.ContainerID); err == nil {
			out.Running = status.Running
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (h Handler) Start(cmd *cobra.Command, args []string) error {
	ctx, eng, reg, err := h.initState(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.start")

	var errs []error
	for _, ref := range args {
		if err := startOne(ctx, eng, reg, ref); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", ref, err))
			continue
		}
		logger.Infof(ctx, "started: %s", ref)
	}
	return errors.Join(errs...)
}

func startOne(ctx context.Context, eng engine.Engine, reg *registry.Registry, ref string) error {
	rec, err := reg.Get(ctx, ref)
	if err != nil {
		return err
	}
	if !rec.State.Installed() || rec.ContainerID == "" {
		return fmt.Errorf("server is not installed (state %s)", rec.State)
	}
	if err := reg.Transition(ctx, rec.InternalID, types.StateStarting); err != nil {
		return err
	}
	if err := eng.Start(ctx, rec.ContainerID); err != nil {
		_ = reg.Transition(ctx, rec.InternalID, types.StateErrored)
		return err
	}
	return reg.Transition(ctx, rec.InternalID, types.StateRunning)
}

func (h Handler) Stop(cmd *cobra.Command, args []string) error {
	ctx, eng, reg, err := h.initState(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.stop")

	var errs []error
	for _, ref := range args {
		if err := stopOne(ctx, eng, reg, ref); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", ref, err))
			continue
		}
		logger.Infof(ctx, "stopped: %s", ref)
	}
	return errors.Join(errs...)
}

func stopOne(ctx context.Context, eng engine.Engine, reg *registry.Registry, ref string) error {
	rec, err := reg.Get(ctx, ref)
	if err != nil {
		return err
	}
	if rec.ContainerID == "" {
		return fmt.Errorf("server has no container")
	}
	if err := reg.Transition(ctx, rec.InternalID, types.StateStopping); err != nil {
		return err
	}
	if err := eng.Stop(ctx, rec.ContainerID); err != nil {
		_ = reg.Transition(ctx, rec.InternalID, types.StateErrored)
		return err
	}
	return reg.Transition(ctx, rec.InternalID, types.StateStopped)
}

func (h Handler) Restart(cmd *cobra.Command, args []string) error {
	ctx, eng, reg, err := h.initState(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.restart")

	var errs []error
	for _, ref := range args {
		if err := restartOne(ctx, eng, reg, ref); err != nil {
			errs = append(errs, fmt.Errorf("restart %s: %w", ref, err))
			continue
		}
		logger.Infof(ctx, "restarted: %s", ref)
	}
	return errors.Join(errs...)
}

func restartOne(ctx context.Context, eng engine.Engine, reg *registry.Registry, ref string) error {
	rec, err := reg.Get(ctx, ref)
	if err != nil {
		return err
	}
	if !rec.State.Installed() || rec.ContainerID == "" {
		return fmt.Errorf("server is not installed (state %s)", rec.State)
	}
	if rec.State != types.StateRunning {
		if err := reg.Transition(ctx, rec.InternalID, types.StateStarting); err != nil {
			return err
		}
	}
	if err := eng.Restart(ctx, rec.ContainerID); err != nil {
		_ = reg.Transition(ctx, rec.InternalID, types.StateErrored)
		return err
	}
	if rec.State != types.StateRunning {
		return reg.Transition(ctx, rec.InternalID, types.StateRunning)
	}
	return nil
}

// Install runs the install pipeline in-process and waits for the outcome.
// The daemon does the same work asynchronously via its HTTP API; this is
// the operator's direct path.
func (h Handler) Install(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	eng, err := cmdcore.InitEngine(conf)
	if err != nil {
		return err
	}
	reg, err := cmdcore.InitRegistry(conf)
	if err != nil {
		return err
	}

	ref := args[0]
	reinstall, _ := cmd.Flags().GetBool("reinstall")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}

	internalID := ref
	rec, err := reg.Get(ctx, ref)
	switch {
	case err == nil:
		internalID = rec.InternalID
	case errors.Is(err, registry.ErrNotFound) && !reinstall:
		// Unknown server: register it and install from scratch.
		if err := reg.Put(ctx, types.ServerRecord{
			InternalID: ref,
			State:      types.StateCreating,
			CreatedAt:  time.Now(),
		}); err != nil {
			return err
		}
	default:
		return err
	}

	pc := panel.New(conf.Panel, conf.PanelToken)
	installer, err := install.New(conf, eng, pc, reg, nil)
	if err != nil {
		return err
	}
	defer installer.Close()

	if err := installer.Enqueue(internalID, reinstall); err != nil {
		return err
	}

	logger := log.WithFunc("cmd.install")
	logger.Infof(ctx, "installing %s", internalID)

	return utils.WaitFor(ctx, timeout, 2*time.Second, func() (bool, error) {
		rec, err := reg.Get(ctx, internalID)
		if err != nil {
			return false, err
		}
		switch rec.State {
		case types.StateInstalled, types.StateStopped:
			logger.Infof(ctx, "installed: %s", internalID)
			return true, nil
		case types.StateInstallFailed, types.StateErrored:
			return false, fmt.Errorf("install failed (state %s)", rec.State)
		default:
			return false, nil
		}
	})
}

func (h Handler) Console(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	ref := args[0]

	addr, _ := cmd.Flags().GetString("daemon")
	if addr == "" {
		addr = conf.Listen
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		return fmt.Errorf("--token is required")
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     addr,
		Path:     "/v1/console",
		RawQuery: url.Values{"server": {ref}, "token": {token}}.Encode(),
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial console: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	escapeStr, _ := cmd.Flags().GetString("escape-char")
	escapeChar, err := console.ParseEscapeChar(escapeStr)
	if err != nil {
		return err
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		fmt.Fprintf(os.Stderr, "\r\nDisconnected from %s.\r\n", ref)
	}()

	fmt.Fprintf(os.Stderr, "Connected to %s (escape sequence: %s.)\r\n", ref, console.FormatEscapeChar(escapeChar))

	if err := console.Relay(ctx, console.NewWire(conn), escapeChar); err != nil {
		fmt.Fprintf(os.Stderr, "\r\nrelay error: %v\r\n", err)
	}
	return nil
}

// RM deletes servers with best-effort semantics: every deletion is
// attempted and reported before the combined error is returned.
func (h Handler) RM(cmd *cobra.Command, args []string) error {
	ctx, eng, reg, err := h.initState(cmd)
	if err != nil {
		return err
	}
	conf, err := h.Conf()
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.rm")

	force, _ := cmd.Flags().GetBool("force")

	var errs []error
	for _, ref := range args {
		if err := removeOne(ctx, conf.ServerVolume, eng, reg, ref, force); err != nil {
			errs = append(errs, fmt.Errorf("rm %s: %w", ref, err))
			continue
		}
		logger.Infof(ctx, "deleted server: %s", ref)
	}
	return errors.Join(errs...)
}

func removeOne(ctx context.Context, volume func(string) string, eng engine.Engine, reg *registry.Registry, ref string, force bool) error {
	rec, err := reg.Get(ctx, ref)
	if err != nil {
		return err
	}
	if rec.ContainerID != "" {
		status, err := eng.Inspect(ctx, rec.ContainerID)
		if err == nil && status.Running && !force {
			return fmt.Errorf("server is running (use --force)")
		}
		if err := eng.Remove(ctx, rec.ContainerID, true); err != nil && !errors.Is(err, engine.ErrNotFound) {
			return err
		}
	}
	if err := os.RemoveAll(volume(rec.InternalID)); err != nil {
		return err
	}
	return reg.Delete(ctx, rec.InternalID)
}
