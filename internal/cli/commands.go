// Package cli implements the interactive operator console: fleet status
// tables, on-demand syncs and health checks, and player commands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/playfleet/stationsync/internal/events"
	"github.com/playfleet/stationsync/internal/health"
	"github.com/playfleet/stationsync/internal/model"
	"github.com/playfleet/stationsync/internal/protocol"
	"github.com/playfleet/stationsync/internal/util"
)

// StationLister lists registered stations.
type StationLister interface {
	Stations(ctx context.Context) ([]*model.Station, error)
}

// Syncer runs station synchronizations.
type Syncer interface {
	SyncStation(ctx context.Context, stationID string, role protocol.Role, sink events.ProgressSink) (bool, error)
}

// HealthChecker runs on-demand checks and reports cached results.
type HealthChecker interface {
	Check(ctx context.Context, addr string, role protocol.Role) health.Result
	Statuses() []health.PlayerHealth
}

// PlayerControl sends ad-hoc commands to players.
type PlayerControl interface {
	FetchContents(ctx context.Context, addr string) (string, bool)
	Disconnect(ctx context.Context, addr string) bool
}

// Deps bundles the components the console drives.
type Deps struct {
	Stations StationLister
	Syncer   Syncer
	Health   HealthChecker
	Players  PlayerControl
	EventBus *events.EventBus
}

// CLI provides an interactive command-line interface.
type CLI struct {
	deps Deps
	in   io.Reader
	out  io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(deps Deps, in io.Reader, out io.Writer) *CLI {
	return &CLI{deps: deps, in: in, out: out}
}

// Start reads commands until EOF, quit, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nstationsync CLI ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "stationsync> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

var errQuit = errors.New("quit")

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "stations", "ls":
		return c.printStations(ctx)
	case "sync":
		return c.cmdSync(ctx, args)
	case "health":
		return c.cmdHealth(ctx, args)
	case "contents":
		return c.cmdContents(ctx, args)
	case "disconnect":
		return c.cmdDisconnect(ctx, args)
	case "info":
		c.printInfo()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down stationsync...")
		if c.deps.EventBus != nil {
			c.deps.EventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		}
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprint(c.out, `
  status                      last health result of every player
  stations                    registered stations
  sync <station> [role]       synchronize a station (role: admin, user)
  health <address> [role]     run the connection check against a player
  contents <address>          print the manifest held by a player
  disconnect <address>        end the session with a player
  info                        host information
  quit                        stop stationsync
`)
}

// printStatus renders the monitor cache.
func (c *CLI) printStatus() {
	statuses := c.deps.Health.Statuses()
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No player has been checked yet.")
		return
	}

	tw := c.table([]string{"Address", "Player", "Status", "Registration", "Checked"})
	for _, st := range statuses {
		name := st.Name
		if name == "" {
			name = st.PlayerID
		}
		reg := string(st.Registration)
		if reg == "" {
			reg = "-"
		}
		tw.Append([]string{
			st.Address,
			name,
			st.Status.String(),
			reg,
			st.CheckedAt.Format(time.TimeOnly),
		})
	}
	tw.Render()
}

func (c *CLI) printStations(ctx context.Context) error {
	stations, err := c.deps.Stations.Stations(ctx)
	if err != nil {
		return err
	}

	tw := c.table([]string{"ID", "Name", "Controller", "Players", "Contents"})
	for _, st := range stations {
		contents := 0
		for _, f := range st.Folders {
			contents += len(f.Contents)
		}
		controller := "-"
		if p, ok := st.Controller(); ok {
			controller = fmt.Sprintf("%s (%s)", p.Name, p.Address)
		}
		tw.Append([]string{st.ID, st.Name, controller, fmt.Sprint(len(st.Players)), fmt.Sprint(contents)})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdSync(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: sync <station> [role]")
	}
	role, err := roleArg(args, 1)
	if err != nil {
		return err
	}

	sink := events.SinkFunc(func(p events.SyncProgress) {
		if line := formatProgress(p); line != "" {
			fmt.Fprintln(c.out, line)
		}
	})

	ok, err := c.deps.Syncer.SyncStation(ctx, args[0], role, sink)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(c.out, "Station %s synchronized.\n", args[0])
	} else {
		fmt.Fprintf(c.out, "Station %s not fully synchronized; it will be retried.\n", args[0])
	}
	return nil
}

func (c *CLI) cmdHealth(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: health <address> [role]")
	}
	role, err := roleArg(args, 1)
	if err != nil {
		return err
	}

	res := c.deps.Health.Check(ctx, args[0], role)
	fmt.Fprintf(c.out, "%s: %s", args[0], res.Status)
	if res.Registration != protocol.RegistrationNoReply {
		fmt.Fprintf(c.out, " (registration %s)", res.Registration)
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) cmdContents(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: contents <address>")
	}
	contents, ok := c.deps.Players.FetchContents(ctx, args[0])
	if !ok {
		return fmt.Errorf("%s did not answer", args[0])
	}
	fmt.Fprintln(c.out, contents)
	return nil
}

func (c *CLI) cmdDisconnect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: disconnect <address>")
	}
	if !c.deps.Players.Disconnect(ctx, args[0]) {
		return fmt.Errorf("%s is not connected", args[0])
	}
	log.Info().Str("address", args[0]).Msg("CLI: player disconnected")
	fmt.Fprintf(c.out, "Disconnected %s.\n", args[0])
	return nil
}

func (c *CLI) printInfo() {
	info := util.GetSystemInfo()
	tw := c.table([]string{"Field", "Value"})
	tw.Append([]string{"Hostname", info.Hostname})
	tw.Append([]string{"OS", info.OS})
	tw.Append([]string{"Platform", fmt.Sprintf("%s/%s", info.Platform, info.Architecture)})
	tw.Append([]string{"CPU", fmt.Sprintf("%s (%d cores)", info.CPUModel, info.CPUCores)})
	tw.Append([]string{"Memory", fmt.Sprintf("%d MB", info.TotalMemory)})
	tw.Append([]string{"Local IP", info.LocalIP})
	tw.Render()
}

func (c *CLI) table(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func roleArg(args []string, i int) (protocol.Role, error) {
	if len(args) <= i {
		return protocol.RoleNone, nil
	}
	return protocol.ParseRole(strings.ToLower(args[i]))
}

// formatProgress renders one progress event as a console line. Per-chunk
// upload progress is skipped.
func formatProgress(p events.SyncProgress) string {
	who := p.PlayerName
	if who == "" {
		who = p.PlayerID
	}
	if p.Scope == events.ScopeController {
		who += " [controller]"
	}

	switch p.Kind {
	case events.ProgressConnecting:
		return fmt.Sprintf("  %s: connecting to %s", who, p.Address)
	case events.ProgressStep:
		return fmt.Sprintf("  %s: %s %d/%d %s", who, p.Step, p.StepIndex, p.StepTotal, p.Status)
	case events.ProgressConnected:
		return fmt.Sprintf("  %s: connected", who)
	case events.ProgressConnectionFailed:
		return fmt.Sprintf("  %s: connection failed (%s)", who, p.Status)
	case events.ProgressBlocked:
		return fmt.Sprintf("  %s: blocked by another controller", who)
	case events.ProgressMediaSendStart:
		return fmt.Sprintf("  %s: uploading %s", who, p.ContentID)
	case events.ProgressMediaSendSuccess:
		return fmt.Sprintf("  %s: uploaded %s as media %d", who, p.ContentID, p.MediaID)
	case events.ProgressMediaSendFailure:
		return fmt.Sprintf("  %s: upload of %s failed", who, p.ContentID)
	case events.ProgressDeleteStart:
		return fmt.Sprintf("  %s: deleting media %d", who, p.MediaID)
	case events.ProgressDeleteSuccess:
		return fmt.Sprintf("  %s: deleted media %d", who, p.MediaID)
	case events.ProgressDeleteFailure:
		return fmt.Sprintf("  %s: deletion of media %d failed", who, p.MediaID)
	case events.ProgressManifestSent:
		return fmt.Sprintf("  %s: manifest accepted", who)
	case events.ProgressManifestFailed:
		return fmt.Sprintf("  %s: manifest not delivered", who)
	case events.ProgressNoController:
		return "  station has no controller"
	case events.ProgressDone:
		return fmt.Sprintf("  done (success=%v)", p.Success)
	}
	return ""
}
