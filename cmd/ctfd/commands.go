package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fieldctf/engine/internal/dispatcher"
	"github.com/fieldctf/engine/internal/engine"
	"github.com/fieldctf/engine/internal/geo"
	"github.com/fieldctf/engine/internal/proximity"
	"github.com/fieldctf/engine/pkg/core"
)

// Console commands.
const (
	cmdCreate    = ":CREATE:"
	cmdJoin      = ":JOIN:"
	cmdTeam      = ":TEAM:"
	cmdSafehouse = ":SAFEHOUSE:"
	cmdFlag      = ":FLAG:"
	cmdPos       = ":POS:"
	cmdCapture   = ":CAPTURE:"
	cmdBattle    = ":BATTLE:"
	cmdReady     = ":READY:"
	cmdWin       = ":WIN:"
	cmdLose      = ":LOSE:"
	cmdQuit      = ":QUIT:"
	cmdView      = ":VIEW:"
	cmdQR        = ":QR:"
	cmdHelp      = ":HELP:"
	cmdExit      = ":EXIT:"
)

// posQueueSize bounds the fixes waiting for the tracker.
const posQueueSize = 64

// outlineSegments is the vertex count of zone outlines printed by :VIEW: wkt.
const outlineSegments = 32

// qrSize is the edge length in pixels of game code images.
const qrSize = 256

const replyOK = "ok"

// console binds console commands to one session.
type console struct {
	eng     *engine.Engine
	tracker *proximity.Tracker
	// qrDir receives game code images written by :QR: without a path.
	qrDir string
}

func registerCommands(d *dispatcher.Dispatcher, c *console) {
	d.Register(cmdCreate, c.create, dispatcher.Logged())
	d.Register(cmdJoin, c.join, dispatcher.Logged())
	d.Register(cmdTeam, c.team, dispatcher.Logged())
	d.Register(cmdSafehouse, c.safehouse, dispatcher.Logged())
	d.Register(cmdFlag, c.flag, dispatcher.Logged())
	d.Register(cmdCapture, action(c.eng.CaptureFlag), dispatcher.Logged())
	d.Register(cmdBattle, action(c.eng.CreateBattle), dispatcher.Logged())
	d.Register(cmdReady, action(c.eng.ReadyToBattle), dispatcher.Logged())
	d.Register(cmdWin, c.win, dispatcher.Logged())
	d.Register(cmdLose, action(c.eng.LoseBattle), dispatcher.Logged())
	d.Register(cmdQuit, action(c.eng.QuitGame), dispatcher.Logged())

	// fixes arrive often; keep them ordered off the console goroutine
	d.Register(cmdPos, c.pos, dispatcher.Buffered(posQueueSize), dispatcher.Blocking())

	d.Register(cmdView, c.view)
	d.Register(cmdQR, c.qr)
	d.Register(cmdHelp, func(context.Context, dispatcher.Event) (any, error) {
		return strings.Join(append(d.Commands(), cmdExit), " "), nil
	})
}

// action adapts an argument-less engine operation.
func action(op func(context.Context) error) dispatcher.HandlerFunc {
	return func(ctx context.Context, _ dispatcher.Event) (any, error) {
		if err := op(ctx); err != nil {
			return nil, err
		}
		return replyOK, nil
	}
}

// create handles ":CREATE: title [radius] [tap]".
func (c *console) create(ctx context.Context, e dispatcher.Event) (any, error) {
	title := e.Arg(0)
	if title == "" {
		return nil, fmt.Errorf("%s needs a title", e.Command)
	}
	var opts []engine.GameOption
	for _, arg := range e.Args[1:] {
		if strings.EqualFold(arg, "tap") {
			opts = append(opts, engine.WithMiniGame(core.MiniGameTapTheFlag))
			continue
		}
		radius, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("bad game radius %q: %w", arg, err)
		}
		opts = append(opts, engine.WithGameRadius(radius))
	}
	return c.eng.CreateGame(ctx, title, opts...)
}

func (c *console) join(ctx context.Context, e dispatcher.Event) (any, error) {
	if e.Arg(0) == "" {
		return nil, fmt.Errorf("%s needs a game code", e.Command)
	}
	if err := c.eng.JoinGame(ctx, e.Arg(0)); err != nil {
		return nil, err
	}
	return replyOK, nil
}

func (c *console) team(ctx context.Context, e dispatcher.Event) (any, error) {
	team, err := parseTeam(e.Arg(0))
	if err != nil {
		return nil, err
	}
	if err := c.eng.ChooseTeam(ctx, team); err != nil {
		return nil, err
	}
	return replyOK, nil
}

// safehouse handles ":SAFEHOUSE: lat,lng [radius]".
func (c *console) safehouse(ctx context.Context, e dispatcher.Event) (any, error) {
	pos, err := geo.ParseCoordinate(e.Arg(0))
	if err != nil {
		return nil, err
	}
	var radius float64
	if e.Arg(1) != "" {
		if radius, err = strconv.ParseFloat(e.Arg(1), 64); err != nil {
			return nil, fmt.Errorf("bad game radius %q: %w", e.Arg(1), err)
		}
	}
	if err := c.eng.SetSafehouseAndAdvance(ctx, pos, radius); err != nil {
		return nil, err
	}
	return replyOK, nil
}

// flag handles ":FLAG: [lat,lng]", defaulting to the live position.
func (c *console) flag(ctx context.Context, e dispatcher.Event) (any, error) {
	pos, err := c.positionArg(e.Arg(0))
	if err != nil {
		return nil, err
	}
	if err := c.eng.PlaceFlag(ctx, pos); err != nil {
		return nil, err
	}
	return replyOK, nil
}

func (c *console) pos(_ context.Context, e dispatcher.Event) (any, error) {
	pos, err := geo.ParseCoordinate(e.Arg(0))
	if err != nil {
		return nil, err
	}
	return nil, c.tracker.Feed(pos)
}

func (c *console) win(ctx context.Context, e dispatcher.Event) (any, error) {
	winner := e.Arg(0)
	if winner == "" {
		winner = c.eng.PlayerID()
	}
	if err := c.eng.ResolveBattle(ctx, winner); err != nil {
		return nil, err
	}
	return replyOK, nil
}

// view handles ":VIEW: [wkt]".
func (c *console) view(_ context.Context, e dispatcher.Event) (any, error) {
	v := c.eng.View()
	if strings.EqualFold(e.Arg(0), "wkt") {
		outlines := v.Outlines(outlineSegments)
		kinds := make([]proximity.ZoneKind, 0, len(outlines))
		for k := range outlines {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

		var b strings.Builder
		for _, k := range kinds {
			fmt.Fprintf(&b, "\n%s %s", k, outlines[k].AsText())
		}
		return b.String(), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return "\n" + string(data), nil
}

// qr writes the game code as a PNG and replies with the file path.
func (c *console) qr(_ context.Context, e dispatcher.Event) (any, error) {
	v := c.eng.View()
	png, err := v.GameCodeQR(qrSize)
	if err != nil {
		return nil, err
	}
	path := e.Arg(0)
	if path == "" {
		path = filepath.Join(c.qrDir, v.Game.GameID+"_qr.png")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create qr dir: %w", err)
		}
	}
	if err := os.WriteFile(path, png, 0644); err != nil {
		return nil, fmt.Errorf("write qr: %w", err)
	}
	return path, nil
}

func (c *console) positionArg(arg string) (core.Coordinate, error) {
	if arg != "" {
		return geo.ParseCoordinate(arg)
	}
	v := c.eng.View()
	if !v.HasPosition {
		return core.Coordinate{}, fmt.Errorf("no position fix yet, send %s first", cmdPos)
	}
	return v.LivePosition, nil
}

func parseTeam(s string) (core.Team, error) {
	switch strings.ToLower(s) {
	case "red":
		return core.TeamRed, nil
	case "green":
		return core.TeamGreen, nil
	default:
		return core.TeamUnknown, fmt.Errorf("%w: %q", engine.ErrTeamNotChosen, s)
	}
}
