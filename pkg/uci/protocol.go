package uci

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type LimitsType struct {
	Ponder         bool
	Infinite       bool
	WhiteTime      int
	BlackTime      int
	WhiteIncrement int
	BlackIncrement int
	MovesToGo      int
	Depth          int
	Nodes          int
	MoveTime       int
	HasMoveTime    bool
	SearchMoves    []string
}

type Score struct {
	Centipawns int
	Mate       int
	WDL        [3]int // permille
	HasWDL     bool
}

type SearchInfo struct {
	Depth    int
	SelDepth int
	Nodes    int64
	Time     time.Duration
	Hashfull int
	Score    Score
	MainLine []string
	BestMove string
	Ponder   string
}

type SearchParams struct {
	FEN      string
	Moves    []string
	Limits   LimitsType
	Progress func(SearchInfo)
}

// Engine is the service behind the protocol. Search blocks until the search
// finishes; an error means no bestmove may be reported for that go.
type Engine interface {
	Prepare() error
	Clear()
	Search(ctx context.Context, params SearchParams) (SearchInfo, error)
	PonderHit()
}

const initialFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type Protocol struct {
	name    string
	author  string
	version string
	options []Option
	engine  Engine
	logger  zerolog.Logger
	out     io.Writer

	fen   string
	moves []string

	thinking     bool
	engineOutput chan searchOutcome
	cancel       context.CancelFunc
}

type searchOutcome struct {
	info  SearchInfo
	final bool
	err   error
}

func New(name, author, version string, engine Engine, options []Option, logger zerolog.Logger) *Protocol {
	return &Protocol{
		name:    name,
		author:  author,
		version: version,
		engine:  engine,
		options: options,
		logger:  logger,
		fen:     initialFEN,
	}
}

// Run drives the protocol until EOF or quit. Reading happens on its own
// goroutine so stop and ponderhit arrive while a search runs.
func (uci *Protocol) Run(in io.Reader, out io.Writer) {
	uci.out = out
	var commands = make(chan string)

	go func() {
		defer close(commands)
		var scanner = bufio.NewScanner(in)
		for scanner.Scan() {
			var commandLine = scanner.Text()
			if commandLine == "quit" {
				return
			}
			if commandLine != "" {
				commands <- commandLine
			}
		}
	}()

	for {
		select {
		case outcome := <-uci.engineOutput:
			uci.handleOutcome(outcome)
		case commandLine, ok := <-commands:
			if !ok {
				if uci.cancel != nil {
					uci.cancel()
				}
				return
			}
			if err := uci.handle(commandLine); err != nil {
				// Recoverable: report and keep serving.
				uci.send("info string %v", err)
				uci.logger.Warn().Str("command", commandLine).Err(err).Msg("command rejected")
			}
		}
	}
}

func (uci *Protocol) send(format string, args ...interface{}) {
	fmt.Fprintf(uci.out, format+"\n", args...)
}

func (uci *Protocol) handleOutcome(outcome searchOutcome) {
	if outcome.err != nil {
		uci.send("info string search aborted: %v", outcome.err)
		uci.thinking = false
		uci.cancel = nil
		return
	}
	uci.send("%v", searchInfoToUci(outcome.info))
	if !outcome.final {
		return
	}
	uci.thinking = false
	uci.cancel = nil
	if outcome.info.BestMove != "" {
		if outcome.info.Ponder != "" {
			uci.send("bestmove %v ponder %v", outcome.info.BestMove, outcome.info.Ponder)
		} else {
			uci.send("bestmove %v", outcome.info.BestMove)
		}
	}
}

func (uci *Protocol) handle(commandLine string) error {
	var fields = strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil
	}
	var commandName = fields[0]
	fields = fields[1:]

	if uci.thinking {
		switch commandName {
		case "stop":
			uci.cancel()
			return nil
		case "ponderhit":
			uci.engine.PonderHit()
			return nil
		case "isready":
			uci.send("readyok")
			return nil
		}
		return errors.New("search still running")
	}

	switch commandName {
	case "uci":
		return uci.uciCommand(fields)
	case "setoption":
		return uci.setOptionCommand(fields)
	case "isready":
		return uci.isReadyCommand(fields)
	case "position":
		return uci.positionCommand(fields)
	case "go":
		return uci.goCommand(fields)
	case "ucinewgame":
		uci.engine.Clear()
		return nil
	case "ponderhit", "stop":
		return nil
	}
	// Unknown commands are ignored per protocol.
	uci.logger.Debug().Str("command", commandName).Msg("unknown command ignored")
	return nil
}

func (uci *Protocol) uciCommand(fields []string) error {
	uci.send("id name %v %v", uci.name, uci.version)
	uci.send("id author %v", uci.author)
	for _, option := range uci.options {
		uci.send("%v", option.UciString())
	}
	uci.send("uciok")
	return nil
}

func (uci *Protocol) setOptionCommand(fields []string) error {
	if len(fields) < 2 {
		return errors.New("invalid setoption arguments")
	}
	// setoption name <id> [value <x>]; names and values may contain spaces.
	var valueIndex = findIndexString(fields, "value")
	var name, value string
	if valueIndex == -1 {
		name = strings.Join(fields[1:], " ")
	} else {
		name = strings.Join(fields[1:valueIndex], " ")
		value = strings.Join(fields[valueIndex+1:], " ")
	}
	for _, option := range uci.options {
		if strings.EqualFold(option.UciName(), name) {
			return option.Set(value)
		}
	}
	return errors.Errorf("unhandled option %q", name)
}

func (uci *Protocol) isReadyCommand(fields []string) error {
	if err := uci.engine.Prepare(); err != nil {
		return err
	}
	uci.send("readyok")
	return nil
}

func (uci *Protocol) positionCommand(fields []string) error {
	if len(fields) == 0 {
		return errors.New("invalid position arguments")
	}
	var fen string
	var movesIndex = findIndexString(fields, "moves")
	if fields[0] == "startpos" {
		fen = initialFEN
	} else if fields[0] == "fen" {
		if movesIndex == -1 {
			fen = strings.Join(fields[1:], " ")
		} else {
			fen = strings.Join(fields[1:movesIndex], " ")
		}
	} else {
		return errors.New("unknown position command")
	}
	var moves []string
	if movesIndex >= 0 && movesIndex+1 < len(fields) {
		moves = fields[movesIndex+1:]
	}
	uci.fen = fen
	uci.moves = append([]string(nil), moves...)
	return nil
}

func (uci *Protocol) goCommand(fields []string) error {
	var limits, err = parseLimits(fields)
	if err != nil {
		return err
	}
	var ctx, cancel = context.WithCancel(context.Background())
	uci.cancel = cancel
	uci.thinking = true
	uci.engineOutput = make(chan searchOutcome, 8)
	var output = uci.engineOutput
	go func() {
		var result, err = uci.engine.Search(ctx, SearchParams{
			FEN:    uci.fen,
			Moves:  uci.moves,
			Limits: limits,
			Progress: func(si SearchInfo) {
				select {
				case output <- searchOutcome{info: si}:
				default:
				}
			},
		})
		output <- searchOutcome{info: result, final: true, err: err}
	}()
	return nil
}

func searchInfoToUci(si SearchInfo) string {
	var sb = &strings.Builder{}
	fmt.Fprintf(sb, "info depth %v seldepth %v", si.Depth, si.SelDepth)
	if si.Score.Mate != 0 {
		fmt.Fprintf(sb, " score mate %v", si.Score.Mate)
	} else {
		fmt.Fprintf(sb, " score cp %v", si.Score.Centipawns)
	}
	if si.Score.HasWDL {
		fmt.Fprintf(sb, " wdl %v %v %v", si.Score.WDL[0], si.Score.WDL[1], si.Score.WDL[2])
	}
	var timeMs = si.Time.Milliseconds()
	var nps = si.Nodes * 1000 / (timeMs + 1)
	fmt.Fprintf(sb, " nodes %v time %v nps %v hashfull %v",
		si.Nodes, timeMs, nps, si.Hashfull)
	if len(si.MainLine) != 0 {
		fmt.Fprintf(sb, " pv")
		for _, move := range si.MainLine {
			sb.WriteString(" ")
			sb.WriteString(move)
		}
	}
	return sb.String()
}

func parseLimits(args []string) (result LimitsType, err error) {
	var intArg = func(i int) (int, error) {
		if i+1 >= len(args) {
			return 0, errors.Errorf("missing value for %v", args[i])
		}
		return strconv.Atoi(args[i+1])
	}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "ponder":
			result.Ponder = true
		case "infinite":
			result.Infinite = true
		case "wtime":
			result.WhiteTime, err = intArg(i)
			i++
		case "btime":
			result.BlackTime, err = intArg(i)
			i++
		case "winc":
			result.WhiteIncrement, err = intArg(i)
			i++
		case "binc":
			result.BlackIncrement, err = intArg(i)
			i++
		case "movestogo":
			result.MovesToGo, err = intArg(i)
			i++
		case "depth":
			result.Depth, err = intArg(i)
			i++
		case "nodes":
			result.Nodes, err = intArg(i)
			i++
		case "movetime":
			result.MoveTime, err = intArg(i)
			result.HasMoveTime = true
			i++
		case "searchmoves":
			for i+1 < len(args) && !isGoKeyword(args[i+1]) {
				result.SearchMoves = append(result.SearchMoves, args[i+1])
				i++
			}
		default:
			// Ignore unrecognised go parameters; they are not fatal.
		}
		if err != nil {
			return LimitsType{}, errors.Wrapf(err, "malformed go parameter %v", args[i])
		}
	}
	return result, nil
}

func isGoKeyword(s string) bool {
	switch s {
	case "ponder", "infinite", "wtime", "btime", "winc", "binc",
		"movestogo", "depth", "nodes", "movetime", "searchmoves":
		return true
	}
	return false
}

func findIndexString(slice []string, value string) int {
	for p, v := range slice {
		if v == value {
			return p
		}
	}
	return -1
}
