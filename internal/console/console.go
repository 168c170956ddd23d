// Package console is a small terminal front end for playing against the
// engine directly, without a uci gui.
package console

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/muesli/termenv"
	"github.com/rs/zerolog"

	"github.com/DmitryFilippov/Lumina/pkg/chess"
	"github.com/DmitryFilippov/Lumina/pkg/engine"
	"github.com/DmitryFilippov/Lumina/pkg/uci"
)

const (
	whiteKing   = "♔"
	whiteQueen  = "♕"
	whiteRook   = "♖"
	whiteBishop = "♗"
	whiteKnight = "♘"
	whitePawn   = "♙"
	blackKing   = "♚"
	blackQueen  = "♛"
	blackRook   = "♜"
	blackBishop = "♝"
	blackKnight = "♞"
	blackPawn   = "♟"
)

var pieceSymbols = map[byte]string{
	'K': whiteKing, 'Q': whiteQueen, 'R': whiteRook,
	'B': whiteBishop, 'N': whiteKnight, 'P': whitePawn,
	'k': blackKing, 'q': blackQueen, 'r': blackRook,
	'b': blackBishop, 'n': blackKnight, 'p': blackPawn,
}

const engineMoveTimeMs = 3000

// Run plays moves typed as coordinates ("e2e4") against the engine until
// the game ends or the user types quit.
func Run(eng *engine.Engine, logger zerolog.Logger) {
	var output = termenv.NewOutput(os.Stdout)
	var pos = chess.MustPosition(chess.InitialPositionFEN)
	var moves []string
	var scanner = bufio.NewScanner(os.Stdin)

	printBoard(output, pos)
	for {
		if outcome := pos.Outcome(); outcome != chess.Ongoing {
			fmt.Printf("game over: %v\n", outcome)
			return
		}
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		var line = strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			return
		case "board":
			printBoard(output, pos)
			continue
		}
		var next, ok = pos.ApplyUCI(line)
		if !ok {
			fmt.Println("illegal move")
			continue
		}
		pos = next
		moves = append(moves, line)
		printBoard(output, pos)
		if outcome := pos.Outcome(); outcome != chess.Ongoing {
			fmt.Printf("game over: %v\n", outcome)
			return
		}

		var info, err = eng.Search(context.Background(), uci.SearchParams{
			FEN:    chess.InitialPositionFEN,
			Moves:  moves,
			Limits: uci.LimitsType{MoveTime: engineMoveTimeMs, HasMoveTime: true},
		})
		if err != nil {
			logger.Error().Err(err).Msg("engine failed")
			return
		}
		if info.BestMove == "" {
			fmt.Println("engine has no move")
			return
		}
		next, ok = pos.ApplyUCI(info.BestMove)
		if !ok {
			logger.Error().Str("move", info.BestMove).Msg("engine suggested illegal move")
			return
		}
		pos = next
		moves = append(moves, info.BestMove)
		fmt.Printf("engine: %v (cp %v, %v nodes)\n",
			info.BestMove, info.Score.Centipawns, info.Nodes)
		printBoard(output, pos)
	}
}

func printBoard(output *termenv.Output, pos *chess.Position) {
	var board = fenBoard(pos.FEN())
	for rank := 7; rank >= 0; rank-- {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%v ", rank+1)
		for file := 0; file < 8; file++ {
			var cell = "  "
			if piece := board[rank*8+file]; piece != 0 {
				cell = pieceSymbols[piece] + " "
			}
			var style = output.String(cell)
			if (rank+file)%2 == 0 {
				style = style.Background(termenv.ANSIGreen)
			} else {
				style = style.Background(termenv.ANSIWhite)
			}
			sb.WriteString(style.Foreground(termenv.ANSIBlack).String())
		}
		fmt.Println(sb.String())
	}
	fmt.Println("  a b c d e f g h")
}

// fenBoard expands the piece-placement field into 64 bytes, a1 first.
func fenBoard(fen string) [64]byte {
	var board [64]byte
	var rank, file = 7, 0
	for _, ch := range fen {
		switch {
		case ch == ' ':
			return board
		case ch == '/':
			rank--
			file = 0
		case ch >= '1' && ch <= '8':
			file += int(ch - '0')
		default:
			if rank >= 0 && file < 8 {
				board[rank*8+file] = byte(ch)
			}
			file++
		}
	}
	return board
}
