// Package match holds the authoritative tic-tac-toe state for each paired
// room: the board, whose turn it is, terminal detection, and rematch votes.
package match

import (
	"encoding/json"
	"fmt"
)

// Symbol is the marker a player places on the board.
type Symbol string

const (
	// Empty marks an unoccupied cell.
	Empty Symbol = ""
	// X always opens a game.
	X Symbol = "X"
	// O moves second.
	O Symbol = "O"
)

// Opponent returns the other playing symbol. Empty maps to Empty.
func (s Symbol) Opponent() Symbol {
	switch s {
	case X:
		return O
	case O:
		return X
	default:
		return Empty
	}
}

// Result is the terminal outcome of a game. ResultNone means the game continues.
type Result string

const (
	ResultNone         Result = ""
	ResultX            Result = "X"
	ResultO            Result = "O"
	ResultDraw         Result = "draw"
	ResultOpponentLeft Result = "opponent_left"
)

// BoardSize is the number of cells on the board.
const BoardSize = 9

// Board is the 3x3 grid in row-major order.
type Board [BoardSize]Symbol

// lines are the eight winning triples: rows, columns, then diagonals.
var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Evaluate reports the terminal result of b.
//
// Postcondition: Returns the symbol of the first completed line in fixed line
// order, else ResultDraw if every cell is occupied, else ResultNone.
func Evaluate(b Board) Result {
	for _, l := range lines {
		s := b[l[0]]
		if s != Empty && s == b[l[1]] && s == b[l[2]] {
			return Result(s)
		}
	}
	if b.Full() {
		return ResultDraw
	}
	return ResultNone
}

// Full reports whether every cell is occupied.
func (b Board) Full() bool {
	for _, s := range b {
		if s == Empty {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the board as nine cells of "X", "O" or null.
func (b Board) MarshalJSON() ([]byte, error) {
	cells := make([]*string, BoardSize)
	for i, s := range b {
		if s != Empty {
			v := string(s)
			cells[i] = &v
		}
	}
	return json.Marshal(cells)
}

// UnmarshalJSON decodes the nine-cell form produced by MarshalJSON.
func (b *Board) UnmarshalJSON(data []byte) error {
	var cells []*string
	if err := json.Unmarshal(data, &cells); err != nil {
		return fmt.Errorf("decoding board: %w", err)
	}
	if len(cells) != BoardSize {
		return fmt.Errorf("decoding board: got %d cells, want %d", len(cells), BoardSize)
	}
	var out Board
	for i, c := range cells {
		if c == nil {
			continue
		}
		switch Symbol(*c) {
		case X, O:
			out[i] = Symbol(*c)
		default:
			return fmt.Errorf("decoding board: invalid cell %d value %q", i, *c)
		}
	}
	*b = out
	return nil
}
