package match

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSymbolOpponent(t *testing.T) {
	assert.Equal(t, O, X.Opponent())
	assert.Equal(t, X, O.Opponent())
	assert.Equal(t, Empty, Empty.Opponent())
}

func TestEvaluateEveryLine(t *testing.T) {
	for _, l := range lines {
		for _, s := range []Symbol{X, O} {
			var b Board
			for _, i := range l {
				b[i] = s
			}
			assert.Equal(t, Result(s), Evaluate(b), "line %v symbol %s", l, s)
		}
	}
}

func TestEvaluateEmptyAndPartial(t *testing.T) {
	assert.Equal(t, ResultNone, Evaluate(Board{}))
	assert.Equal(t, ResultNone, Evaluate(Board{X, O, X}))
}

func TestEvaluateDraw(t *testing.T) {
	b := Board{
		X, O, X,
		X, O, O,
		O, X, X,
	}
	assert.Equal(t, ResultDraw, Evaluate(b))
}

func TestEvaluateWinOnFullBoard(t *testing.T) {
	b := Board{
		X, X, X,
		O, O, X,
		X, O, O,
	}
	assert.Equal(t, ResultX, Evaluate(b))
}

func TestBoardMarshalJSON(t *testing.T) {
	b := Board{X, Empty, O}
	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `["X",null,"O",null,null,null,null,null,null]`, string(data))
}

func TestBoardUnmarshalJSON(t *testing.T) {
	var b Board
	require.NoError(t, json.Unmarshal([]byte(`[null,"X",null,null,"O",null,null,null,null]`), &b))
	assert.Equal(t, Board{Empty, X, Empty, Empty, O}, b)

	assert.Error(t, json.Unmarshal([]byte(`[null]`), &b))
	assert.Error(t, json.Unmarshal([]byte(`["Z",null,null,null,null,null,null,null,null]`), &b))
}

func drawBoard(t *rapid.T) Board {
	var b Board
	for i := range b {
		b[i] = rapid.SampledFrom([]Symbol{Empty, X, O}).Draw(t, "cell")
	}
	return b
}

// Property: a full board with no completed line is always a draw, and a draw
// is only reported for full boards.
func TestPropertyDrawIffFullWithoutLine(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBoard(t)
		completed := false
		for _, l := range lines {
			if b[l[0]] != Empty && b[l[0]] == b[l[1]] && b[l[0]] == b[l[2]] {
				completed = true
			}
		}
		got := Evaluate(b)
		if completed && (got != ResultX && got != ResultO) {
			t.Fatalf("board %v has a completed line but Evaluate = %q", b, got)
		}
		if !completed && b.Full() && got != ResultDraw {
			t.Fatalf("full board %v without line: Evaluate = %q", b, got)
		}
		if !completed && !b.Full() && got != ResultNone {
			t.Fatalf("open board %v: Evaluate = %q", b, got)
		}
	})
}

func TestPropertyBoardJSONPreservesCells(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBoard(t)
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		var got Board
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if got != b {
			t.Fatalf("got %v, want %v", got, b)
		}
	})
}
