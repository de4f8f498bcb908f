package omr

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ironsheep/omr-grader-mcp/internal/grid"
	"github.com/ironsheep/omr-grader-mcp/internal/omrerr"
)

// sheetOf builds an assembled sheet where each answer is a column index, or
// -1 for an unshaded row, and the index is a digit string.
func sheetOf(answers []int, index string) *grid.Sheet {
	s := &grid.Sheet{
		Answers: grid.Grid{Kind: grid.KindAnswers},
		Index:   grid.Grid{Kind: grid.KindIndex},
	}
	for i, col := range answers {
		r := grid.Row{Number: i + 1}
		if col >= 0 {
			r.Marks = []grid.Placed{{Col: col, Confidence: 0.9}}
		}
		s.Answers.Rows = append(s.Answers.Rows, r)
	}
	for i, c := range index {
		r := grid.Row{Number: i + 1}
		if c >= '0' && c <= '9' {
			r.Marks = []grid.Placed{{Col: int(c - '0'), Confidence: 0.9}}
		}
		s.Index.Rows = append(s.Index.Rows, r)
	}
	return s
}

func TestRoundTrip_KeyThenScript(t *testing.T) {
	res := NewResolver(DefaultMargin)

	key := res.Read(sheetOf([]int{0, 1, 2, 3}, "00001"), "t1")
	scheme, err := BuildScheme(key)
	if err != nil {
		t.Fatalf("BuildScheme: %v", err)
	}
	want := map[int]Symbol{1: "A", 2: "B", 3: "C", 4: "D"}
	if !reflect.DeepEqual(scheme.Answers, want) {
		t.Fatalf("scheme: got %v, want %v", scheme.Answers, want)
	}
	if scheme.SourceRecord != key.ID {
		t.Error("scheme should reference the key-sheet record")
	}

	script := res.Read(sheetOf([]int{0, 1, -1, 3}, "12345"), "t1")
	if got := Join(script.AnswerList()); got != "ABXD" {
		t.Fatalf("script answers: got %s, want ABXD", got)
	}

	result, err := Grade(script, scheme)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if result.Score != 3 || result.OutOf != 4 {
		t.Errorf("score: got %d/%d, want 3/4", result.Score, result.OutOf)
	}
	if got := result.Correctness(); !reflect.DeepEqual(got, []bool{true, true, false, true}) {
		t.Errorf("correctness: got %v", got)
	}
	if result.IndexNumber != "12345" || result.RecordID != script.ID {
		t.Errorf("result identity: %+v", result)
	}
}

func TestGrade_Idempotent(t *testing.T) {
	res := NewResolver(DefaultMargin)
	scheme, err := BuildScheme(res.Read(sheetOf([]int{0, 4, 2, 2, 1}, "1"), "t"))
	if err != nil {
		t.Fatal(err)
	}
	scheme.Version = 3
	script := res.Read(sheetOf([]int{0, 3, 2, -1, 1}, "7"), "t")

	a, err := Grade(script, scheme)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Grade(script, scheme)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("grading twice differs:\n%+v\n%+v", a, b)
	}
	if a.SchemeVersion != 3 || a.Score != 3 {
		t.Errorf("got version %d score %d, want 3 and 3", a.SchemeVersion, a.Score)
	}
}

func TestGrade_SentinelsNeverCorrect(t *testing.T) {
	scheme := &MarkScheme{TestID: "t", Questions: 2, Answers: map[int]Symbol{1: "A", 2: "B"}}
	rec := &AnswerRecord{TestID: "t", Questions: 2, Answers: map[int]Symbol{1: Ambiguous, 2: Blank}}

	result, err := Grade(rec, scheme)
	if err != nil {
		t.Fatal(err)
	}
	if result.Score != 0 {
		t.Errorf("score: got %d, want 0", result.Score)
	}
}

func TestGrade_NoScheme(t *testing.T) {
	rec := &AnswerRecord{TestID: "t", Questions: 1, Answers: map[int]Symbol{1: "A"}}
	result, err := Grade(rec, nil)
	if !errors.Is(err, omrerr.ErrNoSchemeYet) {
		t.Fatalf("expected NoSchemeYet, got %v", err)
	}
	if result != nil {
		t.Error("no result should be produced without a scheme")
	}
}

func TestGrade_ShorterRecordCountsMissingAsBlank(t *testing.T) {
	scheme := &MarkScheme{TestID: "t", Questions: 3, Answers: map[int]Symbol{1: "A", 2: "B", 3: "C"}}
	rec := &AnswerRecord{TestID: "t", Questions: 2, Answers: map[int]Symbol{1: "A", 2: "B"}}

	result, err := Grade(rec, scheme)
	if err != nil {
		t.Fatal(err)
	}
	if result.Score != 2 || result.OutOf != 3 || result.Correct[3] {
		t.Errorf("got %+v", result)
	}
}

func TestBuildScheme_Incomplete(t *testing.T) {
	res := NewResolver(DefaultMargin)
	s := sheetOf([]int{0, 1, -1, 3, 0}, "1")
	s.Answers.Rows[4].Marks = append(s.Answers.Rows[4].Marks, grid.Placed{Col: 2, Confidence: 0.88})

	scheme, err := BuildScheme(res.Read(s, "t"))
	if !errors.Is(err, omrerr.ErrIncompleteScheme) {
		t.Fatalf("expected IncompleteScheme, got %v", err)
	}
	if scheme != nil {
		t.Error("no scheme should be built")
	}
	if got := omrerr.QuestionsOf(err); !reflect.DeepEqual(got, []int{3, 5}) {
		t.Errorf("offending questions: got %v, want [3 5]", got)
	}
}

func TestBuildScheme_SingleBlank(t *testing.T) {
	rec := NewResolver(DefaultMargin).Read(sheetOf([]int{0, 1, -1, 3}, "1"), "t")
	_, err := BuildScheme(rec)
	if got := omrerr.QuestionsOf(err); !reflect.DeepEqual(got, []int{3}) {
		t.Errorf("offending questions: got %v, want [3]", got)
	}
}

func TestRead_Warnings(t *testing.T) {
	s := sheetOf([]int{0, 1, 2}, "1M3")
	s.Answers.Rows[1] = grid.Row{Number: 2, Invalid: true}
	s.Answers.Mismatched = []int{2}

	rec := NewResolver(DefaultMargin).Read(s, "t")

	if rec.Answer(2) != Ambiguous {
		t.Errorf("invalid row should read as M, got %q", rec.Answer(2))
	}
	if !rec.HasWarning(omrerr.KindLayoutMismatch) || !rec.HasWarning(omrerr.KindIndexIncomplete) {
		t.Errorf("warnings: got %+v", rec.Warnings)
	}
	if rec.IndexStatus != IndexIncomplete || rec.IndexNumber != "" || rec.IndexRaw != "1X3" {
		t.Errorf("index: status %s number %q raw %q", rec.IndexStatus, rec.IndexNumber, rec.IndexRaw)
	}
	for _, w := range rec.Warnings {
		if w.Kind == omrerr.KindLayoutMismatch && !reflect.DeepEqual(w.Questions, []int{2}) {
			t.Errorf("layout warning questions: got %v", w.Questions)
		}
		if w.Kind == omrerr.KindIndexIncomplete {
			if w.Questions != nil || !reflect.DeepEqual(w.Positions, []int{2}) {
				t.Errorf("index warning should name positions: questions %v positions %v", w.Questions, w.Positions)
			}
		}
	}
}

func TestRead_NewIDPerSubmission(t *testing.T) {
	res := NewResolver(DefaultMargin)
	s := sheetOf([]int{0}, "1")
	a, b := res.Read(s, "t"), res.Read(s, "t")
	if a.ID == b.ID {
		t.Error("each reading should get a fresh id")
	}
	if a.IndexStatus != IndexComplete || a.IndexNumber != "1" {
		t.Errorf("index: got %s %q", a.IndexStatus, a.IndexNumber)
	}
}
