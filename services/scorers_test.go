package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

type staticGenerator struct {
	reply string
	err   error
}

func (g *staticGenerator) Complete(ctx context.Context, prompt string, opts GenerationOptions) (string, error) {
	return g.reply, g.err
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		reply string
		want  float64
		ok    bool
	}{
		{"0.8", 0.8, true},
		{"Score: 0.75", 0.75, true},
		{"The score is 0.9.", 0.9, true},
		{"1", 1, true},
		{"(0.25)", 0.25, true},
		{"I cannot judge this", 0, false},
		{"", 0, false},
	}

	for _, tc := range cases {
		got, err := parseScore(tc.reply)
		if tc.ok {
			if err != nil {
				t.Fatalf("%q: unexpected error: %v", tc.reply, err)
			}
			if got != tc.want {
				t.Fatalf("%q: expected %v, got %v", tc.reply, tc.want, got)
			}
		} else if err == nil {
			t.Fatalf("%q: expected parse error, got %v", tc.reply, got)
		}
	}
}

func TestSafeMetricClampsAndRejects(t *testing.T) {
	if v, err := safeMetric("m", 1.7, nil); err != nil || *v != 1 {
		t.Fatalf("expected clamp to 1, got %v / %v", v, err)
	}
	if v, err := safeMetric("m", -0.3, nil); err != nil || *v != 0 {
		t.Fatalf("expected clamp to 0, got %v / %v", v, err)
	}
	if v, err := safeMetric("m", 0.42, nil); err != nil || *v != 0.42 {
		t.Fatalf("expected passthrough, got %v / %v", v, err)
	}

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		v, err := safeMetric("m", bad, nil)
		if v != nil {
			t.Fatalf("non-finite %v must map to nil, got %v", bad, *v)
		}
		var se *ScoringError
		if !errors.As(err, &se) {
			t.Fatalf("expected ScoringError for %v, got %T", bad, err)
		}
	}

	v, err := safeMetric("m", 0.5, errors.New("boom"))
	if v != nil || err == nil {
		t.Fatalf("scorer error must map to nil metric")
	}
}

func TestJudgeScoresMetric(t *testing.T) {
	scorer := NewMetricScorer(&staticGenerator{reply: "0.85"})

	v, err := scorer.Faithfulness(context.Background(), "answer", []string{"ctx"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *v != 0.85 {
		t.Fatalf("expected 0.85, got %v", *v)
	}
}

func TestJudgeGeneratorFailure(t *testing.T) {
	scorer := NewMetricScorer(&staticGenerator{err: errors.New("circuit open")})

	v, err := scorer.AnswerRelevancy(context.Background(), "q", "a")
	if v != nil {
		t.Fatalf("expected nil metric on generator failure")
	}
	var se *ScoringError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScoringError, got %T: %v", err, err)
	}
	if se.Metric != "answer_relevancy" {
		t.Fatalf("wrong metric tag: %s", se.Metric)
	}
}

func TestJoinContexts(t *testing.T) {
	if joinContexts(nil) != "(none)" {
		t.Fatalf("empty contexts must render a placeholder")
	}
	joined := joinContexts([]string{"alpha", "beta"})
	for _, want := range []string{"Context 1:", "alpha", "Context 2:", "beta"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("joined contexts missing %q: %q", want, joined)
		}
	}
}
