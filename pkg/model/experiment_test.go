package model_test

import (
	"math"
	"testing"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestPerformanceScore(t *testing.T) {
	sol := func(v float64) *float64 { return &v }

	t.Run("no liquid scores zero", func(t *testing.T) {
		r := &model.ExperimentResult{IsLiquidFormed: false, Solubility: sol(50)}
		gt.Equal(t, r.PerformanceScore(), 0.0)
	})

	t.Run("liquid without solubility gets the base score", func(t *testing.T) {
		r := &model.ExperimentResult{IsLiquidFormed: true}
		gt.Equal(t, r.PerformanceScore(), 2.0)
	})

	t.Run("half-gain point", func(t *testing.T) {
		r := &model.ExperimentResult{IsLiquidFormed: true, Solubility: sol(25)}
		gt.Equal(t, r.PerformanceScore(), 6.0)
	})

	t.Run("saturates below the maximum", func(t *testing.T) {
		r := &model.ExperimentResult{IsLiquidFormed: true, Solubility: sol(1e9)}
		score := r.PerformanceScore()
		gt.True(t, score > 9.9)
		gt.True(t, score <= 10.0)
	})

	t.Run("monotonic in solubility", func(t *testing.T) {
		prev := -1.0
		for _, s := range []float64{0, 1, 5, 10, 50, 100, 500} {
			r := &model.ExperimentResult{IsLiquidFormed: true, Solubility: sol(s)}
			score := r.PerformanceScore()
			gt.True(t, score >= prev)
			prev = score
		}
	})

	t.Run("negative solubility treated as zero", func(t *testing.T) {
		r := &model.ExperimentResult{IsLiquidFormed: true, Solubility: sol(-3)}
		gt.True(t, math.Abs(r.PerformanceScore()-2.0) < 1e-9)
	})
}
