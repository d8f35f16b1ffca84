package sequence

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func lossOf(p *params, xs []*mat.VecDense, eps []float64, label int, klWeight float64) float64 {
	ps := p.forward(xs, nil, eps)
	return -math.Log(ps.probs[label]+1e-12) + klWeight*klDivergence(ps.mu, ps.lv)
}

func TestBackward_MatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	p := newParams(3, 4, 2, rng)
	// non-trivial biases so every path carries gradient
	for _, b := range []*mat.Dense{p.Bh, p.Bmu, p.Blv, p.Bo} {
		xavier(b, rng)
	}
	xs := []*mat.VecDense{
		mat.NewVecDense(3, []float64{0.5, -1, 0.2}),
		mat.NewVecDense(3, []float64{1.2, 0.3, -0.7}),
		mat.NewVecDense(3, []float64{-0.4, 0.8, 1.1}),
	}
	eps := []float64{0.7, -1.3}
	const label, beta = classDown, 0.1

	g := zeroParams(3, 4, 2)
	p.backward(p.forward(xs, nil, eps), label, beta, g)

	const h = 1e-6
	grads := g.list()
	for pi, w := range p.list() {
		data := w.RawMatrix().Data
		for j := range data {
			orig := data[j]
			data[j] = orig + h
			up := lossOf(p, xs, eps, label, beta)
			data[j] = orig - h
			down := lossOf(p, xs, eps, label, beta)
			data[j] = orig
			num := (up - down) / (2 * h)
			ana := grads[pi].RawMatrix().Data[j]
			assert.InDelta(t, num, ana, 1e-5+1e-3*math.Abs(num), "param %d index %d", pi, j)
		}
	}
}

func TestKLDivergence(t *testing.T) {
	zero := mat.NewVecDense(2, nil)
	assert.InDelta(t, 0.0, klDivergence(zero, zero), 1e-12)

	mu := mat.NewVecDense(2, []float64{1, -1})
	lv := mat.NewVecDense(2, []float64{0, 0})
	// -0.5 * ((1+0-1-1) + (1+0-1-1)) = 1
	assert.InDelta(t, 1.0, klDivergence(mu, lv), 1e-12)

	lv = mat.NewVecDense(2, []float64{math.Log(2), math.Log(2)})
	assert.InDelta(t, 2.0, uncertainty(lv), 1e-12)
}

func TestSoftmaxAndEntropy(t *testing.T) {
	p := softmax([]float64{1000, 1000, 1000})
	for _, v := range p {
		assert.InDelta(t, 1.0/3, v, 1e-12)
	}
	assert.InDelta(t, math.Log(3), entropy(p), 1e-12)
	assert.Equal(t, 0.0, entropy([]float64{1, 0, 0}))
}

func TestDropoutMask_Scaled(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	m := dropoutMask(1000, 0.2, rng)
	kept := 0
	for i := 0; i < m.Len(); i++ {
		v := m.AtVec(i)
		if v != 0 {
			kept++
			require.InDelta(t, 1.25, v, 1e-12)
		}
	}
	assert.InDelta(t, 800, kept, 60)
}
